package jobsync

import (
	"context"

	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// Stream is one open live update channel.
type Stream interface {
	Events() <-chan jobapi.Event
	Err() error
	Close()
}

// Source is what the syncer reads from: the job list and per-job streams.
type Source interface {
	ListJobs(ctx context.Context) ([]types.Job, error)
	OpenStream(ctx context.Context, jobID string) (Stream, error)
}

type clientSource struct {
	client *jobapi.Client
}

// FromClient adapts a jobapi client to Source.
func FromClient(client *jobapi.Client) Source {
	return clientSource{client: client}
}

func (s clientSource) ListJobs(ctx context.Context) ([]types.Job, error) {
	return s.client.ListJobs(ctx)
}

func (s clientSource) OpenStream(ctx context.Context, jobID string) (Stream, error) {
	st, err := s.client.OpenStream(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return st, nil
}
