package jobapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

const (
	defaultEventName = "message"
	maxEventLineSize = 1024 * 1024
)

// ErrStreamEnded is reported by Stream.Err when the server closed the connection.
var ErrStreamEnded = errors.New("event stream closed by server")

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data string
	ID   string
}

// Stream is the live update channel of one job.
type Stream struct {
	jobID  string
	body   io.ReadCloser
	cancel context.CancelFunc
	events chan Event

	closeOnce sync.Once
	closed    chan struct{}

	mu  sync.Mutex
	err error
}

// OpenStream connects to the job's event stream. It returns once the server accepted the request.
// GET /api/jobs/{id}/stream
func (c *Client) OpenStream(ctx context.Context, jobID string) (*Stream, error) {
	if jobID == "" {
		return nil, fmt.Errorf("invalid parameters: job id must not be empty")
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tool.BuildStreamURL(c.baseURL, jobID), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, &NetworkError{Op: "stream", Err: fmt.Errorf("failed to open stream for %s: %w", jobID, err)}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		netErr := statusError("stream", resp)
		resp.Body.Close()
		cancel()
		return nil, netErr
	}

	s := &Stream{
		jobID:  jobID,
		body:   resp.Body,
		cancel: cancel,
		events: make(chan Event),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	tool.DefaultLogger.Debugf("Opened event stream for job %s", jobID)
	return s, nil
}

// JobID returns the job this stream belongs to.
func (s *Stream) JobID() string {
	return s.jobID
}

// Events yields events in receipt order. The channel closes when the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err reports why Events closed: nil after Close, ErrStreamEnded or a transport error otherwise.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the connection down. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Stream) readLoop() {
	err := ReadEvents(s.body, func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-s.closed:
			return false
		}
	})
	if closeErr := s.body.Close(); closeErr != nil {
		tool.DefaultLogger.Debugf("Failed to close stream body for %s: %v", s.jobID, closeErr)
	}

	switch {
	case s.isClosed():
		err = nil
	case err == nil:
		err = ErrStreamEnded
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

// ReadEvents parses a text/event-stream body and calls emit for every dispatched event.
// It stops early when emit returns false. A clean EOF returns nil.
func ReadEvents(r io.Reader, emit func(Event) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)

	var (
		name string
		id   string
		data strings.Builder
		has  bool
	)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if has {
				ev := Event{Name: name, Data: data.String(), ID: id}
				if ev.Name == "" {
					ev.Name = defaultEventName
				}
				if !emit(ev) {
					return nil
				}
			}
			name, has = "", false
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if has {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			has = true
		case "id":
			id = value
		}
	}
	return scanner.Err()
}

// DecodeProgress parses a "progress" payload.
func DecodeProgress(data string) (types.JobProgressMessage, error) {
	var msg types.JobProgressMessage
	if err := sonic.UnmarshalString(data, &msg); err != nil {
		return msg, &ParseError{Event: types.StreamEventProgress, Data: data, Err: err}
	}
	if msg.JobID == "" {
		return msg, &ParseError{Event: types.StreamEventProgress, Data: data, Err: errors.New("missing jobId")}
	}
	return msg, nil
}

// DecodeDone parses a "done" payload.
func DecodeDone(data string) (types.JobDoneMessage, error) {
	var msg types.JobDoneMessage
	if err := sonic.UnmarshalString(data, &msg); err != nil {
		return msg, &ParseError{Event: types.StreamEventDone, Data: data, Err: err}
	}
	if msg.JobID == "" {
		return msg, &ParseError{Event: types.StreamEventDone, Data: data, Err: errors.New("missing jobId")}
	}
	return msg, nil
}
