// Package jobsync keeps a live in-memory mirror of the job list.
//
// A single loop goroutine owns the list, the open streams and the reconnect timers.
// Network calls and timers run elsewhere and hand their results back to the loop,
// so none of that state needs a lock. Only the published Snapshot is shared.
package jobsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// Mode selects how the list is kept fresh.
type Mode string

const (
	ModePush Mode = "push" // per-job event streams, refresh on demand
	ModePoll Mode = "poll" // fixed-interval refresh only
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("job syncer is closed")

// Options configures a Syncer. Zero values use the defaults.
type Options struct {
	Mode           Mode
	PollInterval   time.Duration
	ReconnectDelay time.Duration

	// OnChange runs on the loop goroutine after every state change. It must not block.
	OnChange func(Snapshot)
	// OnDone runs on the loop goroutine when a job reports a done message.
	OnDone func(types.Job)
}

// Snapshot is a copy of the synchronized state, safe to keep.
type Snapshot struct {
	Jobs      []types.Job `json:"jobs"`
	Loading   bool        `json:"loading"`
	Error     string      `json:"error,omitempty"`
	HasActive bool        `json:"hasActive"`
}

// Stats describes the live resources held by the loop.
type Stats struct {
	OpenStreams       int `json:"openStreams"`
	PendingReconnects int `json:"pendingReconnects"`
}

type Syncer struct {
	src  Source
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	events chan any
	done   chan struct{}
	start  sync.Once
	stop   sync.Once

	// owned by the loop goroutine
	jobs     []types.Job
	inFlight int
	errMsg   string
	streams  map[string]*streamHandle
	timers   map[string]*reconnectTimer

	mu   sync.RWMutex
	snap Snapshot
}

type streamHandle struct {
	jobID  string
	cancel context.CancelFunc
	stream Stream // nil until connected
}

type reconnectTimer struct {
	timer *time.Timer
}

// loop events
type (
	refreshRequest struct{ reply chan error }
	refreshResult  struct {
		jobs  []types.Job
		err   error
		reply chan error
	}
	streamOpened struct {
		h      *streamHandle
		stream Stream
	}
	streamMessage struct {
		h  *streamHandle
		ev jobapi.Event
	}
	streamFailed struct {
		h   *streamHandle
		err error
	}
	reconnectFired struct {
		jobID string
		t     *reconnectTimer
	}
	loopQuery struct {
		fn   func()
		done chan struct{}
	}
)

// New creates a Syncer. Call Start to begin syncing.
func New(src Source, opts Options) *Syncer {
	if opts.Mode == "" {
		opts.Mode = ModePush
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		src:     src,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan any, 64),
		done:    make(chan struct{}),
		jobs:    []types.Job{},
		streams: make(map[string]*streamHandle),
		timers:  make(map[string]*reconnectTimer),
		snap:    Snapshot{Jobs: []types.Job{}},
	}
}

// Start runs the loop and issues the initial refresh.
func (s *Syncer) Start() {
	s.start.Do(func() {
		go s.run()
	})
}

// Close stops the loop, closes every stream and cancels every pending reconnect.
func (s *Syncer) Close() {
	s.stop.Do(func() {
		s.cancel()
	})
	s.start.Do(func() {
		close(s.done)
	})
	<-s.done
}

// Refresh re-fetches the full job list and waits for the result.
func (s *Syncer) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(refreshRequest{reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Snapshot returns the last published state.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Jobs = append([]types.Job(nil), s.snap.Jobs...)
	return snap
}

// Stats reports how many streams and reconnect timers the loop currently holds.
func (s *Syncer) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.query(ctx, func() {
		st.OpenStreams = len(s.streams)
		st.PendingReconnects = len(s.timers)
	})
	return st, err
}

// Mode returns the configured sync mode.
func (s *Syncer) Mode() Mode {
	return s.opts.Mode
}

func (s *Syncer) query(ctx context.Context, fn func()) error {
	q := loopQuery{fn: fn, done: make(chan struct{})}
	if !s.post(q) {
		return ErrClosed
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// post hands ev to the loop. It reports false once the syncer is closing.
func (s *Syncer) post(ev any) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Syncer) run() {
	defer close(s.done)
	defer s.teardown()

	var tick <-chan time.Time
	if s.opts.Mode == ModePoll {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	tool.DefaultLogger.Debugf("Job syncer started in %s mode", s.opts.Mode)
	s.startRefresh(nil)
	s.publish()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			if s.inFlight == 0 {
				s.startRefresh(nil)
				s.publish()
			}
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Syncer) handle(ev any) {
	switch ev := ev.(type) {
	case refreshRequest:
		s.startRefresh(ev.reply)
		s.publish()
	case refreshResult:
		s.applyRefresh(ev)
	case streamOpened:
		if !s.isCurrent(ev.h) {
			ev.stream.Close()
			return
		}
		ev.h.stream = ev.stream
	case streamMessage:
		if !s.isCurrent(ev.h) {
			return
		}
		s.applyMessage(ev.h.jobID, ev.ev)
	case streamFailed:
		if !s.isCurrent(ev.h) {
			return
		}
		s.scheduleReconnect(ev.h.jobID, ev.err)
	case reconnectFired:
		s.fireReconnect(ev.jobID, ev.t)
	case loopQuery:
		ev.fn()
		close(ev.done)
	}
}

// startRefresh launches a list fetch. Results come back as refreshResult.
func (s *Syncer) startRefresh(reply chan error) {
	s.inFlight++
	s.errMsg = ""
	go func() {
		jobs, err := s.src.ListJobs(s.ctx)
		s.post(refreshResult{jobs: jobs, err: err, reply: reply})
	}()
}

func (s *Syncer) applyRefresh(res refreshResult) {
	s.inFlight--
	if res.err != nil {
		if !jobapi.IsCanceled(res.err) {
			s.errMsg = res.err.Error()
			tool.DefaultLogger.Warnf("Failed to refresh jobs: %v", res.err)
		}
	} else {
		s.jobs = SortNewestFirst(res.jobs)
		tool.DefaultLogger.Debugf("Refreshed %d jobs", len(s.jobs))
	}
	s.reconcile()
	s.publish()
	if res.reply != nil {
		res.reply <- res.err
	}
}

func (s *Syncer) applyMessage(streamJobID string, ev jobapi.Event) {
	switch ev.Name {
	case types.StreamEventProgress:
		msg, err := jobapi.DecodeProgress(ev.Data)
		if err != nil {
			tool.DefaultLogger.Warnf("Failed to parse progress payload on %s stream: %v", streamJobID, err)
			return
		}
		s.applyProgress(msg)
	case types.StreamEventDone:
		msg, err := jobapi.DecodeDone(ev.Data)
		if err != nil {
			tool.DefaultLogger.Warnf("Failed to parse done payload on %s stream: %v", streamJobID, err)
			s.startRefresh(nil)
			s.publish()
			return
		}
		s.applyDone(msg)
	default:
		tool.DefaultLogger.Debugf("Ignoring %q event on %s stream", ev.Name, streamJobID)
		return
	}
	s.reconcile()
	s.publish()
}

func (s *Syncer) applyProgress(msg types.JobProgressMessage) {
	if i := s.indexOf(msg.JobID); i >= 0 {
		job := s.jobs[i]
		job.Status = msg.Status
		job.TotalRows = msg.TotalRows
		job.ProcessedRows = msg.ProcessedRows
		job.SuccessCount = msg.SuccessCount
		job.FailedCount = msg.FailedCount
		if msg.CompletedAt != "" {
			job.CompletedAt = msg.CompletedAt
		}
		s.jobs[i] = job
		return
	}

	// The job is newer than the last list fetch.
	job := placeholderJob(msg)
	s.jobs = append([]types.Job{job}, s.jobs...)
	tool.DefaultLogger.Debugf("Progress for unknown job %s, inserted placeholder", msg.JobID)
	s.startRefresh(nil)
}

func (s *Syncer) applyDone(msg types.JobDoneMessage) {
	var finished *types.Job
	if i := s.indexOf(msg.JobID); i >= 0 {
		s.jobs[i].Status = msg.Status
		job := s.jobs[i]
		finished = &job
	}
	s.closeStream(msg.JobID)
	s.cancelTimer(msg.JobID)
	s.startRefresh(nil)

	tool.DefaultLogger.Infof("Job %s finished with status %s", msg.JobID, msg.Status)
	if finished != nil && s.opts.OnDone != nil {
		s.opts.OnDone(*finished)
	}
}

// scheduleReconnect drops the failed stream and retries after the reconnect delay.
func (s *Syncer) scheduleReconnect(jobID string, cause error) {
	tool.DefaultLogger.Warnf("Event stream for job %s dropped: %v, retrying in %s", jobID, cause, s.opts.ReconnectDelay)
	s.closeStream(jobID)
	s.cancelTimer(jobID)

	t := &reconnectTimer{}
	t.timer = time.AfterFunc(s.opts.ReconnectDelay, func() {
		s.post(reconnectFired{jobID: jobID, t: t})
	})
	s.timers[jobID] = t
}

func (s *Syncer) fireReconnect(jobID string, t *reconnectTimer) {
	if cur, ok := s.timers[jobID]; !ok || cur != t {
		return
	}
	delete(s.timers, jobID)

	// Status is read now, not when the timer was armed.
	i := s.indexOf(jobID)
	if i < 0 || !s.jobs[i].Status.IsActive() {
		tool.DefaultLogger.Debugf("Skipping reconnect for job %s, no longer active", jobID)
		return
	}
	if _, open := s.streams[jobID]; open {
		return
	}
	tool.DefaultLogger.Debugf("Reconnecting event stream for job %s", jobID)
	s.openStream(jobID)
}

// reconcile opens streams for active jobs and releases everything held for inactive ones.
func (s *Syncer) reconcile() {
	if s.opts.Mode != ModePush {
		return
	}
	active := make(map[string]struct{}, len(s.jobs))
	for _, job := range s.jobs {
		if !job.Status.IsActive() {
			continue
		}
		active[job.ID] = struct{}{}
		if _, open := s.streams[job.ID]; open {
			continue
		}
		if _, waiting := s.timers[job.ID]; waiting {
			continue
		}
		s.openStream(job.ID)
	}
	for jobID := range s.streams {
		if _, ok := active[jobID]; !ok {
			s.closeStream(jobID)
		}
	}
	for jobID := range s.timers {
		if _, ok := active[jobID]; !ok {
			s.cancelTimer(jobID)
		}
	}
}

func (s *Syncer) openStream(jobID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	h := &streamHandle{jobID: jobID, cancel: cancel}
	s.streams[jobID] = h
	go s.pump(ctx, h)
}

// pump connects and forwards events to the loop in receipt order.
func (s *Syncer) pump(ctx context.Context, h *streamHandle) {
	st, err := s.src.OpenStream(ctx, h.jobID)
	if err != nil {
		s.post(streamFailed{h: h, err: err})
		return
	}
	if !s.post(streamOpened{h: h, stream: st}) {
		st.Close()
		return
	}
	for ev := range st.Events() {
		if !s.post(streamMessage{h: h, ev: ev}) {
			st.Close()
			return
		}
	}
	err = st.Err()
	if err == nil {
		err = jobapi.ErrStreamEnded
	}
	s.post(streamFailed{h: h, err: err})
}

func (s *Syncer) isCurrent(h *streamHandle) bool {
	cur, ok := s.streams[h.jobID]
	return ok && cur == h
}

func (s *Syncer) closeStream(jobID string) {
	h, ok := s.streams[jobID]
	if !ok {
		return
	}
	delete(s.streams, jobID)
	h.cancel()
	if h.stream != nil {
		h.stream.Close()
	}
	tool.DefaultLogger.Debugf("Closed event stream for job %s", jobID)
}

func (s *Syncer) cancelTimer(jobID string) {
	t, ok := s.timers[jobID]
	if !ok {
		return
	}
	t.timer.Stop()
	delete(s.timers, jobID)
}

func (s *Syncer) teardown() {
	for jobID := range s.streams {
		s.closeStream(jobID)
	}
	for jobID := range s.timers {
		s.cancelTimer(jobID)
	}
	tool.DefaultLogger.Debugf("Job syncer stopped")
}

func (s *Syncer) indexOf(jobID string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == jobID {
			return i
		}
	}
	return -1
}

func (s *Syncer) publish() {
	snap := Snapshot{
		Jobs:      append([]types.Job(nil), s.jobs...),
		Loading:   s.inFlight > 0,
		Error:     s.errMsg,
		HasActive: HasActive(s.jobs),
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

// HasActive reports whether any job is still pending or processing.
func HasActive(jobs []types.Job) bool {
	for _, job := range jobs {
		if job.Status.IsActive() {
			return true
		}
	}
	return false
}

func placeholderJob(msg types.JobProgressMessage) types.Job {
	filename := msg.Filename
	if filename == "" {
		filename = "Job " + msg.JobID
	}
	createdAt := msg.CreatedAt
	if createdAt == "" {
		createdAt = types.FormatTimestamp(time.Now())
	}
	return types.Job{
		ID:            msg.JobID,
		Filename:      filename,
		Status:        msg.Status,
		TotalRows:     msg.TotalRows,
		ProcessedRows: msg.ProcessedRows,
		SuccessCount:  msg.SuccessCount,
		FailedCount:   msg.FailedCount,
		Errors:        []string{},
		CreatedAt:     createdAt,
		CompletedAt:   msg.CompletedAt,
	}
}

// SortNewestFirst returns a copy ordered by createdAt descending. Unparsable timestamps sort last.
func SortNewestFirst(jobs []types.Job) []types.Job {
	out := append([]types.Job(nil), jobs...)
	if out == nil {
		out = []types.Job{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := types.ParseTimestamp(out[i].CreatedAt)
		tj, _ := types.ParseTimestamp(out[j].CreatedAt)
		return ti.After(tj)
	})
	return out
}
