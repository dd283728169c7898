package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// AdapterFactory builds the adapter for a submitted task
type AdapterFactory func(cfg translate.Config) (translate.Adapter, error)

// Sink persists the translated document of a completed task and returns
// where it was written
type Sink interface {
	Save(ctx context.Context, taskID, name string, doc *subtitle.Document) (string, error)
}

// Options configure a Manager. Zero values select defaults.
type Options struct {
	MaxConcurrent int
	// Retention is how long a finished task stays in memory
	Retention time.Duration
	// HistoryRetention is how long finished tasks stay in the store; zero
	// keeps them forever
	HistoryRetention time.Duration
	GCInterval       time.Duration
	EventBuffer      int

	Store      *Store
	Sink       Sink
	Limiter    *translate.Limiter
	Logger     *zap.Logger
	NewAdapter AdapterFactory
	// Sleeper replaces the retry backoff wait, mostly for tests
	Sleeper func(context.Context, time.Duration) error
}

// Manager queues translation tasks and runs them on a bounded pool of
// workers, publishing lifecycle events for each
type Manager struct {
	opts   Options
	logger *zap.Logger
	pub    *Publisher

	mu    sync.RWMutex
	tasks map[string]*entry

	// pending is the FIFO of queued task ids; wake signals idle workers
	qmu     sync.Mutex
	pending []string
	wake    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// entry is the in-memory state of one task. mu orders every mutation,
// its persistence and the matching event.
type entry struct {
	mu              sync.Mutex
	task            Task
	req             Request
	adapter         translate.Adapter
	cancel          context.CancelFunc
	cancelRequested bool
	result          *Result
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 2
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("component", "job"))
	if opts.NewAdapter == nil {
		opts.NewAdapter = func(cfg translate.Config) (translate.Adapter, error) {
			return translate.New(cfg, translate.WithLogger(opts.Logger))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		logger: logger,
		pub:    NewPublisher(opts.EventBuffer),
		wake:   make(chan struct{}, 1),
		tasks:  make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start marks tasks left unfinished by a previous process as failed and
// launches the workers and the retention collector
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		if m.opts.Store != nil {
			n, merr := m.opts.Store.MarkInterrupted(ctx)
			if merr != nil {
				err = fmt.Errorf("mark interrupted tasks: %w", merr)
				return
			}
			if n > 0 {
				m.logger.Info("marked interrupted tasks as failed", zap.Int64("count", n))
			}
		}
		for i := 0; i < m.opts.MaxConcurrent; i++ {
			m.wg.Add(1)
			go m.worker()
		}
		m.wg.Add(1)
		go m.gcLoop()
		m.logger.Info("task manager started", zap.Int("workers", m.opts.MaxConcurrent))
	})
	return err
}

// Stop cancels running tasks, waits for the workers to exit and cancels
// every task still queued
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.RLock()
	pending := make([]*entry, 0)
	for _, e := range m.tasks {
		pending = append(pending, e)
	}
	m.mu.RUnlock()

	for _, e := range pending {
		e.mu.Lock()
		if e.task.State == StateQueued {
			m.finishLocked(e, StateCancelled, m.cancelledResult(e), "task manager stopped")
		}
		e.mu.Unlock()
	}
}

// Submit validates req, builds its adapter and queues the task
func (m *Manager) Submit(ctx context.Context, req Request) (*Task, error) {
	if m.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if req.Document == nil || len(req.Document.Entries) == 0 {
		return nil, fmt.Errorf("%w: document has no entries", ErrInvalidInput)
	}
	if req.Params.TargetLanguage == "" {
		return nil, fmt.Errorf("%w: target language is required", ErrInvalidInput)
	}
	adapter, err := m.opts.NewAdapter(req.Backend)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Params.SourceLanguage == "" {
		req.Params.SourceLanguage = translate.DetectSourceLang(req.Name)
	}
	if req.Params.Retry.MaxAttempts == 0 {
		req.Params.Retry = req.Backend.Retry
	}

	e := &entry{
		req:     req,
		adapter: adapter,
		task: Task{
			ID:             uuid.New().String(),
			Name:           req.Name,
			State:          StateQueued,
			Entries:        len(req.Document.Entries),
			Backend:        string(adapter.Kind()),
			Model:          req.Backend.Model,
			SourceLanguage: req.Params.SourceLanguage,
			TargetLanguage: req.Params.TargetLanguage,
			OwnerID:        req.OwnerID,
			CreatedAt:      time.Now().UTC(),
		},
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Insert(ctx, &e.task); err != nil {
			return nil, err
		}
	}

	m.pub.Open(e.task.ID)
	m.mu.Lock()
	m.tasks[e.task.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.pub.Publish(Event{Type: EventState, TaskID: e.task.ID, State: StateQueued})
	m.enqueue(e.task.ID)

	m.logger.Info("task queued",
		zap.String("task_id", e.task.ID),
		zap.String("name", req.Name),
		zap.String("backend", e.task.Backend),
		zap.Int("entries", e.task.Entries),
	)
	t := e.task
	return &t, nil
}

// Get returns a snapshot of a task
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	if e := m.entry(id); e != nil {
		e.mu.Lock()
		t := e.task
		e.mu.Unlock()
		return &t, nil
	}
	if m.opts.Store != nil {
		return m.opts.Store.Get(ctx, id)
	}
	return nil, ErrNotFound
}

// List returns tasks newest first. ownerID 0 lists every owner.
func (m *Manager) List(ctx context.Context, ownerID int64) ([]*Task, error) {
	byID := make(map[string]*Task)
	var order []*Task
	if m.opts.Store != nil {
		stored, err := m.opts.Store.List(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, t := range stored {
			byID[t.ID] = t
			order = append(order, t)
		}
	}

	m.mu.RLock()
	for id, e := range m.tasks {
		e.mu.Lock()
		t := e.task
		e.mu.Unlock()
		if ownerID != 0 && t.OwnerID != ownerID {
			continue
		}
		if existing, ok := byID[id]; ok {
			*existing = t
			continue
		}
		order = append(order, &t)
	}
	m.mu.RUnlock()

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].CreatedAt.After(order[j].CreatedAt)
	})
	if order == nil {
		order = []*Task{}
	}
	return order, nil
}

// Result returns the output of a finished task
func (m *Manager) Result(ctx context.Context, id string) (*Result, error) {
	if e := m.entry(id); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.task.State.Terminal() || e.result == nil {
			return nil, ErrNotFinished
		}
		return e.result, nil
	}
	if m.opts.Store != nil {
		return m.opts.Store.Result(ctx, id)
	}
	return nil, ErrNotFound
}

// Cancel stops a task. A queued task is cancelled at once; a running task
// stops dispatching batches and finishes with the batches already done.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	e := m.entry(id)
	if e == nil {
		if m.opts.Store == nil {
			return ErrNotFound
		}
		t, err := m.opts.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: task is %s", ErrInvalidTransition, t.State)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.State.Terminal() {
		return fmt.Errorf("%w: task is %s", ErrInvalidTransition, e.task.State)
	}
	e.cancelRequested = true
	if e.cancel == nil {
		m.finishLocked(e, StateCancelled, m.cancelledResult(e), "cancelled before start")
		return nil
	}
	e.cancel()
	m.logger.Info("task cancellation requested", zap.String("task_id", id))
	return nil
}

// Subscribe streams the events of a task. The returned function ends the
// subscription early.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	if m.entry(id) != nil {
		// the task may be released between the lookup and the subscribe
		if ch, stop, ok := m.pub.Subscribe(id); ok {
			return ch, stop, nil
		}
	}
	if m.opts.Store == nil {
		return nil, nil, ErrNotFound
	}
	t, err := m.opts.Store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// the task finished before this process, or was released; replay
	// its outcome from the store
	ev := Event{TaskID: t.ID, State: t.State, Progress: t.Progress, Message: t.Error}
	switch t.State {
	case StateCompleted:
		ev.Type = EventCompleted
		if res, err := m.opts.Store.Result(ctx, id); err == nil {
			ev.Results = res.Entries
			ev.Message = res.Warning
		}
	case StateCancelled:
		ev.Type = EventCancelled
	default:
		ev.Type = EventFailed
	}
	ch := make(chan Event, 1)
	ch <- ev
	close(ch)
	return ch, func() {}, nil
}

// Release drops a finished task from memory once its terminal event has
// been delivered. The stored copy, if any, is kept.
func (m *Manager) Release(id string) {
	e := m.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	terminal := e.task.State.Terminal()
	e.mu.Unlock()
	if terminal {
		m.remove(id)
	}
}

func (m *Manager) entry(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[id]
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()
	m.pub.Remove(id)
}

func (m *Manager) enqueue(id string) {
	m.qmu.Lock()
	m.pending = append(m.pending, id)
	m.qmu.Unlock()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued id and passes the wake-up on to another
// worker while work remains
func (m *Manager) dequeue() (string, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	id := m.pending[0]
	m.pending[0] = ""
	m.pending = m.pending[1:]
	if len(m.pending) > 0 {
		m.signal()
	}
	return id, true
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		if m.ctx.Err() != nil {
			return
		}
		if id, ok := m.dequeue(); ok {
			m.process(id)
			continue
		}
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
	}
}

// process runs one task to a terminal state
func (m *Manager) process(id string) {
	e := m.entry(id)
	if e == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	e.mu.Lock()
	if e.task.State != StateQueued {
		e.mu.Unlock()
		return
	}
	e.cancel = cancel
	now := time.Now().UTC()
	e.task.StartedAt = &now
	e.mu.Unlock()

	logger := m.logger.With(zap.String("task_id", id))
	logger.Info("task started", zap.String("backend", e.task.Backend))

	orch := pipeline.New(e.adapter,
		pipeline.WithLimiter(m.opts.Limiter),
		pipeline.WithLogger(logger),
		pipeline.WithSleeper(m.opts.Sleeper),
	)
	hooks := pipeline.Hooks{
		Stage:    func(s pipeline.Stage) { m.advance(e, State(s)) },
		Progress: func(completed, total int) { m.progress(e, completed, total) },
	}
	out, err := orch.TranslateDocument(ctx, e.req.Document, e.req.Params, hooks)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		res := buildResult(id, e.req.Document, untranslatedResults(e.req.Document, "invalid_input"), e.req.OutputFormat)
		m.finishLocked(e, StateFailed, res, fmt.Errorf("%w: %v", ErrTaskFatal, err).Error())
		return
	}

	outcome := out.Outcome
	e.task.CompletedBatches = outcome.CompletedBatches
	e.task.TotalBatches = outcome.TotalBatches
	e.task.FailedBatches = outcome.FailedBatches

	res := buildResult(id, out.Document, outcome.Results, e.req.OutputFormat)
	res.Failures = outcome.Failures
	outErr := outcome.Err()

	switch {
	case e.cancelRequested || outcome.Cancelled:
		m.finishLocked(e, StateCancelled, res, "cancelled")
	case errors.Is(outErr, pipeline.ErrAllBatchesFailed):
		m.finishLocked(e, StateFailed, res, fmt.Errorf("%w: %v", ErrTaskFatal, outErr).Error())
	default:
		if outErr != nil {
			res.Warning = outErr.Error()
		}
		if m.opts.Sink != nil {
			doc := subtitle.Convert(out.Document, res.Format)
			path, err := m.opts.Sink.Save(context.WithoutCancel(ctx), id, e.req.Name, doc)
			if err != nil {
				m.finishLocked(e, StateFailed, res, fmt.Sprintf("save output: %v", err))
				return
			}
			res.OutputPath = path
		}
		m.finishLocked(e, StateCompleted, res, "")
	}
}

// advance moves a running task to the next stage
func (m *Manager) advance(e *entry, next State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.task.State.CanTransition(next) {
		m.logger.Warn("ignoring state change",
			zap.String("task_id", e.task.ID),
			zap.String("from", string(e.task.State)),
			zap.String("to", string(next)),
		)
		return
	}
	e.task.State = next
	m.persist(e)
	m.pub.Publish(Event{Type: EventState, TaskID: e.task.ID, State: next, Progress: e.task.Progress})
}

// progress records a finished batch. Progress never decreases.
func (m *Manager) progress(e *entry, completed, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.State.Terminal() {
		return
	}
	if total > 0 {
		if p := float64(completed) / float64(total); p > e.task.Progress {
			e.task.Progress = p
		}
	}
	e.task.CompletedBatches = completed
	e.task.TotalBatches = total
	m.persist(e)
	m.pub.Publish(Event{Type: EventProgress, TaskID: e.task.ID, State: e.task.State, Progress: e.task.Progress})
}

// finishLocked moves e to a terminal state and publishes its final event.
// e.mu must be held.
func (m *Manager) finishLocked(e *entry, state State, res *Result, message string) {
	if !e.task.State.CanTransition(state) {
		return
	}
	now := time.Now().UTC()
	e.task.State = state
	e.task.CompletedAt = &now
	e.task.Error = message
	if state == StateCompleted {
		e.task.Progress = 1
		e.task.Error = ""
	}
	e.result = res
	m.persist(e)
	if res != nil && m.opts.Store != nil {
		if err := m.opts.Store.SaveResult(context.Background(), e.task.ID, res); err != nil {
			m.logger.Error("failed to store task result", zap.String("task_id", e.task.ID), zap.Error(err))
		}
	}

	ev := Event{TaskID: e.task.ID, State: state, Progress: e.task.Progress, Message: message}
	switch state {
	case StateCompleted:
		ev.Type = EventCompleted
		ev.Results = res.Entries
		ev.Message = res.Warning
	case StateCancelled:
		ev.Type = EventCancelled
	default:
		ev.Type = EventFailed
	}
	m.pub.Publish(ev)

	fields := []zap.Field{
		zap.String("task_id", e.task.ID),
		zap.String("state", string(state)),
		zap.Int("failed_batches", e.task.FailedBatches),
		zap.Int("total_batches", e.task.TotalBatches),
	}
	if state == StateFailed {
		m.logger.Warn("task finished", append(fields, zap.String("error", message))...)
		return
	}
	m.logger.Info("task finished", fields...)
}

func (m *Manager) persist(e *entry) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Update(context.Background(), &e.task); err != nil {
		m.logger.Error("failed to store task", zap.String("task_id", e.task.ID), zap.Error(err))
	}
}

func (m *Manager) cancelledResult(e *entry) *Result {
	doc := e.req.Document
	return buildResult(e.task.ID, doc, untranslatedResults(doc, pipeline.ReasonCancelled), e.req.OutputFormat)
}

func (m *Manager) gcLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.collect(now.UTC())
		}
	}
}

// collect evicts finished tasks older than the retention windows
func (m *Manager) collect(now time.Time) {
	var expired []string
	m.mu.RLock()
	for id, e := range m.tasks {
		e.mu.Lock()
		if e.task.State.Terminal() && e.task.CompletedAt != nil && now.Sub(*e.task.CompletedAt) >= m.opts.Retention {
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.remove(id)
	}
	if len(expired) > 0 {
		m.logger.Debug("evicted finished tasks", zap.Int("count", len(expired)))
	}

	if m.opts.Store != nil && m.opts.HistoryRetention > 0 {
		n, err := m.opts.Store.DeleteFinishedBefore(context.Background(), now.Add(-m.opts.HistoryRetention))
		if err != nil {
			m.logger.Error("failed to prune task history", zap.Error(err))
		} else if n > 0 {
			m.logger.Info("pruned task history", zap.Int64("count", n))
		}
	}
}
