package job

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

type fakeAdapter struct {
	fn func(req translate.Request) (*translate.Response, error)
}

func (f *fakeAdapter) Name() string                 { return "fake" }
func (f *fakeAdapter) Kind() translate.Kind         { return "fake" }
func (f *fakeAdapter) EstimateLoad(text string) int { return len(text) }

func (f *fakeAdapter) TranslateBatch(ctx context.Context, req translate.Request) (*translate.Response, error) {
	if f.fn != nil {
		return f.fn(req)
	}
	return upper(req), nil
}

func upper(req translate.Request) *translate.Response {
	out := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		out[i] = "T:" + t
	}
	return &translate.Response{Translations: out}
}

type memorySink struct {
	mu    sync.Mutex
	saved map[string]*subtitle.Document
}

func (s *memorySink) Save(ctx context.Context, taskID, name string, doc *subtitle.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]*subtitle.Document)
	}
	s.saved[taskID] = doc
	return "out/" + name, nil
}

func testDocument(n int) *subtitle.Document {
	doc := &subtitle.Document{Format: subtitle.FormatSRT}
	for i := 1; i <= n; i++ {
		doc.Entries = append(doc.Entries, subtitle.Entry{
			ID:            strconv.Itoa(i),
			SequenceIndex: i,
			Start:         time.Duration(i) * time.Second,
			End:           time.Duration(i)*time.Second + 500*time.Millisecond,
			Text:          "line " + strconv.Itoa(i),
		})
	}
	return doc
}

func testRequest(n int) Request {
	return Request{
		Name:     "episode.ja.srt",
		Document: testDocument(n),
		Backend:  translate.Config{Kind: "fake", Model: "test"},
		Params: pipeline.Params{
			TargetLanguage: "fr",
			MaxEntries:     10,
			Parallelism:    1,
			Retry:          translate.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		},
	}
}

func newTestManager(t *testing.T, adapter translate.Adapter, opts Options) *Manager {
	t.Helper()
	opts.NewAdapter = func(cfg translate.Config) (translate.Adapter, error) {
		if cfg.Kind != "fake" {
			return nil, errors.New("unknown adapter kind")
		}
		return adapter, nil
	}
	opts.Sleeper = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	m := NewManager(opts)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB())
}

// drain reads events until the channel closes and returns them
func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(events))
			return nil
		}
	}
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateQueued.CanTransition(StateExtracting))
	assert.True(t, StateExtracting.CanTransition(StateTranslating))
	assert.True(t, StateTranslating.CanTransition(StateMerging))
	assert.True(t, StateMerging.CanTransition(StateCompleted))
	assert.True(t, StateQueued.CanTransition(StateCancelled))
	assert.True(t, StateTranslating.CanTransition(StateFailed))

	assert.False(t, StateQueued.CanTransition(StateTranslating))
	assert.False(t, StateTranslating.CanTransition(StateCompleted))
	assert.False(t, StateCompleted.CanTransition(StateFailed))
	assert.False(t, StateCancelled.CanTransition(StateQueued))
	assert.False(t, StateFailed.CanTransition(StateCancelled))
}

func TestEventWireFormat(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Type: EventProgress, TaskID: "t1", Progress: 0.4}, `{"percentage":40,"task_id":"t1","type":"progress"}`},
		{Event{Type: EventState, TaskID: "t1", State: StateMerging, Progress: 1}, `{"percentage":100,"state":"merging","task_id":"t1","type":"state"}`},
		{Event{Type: EventFailed, TaskID: "t1", Message: "boom"}, `{"message":"boom","task_id":"t1","type":"failed"}`},
		{Event{Type: EventCompleted, TaskID: "t1"}, `{"results":[],"task_id":"t1","type":"completed"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))
	}

	data, err := json.Marshal(Event{Type: EventCompleted, TaskID: "t1", Results: []ResultEntry{{ID: "1", Index: 1, Text: "Bonjour", Translated: true}}})
	require.NoError(t, err)
	var msg struct {
		Type    string        `json:"type"`
		Results []ResultEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "completed", msg.Type)
	require.Len(t, msg.Results, 1)
	assert.Equal(t, "Bonjour", msg.Results[0].Text)
}

func TestPublisherKeepsTerminalEvents(t *testing.T) {
	p := NewPublisher(2)
	p.Open("t1")
	ch, stop, ok := p.Subscribe("t1")
	require.True(t, ok)
	defer stop()

	for i := 1; i <= 10; i++ {
		p.Publish(Event{Type: EventProgress, TaskID: "t1", Progress: float64(i) / 10})
	}
	p.Publish(Event{Type: EventCompleted, TaskID: "t1"})
	p.Publish(Event{Type: EventProgress, TaskID: "t1", Progress: 1})

	events := drain(t, ch)
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 2)
	assert.Equal(t, EventCompleted, events[len(events)-1].Type)

	late, stopLate, ok := p.Subscribe("t1")
	require.True(t, ok)
	defer stopLate()
	events = drain(t, late)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].Type)
}

func TestPublisherUnsubscribe(t *testing.T) {
	p := NewPublisher(4)
	p.Open("t1")
	ch, stop, ok := p.Subscribe("t1")
	require.True(t, ok)
	stop()
	stop()
	_, open := <-ch
	assert.False(t, open)

	p.Publish(Event{Type: EventProgress, TaskID: "t1"})
	p.Remove("t1")
}

func TestPublisherRefusesUnknownTopics(t *testing.T) {
	p := NewPublisher(4)
	_, _, ok := p.Subscribe("never")
	assert.False(t, ok)

	p.Open("t1")
	p.Publish(Event{Type: EventCompleted, TaskID: "t1"})
	p.Remove("t1")

	// a late publish must not resurrect a removed topic
	p.Publish(Event{Type: EventProgress, TaskID: "t1", Progress: 0.5})
	_, _, ok = p.Subscribe("t1")
	assert.False(t, ok)
}

func TestManagerPartialFailureCompletes(t *testing.T) {
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		if req.Texts[0] == "line 21" {
			return nil, &translate.BackendError{Kind: translate.ErrorTimeout, Err: context.DeadlineExceeded}
		}
		return upper(req), nil
	}}
	store := openStore(t)
	sink := &memorySink{}
	m := newTestManager(t, adapter, Options{Store: store, Sink: sink})

	task, err := m.Submit(context.Background(), testRequest(50))
	require.NoError(t, err)
	assert.Equal(t, StateQueued, task.State)
	assert.Equal(t, "ja", task.SourceLanguage)

	ch, stop, err := m.Subscribe(context.Background(), task.ID)
	require.NoError(t, err)
	defer stop()
	events := drain(t, ch)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Type)
	assert.Len(t, last.Results, 50)
	assert.NotEmpty(t, last.Message)

	prev := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, prev)
		prev = ev.Progress
	}

	got, err := m.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, 5, got.TotalBatches)
	assert.Equal(t, 5, got.CompletedBatches)
	assert.Equal(t, 1, got.FailedBatches)

	res, err := m.Result(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "out/episode.ja.srt", res.OutputPath)
	require.Len(t, res.Entries, 50)
	for i, e := range res.Entries {
		n := i + 1
		if n >= 21 && n <= 30 {
			assert.False(t, e.Translated, "entry %d", n)
			assert.Equal(t, "timeout", e.Reason)
			assert.Equal(t, "line "+strconv.Itoa(n), e.Text)
		} else {
			assert.True(t, e.Translated, "entry %d", n)
			assert.Equal(t, "T:line "+strconv.Itoa(n), e.Text)
		}
	}
	assert.Len(t, res.Untranslated, 10)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 3, res.Failures[0].BatchID)
	assert.Contains(t, res.Content, "T:line 1\n")
	assert.Contains(t, sink.saved, task.ID)

	stored, err := store.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	assert.Equal(t, 50, stored.Entries)
	storedRes, err := store.Result(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, storedRes.Untranslated, 10)

	// once released, the task is served from the store
	m.Release(task.ID)
	got, err = m.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)

	ch, _, err = m.Subscribe(context.Background(), task.ID)
	require.NoError(t, err)
	events = drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].Type)
	assert.Len(t, events[0].Results, 50)
}

func TestManagerAllBatchesFailed(t *testing.T) {
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		return nil, &translate.BackendError{Kind: translate.ErrorAuth, Status: 401, Err: errors.New("bad key")}
	}}
	m := newTestManager(t, adapter, Options{})

	task, err := m.Submit(context.Background(), testRequest(15))
	require.NoError(t, err)
	ch, stop, err := m.Subscribe(context.Background(), task.ID)
	require.NoError(t, err)
	defer stop()

	events := drain(t, ch)
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Type)
	assert.Contains(t, last.Message, ErrTaskFatal.Error())

	res, err := m.Result(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, res.Untranslated, 15)
	assert.Equal(t, "auth", res.Entries[0].Reason)

	assert.ErrorIs(t, m.Cancel(context.Background(), task.ID), ErrInvalidTransition)
}

func TestManagerCancelQueuedAndRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		if req.Texts[0] == "line 1" {
			once.Do(func() { close(started) })
			<-release
		}
		return upper(req), nil
	}}
	m := newTestManager(t, adapter, Options{MaxConcurrent: 1})

	running, err := m.Submit(context.Background(), testRequest(30))
	require.NoError(t, err)
	<-started

	queued, err := m.Submit(context.Background(), testRequest(5))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(context.Background(), queued.ID))

	got, err := m.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)
	assert.ErrorIs(t, m.Cancel(context.Background(), queued.ID), ErrInvalidTransition)

	ch, stop, err := m.Subscribe(context.Background(), running.ID)
	require.NoError(t, err)
	defer stop()
	require.NoError(t, m.Cancel(context.Background(), running.ID))
	close(release)

	events := drain(t, ch)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)

	res, err := m.Result(context.Background(), running.ID)
	require.NoError(t, err)
	for i, e := range res.Entries {
		if i < 10 {
			assert.True(t, e.Translated, "entry %d", i+1)
		} else {
			assert.False(t, e.Translated, "entry %d", i+1)
			assert.Equal(t, pipeline.ReasonCancelled, e.Reason)
		}
	}
}

func TestManagerSubmitValidation(t *testing.T) {
	m := newTestManager(t, &fakeAdapter{}, Options{})

	req := testRequest(0)
	_, err := m.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	req = testRequest(3)
	req.Params.TargetLanguage = ""
	_, err = m.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	req = testRequest(3)
	req.Backend.Kind = "nope"
	_, err = m.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel(context.Background(), "missing"), ErrNotFound)
	_, _, err = m.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerListAndRetention(t *testing.T) {
	m := newTestManager(t, &fakeAdapter{}, Options{Retention: time.Minute})

	req := testRequest(3)
	req.OwnerID = 7
	first, err := m.Submit(context.Background(), req)
	require.NoError(t, err)
	ch, _, err := m.Subscribe(context.Background(), first.ID)
	require.NoError(t, err)
	drain(t, ch)

	second, err := m.Submit(context.Background(), testRequest(3))
	require.NoError(t, err)
	ch, _, err = m.Subscribe(context.Background(), second.ID)
	require.NoError(t, err)
	drain(t, ch)

	all, err := m.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := m.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	m.collect(time.Now().UTC())
	all, err = m.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "recent tasks are kept")

	m.collect(time.Now().UTC().Add(2 * time.Minute))
	all, err = m.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = m.Get(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerMarksInterruptedTasks(t *testing.T) {
	store := openStore(t)
	stale := &Task{ID: "stale", Name: "old.srt", State: StateTranslating, TargetLanguage: "de", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Insert(context.Background(), stale))
	require.NoError(t, store.Update(context.Background(), stale))

	m := newTestManager(t, &fakeAdapter{}, Options{Store: store})

	got, err := m.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "interrupted by restart", got.Error)
	assert.Equal(t, "de", got.TargetLanguage)

	_, err = m.Result(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrNotFinished)
	assert.ErrorIs(t, m.Cancel(context.Background(), "stale"), ErrInvalidTransition)

	ch, _, err := m.Subscribe(context.Background(), "stale")
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Type)
	assert.Equal(t, "interrupted by restart", events[0].Message)
}

func TestManagerStopCancelsQueued(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		<-release
		return upper(req), nil
	}}
	opts := Options{MaxConcurrent: 1}
	opts.NewAdapter = func(cfg translate.Config) (translate.Adapter, error) { return adapter, nil }
	m := NewManager(opts)
	require.NoError(t, m.Start(context.Background()))

	first, err := m.Submit(context.Background(), testRequest(3))
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), testRequest(3))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	m.Stop()

	for _, id := range []string{first.ID, second.ID} {
		got, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, got.State.Terminal(), "task %s is %s", id, got.State)
	}
	_, err = m.Submit(context.Background(), testRequest(3))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestManagerQueuesBeyondWorkers(t *testing.T) {
	release := make(chan struct{})
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		<-release
		return upper(req), nil
	}}
	store := openStore(t)
	m := newTestManager(t, adapter, Options{MaxConcurrent: 1, Store: store})

	var ids []string
	for i := 0; i < 40; i++ {
		task, err := m.Submit(context.Background(), testRequest(3))
		require.NoError(t, err)
		assert.Equal(t, StateQueued, task.State)
		ids = append(ids, task.ID)
	}
	close(release)

	for _, id := range ids {
		ch, stop, err := m.Subscribe(context.Background(), id)
		require.NoError(t, err)
		events := drain(t, ch)
		stop()
		require.NotEmpty(t, events)
		assert.Equal(t, EventCompleted, events[len(events)-1].Type, "task %s", id)
	}

	all, err := m.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 40)
	for _, task := range all {
		assert.Equal(t, StateCompleted, task.State)
		assert.Empty(t, task.Error)
	}
}

func TestManagerSubscribeAfterTopicRemoved(t *testing.T) {
	store := openStore(t)
	m := newTestManager(t, &fakeAdapter{}, Options{Store: store})

	task, err := m.Submit(context.Background(), testRequest(3))
	require.NoError(t, err)
	ch, _, err := m.Subscribe(context.Background(), task.ID)
	require.NoError(t, err)
	drain(t, ch)

	// the topic goes away while the entry is still indexed, as when a
	// release races with a new subscriber
	m.pub.Remove(task.ID)

	ch, stop, err := m.Subscribe(context.Background(), task.ID)
	require.NoError(t, err)
	defer stop()
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].Type)
	assert.Len(t, events[0].Results, 3)
}
