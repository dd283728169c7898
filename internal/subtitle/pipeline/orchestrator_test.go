package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

type fakeAdapter struct {
	mu    sync.Mutex
	calls []translate.Request
	fn    func(req translate.Request) (*translate.Response, error)
}

func (f *fakeAdapter) Name() string                 { return "fake" }
func (f *fakeAdapter) Kind() translate.Kind         { return "fake" }
func (f *fakeAdapter) EstimateLoad(text string) int { return len(text) }

func (f *fakeAdapter) TranslateBatch(ctx context.Context, req translate.Request) (*translate.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return prefixAll(req), nil
}

func (f *fakeAdapter) requests() []translate.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translate.Request(nil), f.calls...)
}

func (f *fakeAdapter) callsStartingWith(text string) []translate.Request {
	var out []translate.Request
	for _, req := range f.requests() {
		if len(req.Texts) > 0 && req.Texts[0] == text {
			out = append(out, req)
		}
	}
	return out
}

func prefixAll(req translate.Request) *translate.Response {
	out := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		out[i] = "T:" + t
	}
	return &translate.Response{Translations: out}
}

func lines(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: strconv.Itoa(i + 1), Index: i + 1, Text: "line " + strconv.Itoa(i+1)}
	}
	return items
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestPlan(t *testing.T) {
	items := []Item{
		{ID: "a", Text: "aaaa"},
		{ID: "b", Text: "bbbb"},
		{ID: "c", Text: "cc"},
		{ID: "d", Text: "dddddddddddddddd"},
		{ID: "e", Text: "e"},
	}
	batches := Plan(items, func(s string) int { return len(s) }, 3, 10)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b", "c"}, batches[0].EntryIDs())
	assert.Equal(t, 10, batches[0].Load)
	assert.Equal(t, []string{"d"}, batches[1].EntryIDs(), "oversized entry forms its own batch")
	assert.Equal(t, []string{"e"}, batches[2].EntryIDs())
	assert.Equal(t, 3, batches[2].ID)

	assert.Len(t, Plan(lines(45), nil, 0, 0), 3)
	assert.Empty(t, Plan(nil, nil, 10, 0))
}

func TestRunTimeoutOnOneBatch(t *testing.T) {
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		if req.Texts[0] == "line 21" {
			return nil, &translate.BackendError{Kind: translate.ErrorTimeout, Err: context.DeadlineExceeded}
		}
		return prefixAll(req), nil
	}}

	var sleeps []time.Duration
	var progress [][2]int
	orch := New(adapter, WithSleeper(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}))

	outcome := orch.Run(context.Background(), lines(50), Params{
		MaxEntries: 10,
		Retry:      translate.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second},
	}, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})

	require.Len(t, outcome.Results, 50)
	for i, res := range outcome.Results {
		n := i + 1
		assert.Equal(t, strconv.Itoa(n), res.ID)
		if n >= 21 && n <= 30 {
			assert.False(t, res.Translated, "entry %d", n)
			assert.Equal(t, "line "+strconv.Itoa(n), res.Text)
			assert.Equal(t, "timeout", res.Reason)
		} else {
			assert.True(t, res.Translated, "entry %d", n)
			assert.Equal(t, "T:line "+strconv.Itoa(n), res.Text)
		}
	}
	assert.Len(t, outcome.Untranslated(), 10)

	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, 3, outcome.Failures[0].BatchID)
	assert.Equal(t, 3, outcome.Failures[0].Attempts)
	assert.Equal(t, translate.ErrorTimeout, outcome.Failures[0].Kind)

	assert.Equal(t, 5, outcome.TotalBatches)
	assert.Equal(t, 5, outcome.CompletedBatches)
	assert.False(t, outcome.Cancelled)
	assert.Equal(t, [2]int{5, 5}, progress[len(progress)-1])
	assert.Len(t, adapter.callsStartingWith("line 21"), 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)

	assert.ErrorIs(t, outcome.Err(), ErrPartialTranslation)
}

func TestRunMergesOutOfOrderCompletion(t *testing.T) {
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		// Earlier batches finish last
		n, _ := strconv.Atoi(req.Texts[0][len("line "):])
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		return prefixAll(req), nil
	}}

	outcome := New(adapter).Run(context.Background(), lines(16), Params{MaxEntries: 2, Parallelism: 4}, nil)
	require.NoError(t, outcome.Err())
	require.Len(t, outcome.Results, 16)
	for i, res := range outcome.Results {
		assert.Equal(t, i+1, res.Index)
		assert.Equal(t, "T:line "+strconv.Itoa(i+1), res.Text)
	}
	assert.Equal(t, 8, outcome.CompletedBatches)
}

func TestRunProgressIsMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	adapter := &fakeAdapter{}
	New(adapter).Run(context.Background(), lines(30), Params{MaxEntries: 3, Parallelism: 5}, func(done, total int) {
		mu.Lock()
		seen = append(seen, done)
		mu.Unlock()
		assert.Equal(t, 10, total)
	})
	require.Len(t, seen, 10)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestRunNonRetryableErrors(t *testing.T) {
	t.Run("auth fails every batch once", func(t *testing.T) {
		adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
			return nil, &translate.BackendError{Kind: translate.ErrorAuth, Status: 401, Err: errors.New("bad key")}
		}}
		outcome := New(adapter, WithSleeper(noSleep)).Run(context.Background(), lines(4), Params{
			MaxEntries: 2,
			Retry:      translate.RetryPolicy{MaxAttempts: 5},
		}, nil)

		assert.Len(t, adapter.requests(), 2)
		assert.Equal(t, 2, outcome.FailedBatches)
		assert.ErrorIs(t, outcome.Err(), ErrAllBatchesFailed)
		for _, f := range outcome.Failures {
			assert.Equal(t, 1, f.Attempts)
			assert.ErrorIs(t, f.Err, translate.ErrAuth)
		}
	})

	t.Run("count mismatch is malformed", func(t *testing.T) {
		adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
			return &translate.Response{Translations: []string{"only one"}}, nil
		}}
		outcome := New(adapter).Run(context.Background(), lines(3), Params{
			MaxEntries: 3,
			Retry:      translate.RetryPolicy{MaxAttempts: 3},
		}, nil)

		require.Len(t, outcome.Failures, 1)
		assert.Equal(t, translate.ErrorMalformedResponse, outcome.Failures[0].Kind)
		assert.Len(t, adapter.requests(), 1)
		assert.Equal(t, "malformed_response", outcome.Results[0].Reason)
	})
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	failures := 2
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, &translate.BackendError{Kind: translate.ErrorRateLimited, Status: 429, Err: errors.New("slow down")}
		}
		return prefixAll(req), nil
	}}
	outcome := New(adapter, WithSleeper(noSleep)).Run(context.Background(), lines(2), Params{
		Retry: translate.RetryPolicy{MaxAttempts: 3},
	}, nil)
	require.NoError(t, outcome.Err())
	assert.Len(t, adapter.requests(), 3)
}

func TestRunContextWindow(t *testing.T) {
	t.Run("sequential uses translations", func(t *testing.T) {
		adapter := &fakeAdapter{}
		New(adapter).Run(context.Background(), lines(6), Params{MaxEntries: 3, ContextSize: 2, Parallelism: 1}, nil)

		first := adapter.callsStartingWith("line 1")
		require.Len(t, first, 1)
		assert.Empty(t, first[0].PriorExamples)

		second := adapter.callsStartingWith("line 4")
		require.Len(t, second, 1)
		assert.Equal(t, []string{"T:line 2", "T:line 3"}, second[0].PriorExamples)
		assert.Equal(t, []string{"line 4", "line 5", "line 6"}, second[0].Texts)
	})

	t.Run("parallel uses source text", func(t *testing.T) {
		adapter := &fakeAdapter{}
		New(adapter).Run(context.Background(), lines(6), Params{MaxEntries: 3, ContextSize: 5, Parallelism: 2}, nil)

		second := adapter.callsStartingWith("line 4")
		require.Len(t, second, 1)
		assert.Equal(t, []string{"line 1", "line 2", "line 3"}, second[0].PriorExamples)
	})

	t.Run("disabled", func(t *testing.T) {
		adapter := &fakeAdapter{}
		New(adapter).Run(context.Background(), lines(6), Params{MaxEntries: 3}, nil)
		for _, req := range adapter.requests() {
			assert.Empty(t, req.PriorExamples)
		}
	})
}

func TestRunCancellationKeepsCompletedBatches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	adapter := &fakeAdapter{fn: func(req translate.Request) (*translate.Response, error) {
		once.Do(func() {
			close(started)
			<-release
		})
		return prefixAll(req), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Outcome)
	go func() {
		done <- New(adapter).Run(ctx, lines(9), Params{MaxEntries: 3, Parallelism: 1}, nil)
	}()

	<-started
	cancel()
	close(release)
	outcome := <-done

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 1, outcome.CompletedBatches)
	assert.Len(t, adapter.requests(), 1, "no dispatch after cancellation")
	assert.NoError(t, outcome.Err())
	for i, res := range outcome.Results {
		if i < 3 {
			assert.True(t, res.Translated)
			continue
		}
		assert.False(t, res.Translated)
		assert.Equal(t, ReasonCancelled, res.Reason)
	}
}

func TestRunSkipsBlankEntries(t *testing.T) {
	adapter := &fakeAdapter{}
	items := []Item{{ID: "1", Index: 1, Text: "hello"}, {ID: "2", Index: 2, Text: "  "}, {ID: "3", Index: 3, Text: "bye"}}
	outcome := New(adapter).Run(context.Background(), items, Params{}, nil)

	require.Len(t, adapter.requests(), 1)
	assert.Equal(t, []string{"hello", "bye"}, adapter.requests()[0].Texts)
	assert.Equal(t, []string{"T:hello", "  ", "T:bye"}, outcome.Texts())
	assert.True(t, outcome.Results[1].Translated)
}

func TestRunUsesLimiter(t *testing.T) {
	limiter := translate.NewLimiter(translate.LimitSettings{MaxConcurrent: 1}, nil)
	hold, err := limiter.Acquire(context.Background(), "fake")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	adapter := &fakeAdapter{}
	outcome := New(adapter, WithLimiter(limiter)).Run(ctx, lines(2), Params{}, nil)
	hold()

	assert.Empty(t, adapter.requests())
	assert.True(t, outcome.Cancelled)
	assert.Equal(t, ReasonCancelled, outcome.Results[0].Reason)
}
