package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

var (
	// ErrPartialTranslation means some batches failed; their entries keep
	// the original text
	ErrPartialTranslation = errors.New("pipeline: some entries were not translated")
	// ErrAllBatchesFailed means no batch produced a translation
	ErrAllBatchesFailed = errors.New("pipeline: every batch failed")
)

// Reasons recorded on untranslated results
const (
	ReasonCancelled = "cancelled"
)

// Params are the per-run translation parameters
type Params struct {
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	Style          string            `json:"style"`
	CustomPrompt   string            `json:"custom_prompt,omitempty"`
	Glossary       map[string]string `json:"glossary,omitempty"`

	MaxEntries  int                   `json:"max_entries"`
	MaxLoad     int                   `json:"max_load"`
	ContextSize int                   `json:"context_size"`
	Parallelism int                   `json:"parallelism"`
	Retry       translate.RetryPolicy `json:"retry"`
}

// Result is the outcome for one item. Untranslated results carry the
// source text and a reason.
type Result struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Source     string `json:"source"`
	Translated bool   `json:"translated"`
	Reason     string `json:"reason,omitempty"`
}

// BatchFailure records a batch whose retries were exhausted or whose error
// was not retryable
type BatchFailure struct {
	BatchID  int                 `json:"batch_id"`
	EntryIDs []string            `json:"entry_ids"`
	Kind     translate.ErrorKind `json:"kind"`
	Message  string              `json:"message"`
	Attempts int                 `json:"attempts"`
	Err      error               `json:"-"`
}

// Outcome is the merged result of a run, ordered by input position
type Outcome struct {
	Results          []Result       `json:"results"`
	Failures         []BatchFailure `json:"failures,omitempty"`
	TotalBatches     int            `json:"total_batches"`
	CompletedBatches int            `json:"completed_batches"`
	FailedBatches    int            `json:"failed_batches"`
	Cancelled        bool           `json:"cancelled"`
}

// Untranslated returns the results that kept their source text
func (o *Outcome) Untranslated() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.Translated {
			out = append(out, r)
		}
	}
	return out
}

// Texts returns the output text of every result in order
func (o *Outcome) Texts() []string {
	out := make([]string, len(o.Results))
	for i, r := range o.Results {
		out[i] = r.Text
	}
	return out
}

// Err summarises batch failures: nil, ErrPartialTranslation or
// ErrAllBatchesFailed
func (o *Outcome) Err() error {
	switch {
	case o.FailedBatches == 0:
		return nil
	case o.FailedBatches == o.TotalBatches:
		return fmt.Errorf("%w: %s", ErrAllBatchesFailed, o.Failures[0].Message)
	default:
		return fmt.Errorf("%w: %d of %d batches failed", ErrPartialTranslation, o.FailedBatches, o.TotalBatches)
	}
}

// ProgressFunc is called after each batch finishes, successfully or not
type ProgressFunc func(completed, total int)

// Orchestrator drives batched translation against one adapter
type Orchestrator struct {
	adapter translate.Adapter
	limiter *translate.Limiter
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLimiter shares a process-wide per-kind limiter
func WithLimiter(l *translate.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleeper overrides how retry backoff waits (useful for tests)
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// New creates an Orchestrator for adapter
func New(adapter translate.Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter: adapter,
		logger:  zap.NewNop(),
		sleep:   translate.SleepWithContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"), zap.String("adapter", adapter.Name()))
	return o
}

// run holds the mutable state of one Run call
type run struct {
	o       *Orchestrator
	params  Params
	mu      sync.Mutex
	results []Result
	outcome *Outcome
	pos     map[string]int
	onBatch ProgressFunc
}

// Run translates items and merges the results by input position. Batch
// failures never abort the run. Cancelling ctx stops new dispatches; calls
// already sent to the backend are allowed to finish.
func (o *Orchestrator) Run(ctx context.Context, items []Item, p Params, progress ProgressFunc) *Outcome {
	r := &run{
		o:       o,
		params:  p,
		results: make([]Result, len(items)),
		outcome: &Outcome{},
		pos:     make(map[string]int, len(items)),
		onBatch: progress,
	}

	var pending []Item
	for i, it := range items {
		r.pos[it.ID] = i
		r.results[i] = Result{ID: it.ID, Index: it.Index, Text: it.Text, Source: it.Text}
		// Blank lines need no backend call
		if strings.TrimSpace(it.Text) == "" {
			r.results[i].Translated = true
			continue
		}
		r.results[i].Reason = ReasonCancelled
		pending = append(pending, it)
	}

	batches := Plan(pending, o.adapter.EstimateLoad, p.MaxEntries, p.MaxLoad)
	r.outcome.TotalBatches = len(batches)

	parallelism := p.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	o.logger.Info("translation run started",
		zap.Int("entries", len(items)),
		zap.Int("batches", len(batches)),
		zap.Int("parallelism", parallelism),
		zap.Int("context_size", p.ContextSize),
	)

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := range batches {
		if ctx.Err() != nil {
			break
		}
		batch := batches[i]
		var prev *Batch
		if i > 0 {
			prev = &batches[i-1]
		}
		g.Go(func() error {
			// The slot may have been freed after cancellation
			if ctx.Err() != nil {
				return nil
			}
			batch.Context = r.contextFor(prev, parallelism)
			r.dispatch(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome.Results = r.results
	sort.Slice(r.outcome.Failures, func(i, j int) bool {
		return r.outcome.Failures[i].BatchID < r.outcome.Failures[j].BatchID
	})
	r.outcome.Cancelled = ctx.Err() != nil &&
		r.outcome.CompletedBatches < r.outcome.TotalBatches
	o.logger.Info("translation run finished",
		zap.Int("completed_batches", r.outcome.CompletedBatches),
		zap.Int("failed_batches", r.outcome.FailedBatches),
		zap.Bool("cancelled", r.outcome.Cancelled),
	)
	return r.outcome
}

// contextFor picks up to ContextSize lines preceding the batch. Sequential
// runs use the previous batch's translations; parallel runs cannot wait for
// them and use its source text instead.
func (r *run) contextFor(prev *Batch, parallelism int) []string {
	k := r.params.ContextSize
	if k <= 0 || prev == nil {
		return nil
	}
	items := prev.Items
	if len(items) > k {
		items = items[len(items)-k:]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, it := range items {
		res := r.results[r.pos[it.ID]]
		switch {
		case parallelism == 1 && res.Translated:
			out = append(out, res.Text)
		case parallelism > 1:
			out = append(out, it.Text)
		}
	}
	return out
}

func (r *run) dispatch(ctx context.Context, batch Batch) {
	o := r.o
	p := r.params
	texts := make([]string, len(batch.Items))
	for i, it := range batch.Items {
		texts[i] = it.Text
	}
	req := translate.Request{
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
		Style:          p.Style,
		CustomPrompt:   p.CustomPrompt,
		Glossary:       p.Glossary,
		PriorExamples:  batch.Context,
		Texts:          texts,
	}
	log := o.logger.With(zap.Int("batch", batch.ID), zap.Int("entries", len(batch.Items)))

	for attempt := 1; ; attempt++ {
		release, err := o.limiter.Acquire(ctx, o.adapter.Kind())
		if err != nil {
			// Cancelled before the call went out
			return
		}
		start := time.Now()
		// A dispatched call always runs to completion or its own timeout
		resp, err := o.adapter.TranslateBatch(context.WithoutCancel(ctx), req)
		release()
		if err == nil && len(resp.Translations) != len(texts) {
			err = &translate.BackendError{
				Kind: translate.ErrorMalformedResponse,
				Err:  fmt.Errorf("expected %d translations, got %d", len(texts), len(resp.Translations)),
			}
		}
		if err == nil {
			log.Debug("batch translated", zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(start)))
			r.succeed(batch, resp.Translations)
			return
		}

		delay, retry := p.Retry.Delay(err, attempt)
		if !retry {
			log.Warn("batch failed", zap.Int("attempt", attempt), zap.Error(err))
			r.fail(batch, err, attempt)
			return
		}
		log.Info("batch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("kind", string(translate.Classify(err))),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (r *run) succeed(batch Batch, translations []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, it := range batch.Items {
		res := &r.results[r.pos[it.ID]]
		res.Text = translations[i]
		res.Translated = true
		res.Reason = ""
	}
	r.finishBatch()
}

func (r *run) fail(batch Batch, err error, attempts int) {
	kind := translate.Classify(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range batch.Items {
		r.results[r.pos[it.ID]].Reason = string(kind)
	}
	r.outcome.FailedBatches++
	r.outcome.Failures = append(r.outcome.Failures, BatchFailure{
		BatchID:  batch.ID,
		EntryIDs: batch.EntryIDs(),
		Kind:     kind,
		Message:  err.Error(),
		Attempts: attempts,
		Err:      err,
	})
	r.finishBatch()
}

// finishBatch must be called with r.mu held
func (r *run) finishBatch() {
	r.outcome.CompletedBatches++
	if r.onBatch != nil {
		r.onBatch(r.outcome.CompletedBatches, r.outcome.TotalBatches)
	}
}
