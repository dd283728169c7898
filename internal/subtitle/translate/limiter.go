package translate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitSettings bounds calls to one adapter kind across the whole process
type LimitSettings struct {
	MaxConcurrent     int     `toml:"max_concurrent" json:"max_concurrent"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

type kindLimit struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

// Limiter holds one concurrency semaphore and one token bucket per adapter
// kind. A single Limiter is shared by every task in the process.
type Limiter struct {
	mu       sync.Mutex
	defaults LimitSettings
	perKind  map[Kind]LimitSettings
	limits   map[Kind]*kindLimit
}

// NewLimiter creates a limiter. Kinds missing from perKind use defaults;
// zero values mean unlimited.
func NewLimiter(defaults LimitSettings, perKind map[Kind]LimitSettings) *Limiter {
	copied := make(map[Kind]LimitSettings, len(perKind))
	for k, v := range perKind {
		copied[k] = v
	}
	return &Limiter{
		defaults: defaults,
		perKind:  copied,
		limits:   make(map[Kind]*kindLimit),
	}
}

func (l *Limiter) get(kind Kind) *kindLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limits[kind]; ok {
		return lim
	}
	settings, ok := l.perKind[kind]
	if !ok {
		settings = l.defaults
	}
	lim := &kindLimit{}
	if settings.MaxConcurrent > 0 {
		lim.sem = semaphore.NewWeighted(int64(settings.MaxConcurrent))
	}
	if settings.RequestsPerSecond > 0 {
		burst := settings.Burst
		if burst <= 0 {
			burst = 1
		}
		lim.rate = rate.NewLimiter(rate.Limit(settings.RequestsPerSecond), burst)
	}
	l.limits[kind] = lim
	return lim
}

// Acquire blocks until a call to kind may start. The returned release
// function must be called when the call finishes.
func (l *Limiter) Acquire(ctx context.Context, kind Kind) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	lim := l.get(kind)
	if lim.sem != nil {
		if err := lim.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire %s slot: %w", kind, err)
		}
	}
	if lim.rate != nil {
		if err := lim.rate.Wait(ctx); err != nil {
			if lim.sem != nil {
				lim.sem.Release(1)
			}
			return nil, fmt.Errorf("wait for %s rate limit: %w", kind, err)
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if lim.sem != nil {
				lim.sem.Release(1)
			}
		})
	}, nil
}
