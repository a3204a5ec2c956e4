// Package scheduler decides which sources are due and drives the collector
// over them, either once or in a continuous rate-limited loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pfrederiksen/local-events/internal/collector"
	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/metrics"
	"github.com/pfrederiksen/local-events/internal/storage"
)

// ErrAlreadyRunning is returned by Start when the loop is already running.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Sources selects due sources. *storage.Store implements it.
type Sources interface {
	DueSources(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]storage.Source, error)
}

// Collector runs one attempt. *collector.Collector implements it.
type Collector interface {
	CollectFromSource(ctx context.Context, src storage.Source) (*collector.Result, error)
	InProgress(id uint) bool
}

// Cache is swept of expired entries at the start of every cycle.
// *cache.Cache implements it.
type Cache interface {
	CleanExpired(ctx context.Context) (int64, error)
	Size(ctx context.Context) (int64, error)
}

// Options tunes selection and pacing.
type Options struct {
	// StaleAfter is how long a scraped source stays fresh.
	StaleAfter time.Duration
	// BatchSize caps the sources handled per cycle.
	BatchSize int
	// SourceDelay separates attempts within a cycle.
	SourceDelay time.Duration
	// CycleInterval separates clean cycles.
	CycleInterval time.Duration
	// ErrorBackoff is the first wait after a failed cycle. Consecutive
	// failures double it up to MaxErrorBackoff.
	ErrorBackoff    time.Duration
	MaxErrorBackoff time.Duration
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		StaleAfter:      6 * time.Hour,
		BatchSize:       10,
		SourceDelay:     5 * time.Second,
		CycleInterval:   15 * time.Minute,
		ErrorBackoff:    30 * time.Minute,
		MaxErrorBackoff: 2 * time.Hour,
	}
}

// SourceError is a failed attempt inside a cycle.
type SourceError struct {
	SourceID uint
	Source   string
	Err      error
}

// Summary describes one cycle.
type Summary struct {
	Due       int
	Succeeded int
	Failed    int
	// Skipped counts sources that already had an attempt running.
	Skipped      int
	EventsStored int
	// Interrupted is set when a stop or cancellation ended the cycle early.
	Interrupted bool
	Duration    time.Duration
	Results     []*collector.Result
	Errors      []SourceError
}

// Scheduler owns the loop state. Use one instance per process.
type Scheduler struct {
	sources   Sources
	collector Collector
	opts      Options
	log       *logger.Logger
	metrics   *metrics.Manager
	cache     Cache
	now       func() time.Time

	mu sync.Mutex
	// running stays true until the loop goroutine has returned, so a Stop
	// with an attempt in flight does not free the scheduler early.
	running  bool
	stopping bool
	stop     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithCache sweeps expired cache entries once per cycle.
func WithCache(c Cache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Scheduler. Zero option fields take their defaults.
func New(sources Sources, c Collector, opts Options, options ...Option) *Scheduler {
	def := DefaultOptions()
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.SourceDelay < 0 {
		opts.SourceDelay = 0
	}
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = def.CycleInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = def.ErrorBackoff
	}
	if opts.MaxErrorBackoff < opts.ErrorBackoff {
		opts.MaxErrorBackoff = 4 * opts.ErrorBackoff
	}

	s := &Scheduler{
		sources:   sources,
		collector: c,
		opts:      opts,
		log:       logger.With(logger.Fields{"component": "scheduler"}),
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Running reports whether the continuous loop is active. It stays true
// after Stop until the attempt in flight has finished and the loop returned.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start runs cycles until Stop is called or ctx is done. It returns nil
// after Stop and ctx.Err() after cancellation. Cycle errors never end the
// loop; they delay the next cycle by an exponential backoff.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	stop := make(chan struct{})
	s.running = true
	s.stopping = false
	s.stop = stop
	s.mu.Unlock()
	s.metrics.SetRunning(true)

	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			s.running = false
			s.stopping = false
			s.stop = nil
		}
		s.mu.Unlock()
		s.metrics.SetRunning(false)
	}()

	bo := s.newBackOff()
	s.log.Info("Scheduler started", logger.Fields{
		"cycle_interval": s.opts.CycleInterval.String(),
		"source_delay":   s.opts.SourceDelay.String(),
		"batch_size":     s.opts.BatchSize,
	})

	for {
		wait := s.opts.CycleInterval
		if _, err := s.safeCycle(ctx, stop); err != nil {
			wait = bo.NextBackOff()
			s.log.Error("Cycle failed", logger.Fields{"backoff": wait.String()}, err)
		} else {
			bo.Reset()
		}

		if !pause(ctx, stop, wait) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		s.log.Info("Scheduler canceled", nil)
		return err
	}
	s.log.Info("Scheduler stopped", nil)
	return nil
}

// Stop asks the loop to exit. An attempt in flight is allowed to finish;
// the loop exits before the next source or cycle. Stop is idempotent and
// does not wait. Start returns ErrAlreadyRunning until the loop is gone.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stopping {
		return
	}
	s.stopping = true
	close(s.stop)
}

// RunOnce runs a single cycle and returns its summary. Only the due-source
// query error and cancellation are returned; failed sources are reported in
// the summary.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	sum, err := s.cycle(ctx, nil)
	if err != nil {
		return nil, err
	}
	if sum.Interrupted {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.ErrorBackoff
	bo.MaxInterval = s.opts.MaxErrorBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// safeCycle turns a panic inside a cycle into an error so the loop survives.
func (s *Scheduler) safeCycle(ctx context.Context, stop <-chan struct{}) (sum *Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.cycle(ctx, stop)
}

func (s *Scheduler) cycle(ctx context.Context, stop <-chan struct{}) (*Summary, error) {
	started := s.now()
	s.sweepCache(ctx)

	due, err := s.sources.DueSources(ctx, started, s.opts.StaleAfter, s.opts.BatchSize)
	if err != nil {
		err = fmt.Errorf("selecting due sources: %w", err)
		s.metrics.ObserveCycle(0, s.now().Sub(started), err)
		return nil, err
	}

	sum := &Summary{Due: len(due)}
	s.log.Info("Cycle started", logger.Fields{"due": len(due)})

	attempted := 0
	for _, src := range due {
		// A source busy elsewhere costs no rate-limit delay.
		if s.collector.InProgress(src.ID) {
			sum.Skipped++
			s.log.Warn("Source skipped", logger.Fields{"source_id": src.ID, "source": src.Name, "reason": "attempt in progress"})
			continue
		}

		delay := s.opts.SourceDelay
		if attempted == 0 {
			delay = 0
		}
		if !pause(ctx, stop, delay) {
			sum.Interrupted = true
			break
		}
		attempted++

		res, err := s.collector.CollectFromSource(ctx, src)
		switch {
		case errors.Is(err, collector.ErrCollectionInProgress):
			sum.Skipped++
			s.log.Warn("Source skipped", logger.Fields{"source_id": src.ID, "source": src.Name, "reason": err.Error()})
		case err != nil:
			sum.Failed++
			sum.Errors = append(sum.Errors, SourceError{SourceID: src.ID, Source: src.Name, Err: err})
		default:
			sum.Succeeded++
		}
		if res != nil {
			sum.EventsStored += res.EventsStored
			sum.Results = append(sum.Results, res)
		}
	}

	sum.Duration = s.now().Sub(started)
	s.metrics.ObserveCycle(sum.Due, sum.Duration, nil)
	s.log.Info("Cycle finished", logger.Fields{
		"due":           sum.Due,
		"succeeded":     sum.Succeeded,
		"failed":        sum.Failed,
		"skipped":       sum.Skipped,
		"events_stored": sum.EventsStored,
		"interrupted":   sum.Interrupted,
		"duration_ms":   sum.Duration.Milliseconds(),
	})
	return sum, nil
}

// sweepCache drops expired cache entries. Failures are logged only.
func (s *Scheduler) sweepCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	removed, err := s.cache.CleanExpired(ctx)
	if err != nil {
		s.log.Warn("Cleaning cache failed", logger.Fields{"error": err.Error()})
		return
	}
	size, err := s.cache.Size(ctx)
	if err != nil {
		s.log.Warn("Counting cache entries failed", logger.Fields{"error": err.Error()})
		return
	}
	s.metrics.SetCacheEntries(size)
	if removed > 0 {
		s.log.Debug("Expired cache entries removed", logger.Fields{"removed": removed, "remaining": size})
	}
}

// pause waits d and reports whether the caller should go on. It returns
// false as soon as stop is closed or ctx is done. A nil stop never fires.
func pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
