package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/resilience"
)

// WriterOptions tune how rows reach a Store.
type WriterOptions struct {
	Driver      string
	Attempts    int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Parallelism int
	Breaker     resilience.CircuitBreakerConfig
	Metrics     *metrics.Metrics
}

// Writer puts rows into a Store with a per-attempt timeout, retries with
// backoff, and a circuit breaker that stops hammering a backend that keeps
// failing.
type Writer struct {
	store   Store
	opts    WriterOptions
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewWriter(store Store, opts WriterOptions) *Writer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	name := "sink-" + opts.Driver
	if opts.Metrics != nil && opts.Breaker.OnStateChange == nil {
		gauge := opts.Metrics.CircuitBreakerState
		opts.Breaker.OnStateChange = func(name string, to resilience.State) {
			gauge.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Writer{
		store:   store,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker(name, opts.Breaker),
		logger:  slog.Default().With("component", "sink-writer", "driver", opts.Driver),
	}
}

// Write replaces the row for m.
func (w *Writer) Write(ctx context.Context, m ranking.PrefixModel) error {
	name := "put " + m.Prefix
	err := resilience.Retry(ctx, name, resilience.RetryConfig{
		MaxAttempts:  w.opts.Attempts,
		InitialDelay: w.opts.RetryDelay,
		Retryable:    retryable,
	}, func(int) error {
		return w.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, w.opts.Timeout, name, func(ctx context.Context) error {
				return w.store.Put(ctx, m)
			})
		})
	})
	w.opts.Metrics.ObserveSinkWrite(w.opts.Driver, err)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	return err
}

// WriteAll writes every model and returns how many rows were written. It
// stops at the first row that cannot be written.
func (w *Writer) WriteAll(ctx context.Context, models []ranking.PrefixModel) (int, error) {
	start := time.Now()
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for i := range models {
		m := models[i]
		g.Go(func() error {
			if err := w.Write(gctx, m); err != nil {
				return fmt.Errorf("writing prefix %q: %w", m.Prefix, err)
			}
			written.Add(1)
			return nil
		})
	}
	err := g.Wait()
	n := int(written.Load())
	if err != nil {
		w.logger.Error("sink write failed", "written", n, "total", len(models), "error", err)
		return n, err
	}
	w.logger.Info("rows written", "rows", n, "duration", time.Since(start))
	return n, nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrEmptyGroup),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
