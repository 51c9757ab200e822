package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
)

// Store is the read side of a sink.Store.
type Store interface {
	Scanner
	Get(ctx context.Context, prefix string) (ranking.PrefixModel, error)
}

// Prediction is the answer to one query.
type Prediction struct {
	Query string `json:"query"`
	// Context is the prefix that matched; Backoff is how many leading
	// tokens of the longest usable context had to be dropped to find it.
	Context     string          `json:"context"`
	Backoff     int             `json:"backoff"`
	Predictions []ranking.Entry `json:"predictions"`
}

// Service answers queries from an Index when one is loaded and directly
// from the store otherwise. Concurrent store lookups of the same prefix and
// concurrent reloads are collapsed into one call each.
type Service struct {
	store      Store
	index      atomic.Pointer[Index]
	maxContext int
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService creates a Service. maxOrder bounds the context used for
// lookups to maxOrder-1 tokens.
func NewService(store Store, maxOrder int, m *metrics.Metrics) *Service {
	if maxOrder < 2 || maxOrder > ngram.MaxOrder {
		maxOrder = ngram.MaxOrder
	}
	return &Service{
		store:      store,
		maxContext: maxOrder - 1,
		metrics:    m,
		logger:     slog.Default().With("component", "predictor"),
	}
}

// Reload rebuilds the in-memory index from the store.
func (s *Service) Reload(ctx context.Context) error {
	_, err, shared := s.group.Do("\x00reload", func() (any, error) {
		start := time.Now()
		idx, err := Build(ctx, s.store)
		if err != nil {
			return nil, err
		}
		s.index.Store(idx)
		s.logger.Info("index loaded", "prefixes", idx.Len(), "max_context", idx.MaxContext(), "duration", time.Since(start))
		return nil, nil
	})
	if shared {
		s.logger.Debug("joined in-flight reload")
	}
	return err
}

// Ready reports whether an index is loaded.
func (s *Service) Ready() bool {
	return s.index.Load() != nil
}

func (s *Service) lookup(ctx context.Context, prefix string) (ranking.PrefixModel, error) {
	if idx := s.index.Load(); idx != nil {
		m, ok := idx.Get(prefix)
		if !ok {
			return ranking.PrefixModel{}, fmt.Errorf("%w: %q", apperrors.ErrPrefixNotFound, prefix)
		}
		return m, nil
	}
	v, err, _ := s.group.Do(prefix, func() (any, error) {
		return s.store.Get(ctx, prefix)
	})
	if err != nil {
		return ranking.PrefixModel{}, err
	}
	return v.(ranking.PrefixModel), nil
}

// Predict returns up to limit continuations for the end of text, backing
// off to shorter contexts until a stored prefix matches.
func (s *Service) Predict(ctx context.Context, text string, limit int) (*Prediction, error) {
	keys := contexts(text, s.maxContext)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: query has no words", apperrors.ErrInvalidInput)
	}
	for i, key := range keys {
		m, err := s.lookup(ctx, key)
		if errors.Is(err, apperrors.ErrPrefixNotFound) {
			continue
		}
		if err != nil {
			s.observe("error")
			return nil, err
		}
		entries := m.Entries
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		s.observe("hit")
		return &Prediction{
			Query:       text,
			Context:     key,
			Backoff:     i,
			Predictions: entries,
		}, nil
	}
	s.observe("miss")
	return nil, fmt.Errorf("%w: no stored context for %q", apperrors.ErrPrefixNotFound, text)
}

// Complete lists stored prefixes starting with the normalized partial text.
// It needs a loaded index.
func (s *Service) Complete(partial string, limit int) ([]string, error) {
	idx := s.index.Load()
	if idx == nil {
		return nil, fmt.Errorf("%w: index not loaded", apperrors.ErrSinkUnavailable)
	}
	norm := ngram.Normalize(partial)
	if norm == "" {
		return nil, fmt.Errorf("%w: query has no words", apperrors.ErrInvalidInput)
	}
	// Keep a trailing separator so "the " only completes whole-word prefixes.
	if last := partial[len(partial)-1]; last == ' ' {
		norm += " "
	}
	return idx.Complete(norm, limit), nil
}

func (s *Service) observe(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PredictionsTotal.WithLabelValues(result).Inc()
}
