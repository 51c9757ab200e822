// Package sink stores published PrefixModels. Every backend treats a model
// as one row keyed by its prefix: Put replaces the row wholesale, so a rerun
// over the same input leaves the store unchanged.
package sink

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/sqlite"
)

// Store is a prefix-keyed model table.
type Store interface {
	// Put replaces the row for m.Prefix. Models without entries are
	// rejected with ErrEmptyGroup.
	Put(ctx context.Context, m ranking.PrefixModel) error
	// Get returns the row for prefix or ErrPrefixNotFound.
	Get(ctx context.Context, prefix string) (ranking.PrefixModel, error)
	// Scan calls fn for every row, ordered by prefix as the backend sorts
	// it, until fn returns an error.
	Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error
	Close() error
}

// Open builds the store named by cfg.Sink.Driver. ForWrite truncates
// file-backed stores that are rewritten per run.
func Open(cfg *config.Config, forWrite bool) (Store, error) {
	switch cfg.Sink.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
		}
		return NewRedisStore(client, cfg.Sink.KeyPrefix, cfg.Sink.Column), nil
	case "postgres":
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
		}
		return NewSQLStore(context.Background(), client, cfg.Sink.Table)
	case "sqlite":
		client, err := sqlite.Open(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
		}
		return NewSQLStore(context.Background(), client, cfg.Sink.Table)
	case "tsv":
		return NewTSVStore(cfg.Sink.Path, forWrite)
	default:
		return nil, fmt.Errorf("%w: unknown sink driver %q", apperrors.ErrInvalidConfig, cfg.Sink.Driver)
	}
}

func checkPut(m ranking.PrefixModel) error {
	if len(m.Entries) == 0 {
		return fmt.Errorf("%w: prefix %q", apperrors.ErrEmptyGroup, m.Prefix)
	}
	return nil
}

func notFound(prefix string) error {
	return fmt.Errorf("%w: %q", apperrors.ErrPrefixNotFound, prefix)
}
