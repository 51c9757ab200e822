package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// hashClient is the subset of pkg/redis the store needs.
type hashClient interface {
	ReplaceHash(ctx context.Context, key string, fields map[string]string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	ScanKeys(ctx context.Context, pattern string, fn func(key string) error) error
	Close() error
}

// RedisStore keeps each row in a hash at keyPrefix+prefix. Field names are
// "<column>:<word>", mirroring a column family qualifier, and values are
// formatted probabilities.
type RedisStore struct {
	client    hashClient
	keyPrefix string
	column    string
}

func NewRedisStore(client hashClient, keyPrefix, column string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, column: column}
}

func (s *RedisStore) field(word string) string {
	if s.column == "" {
		return word
	}
	return s.column + ":" + word
}

func (s *RedisStore) Put(ctx context.Context, m ranking.PrefixModel) error {
	if err := checkPut(m); err != nil {
		return err
	}
	fields := make(map[string]string, len(m.Entries))
	for word, p := range m.Cells() {
		fields[s.field(word)] = p
	}
	if err := s.client.ReplaceHash(ctx, s.keyPrefix+m.Prefix, fields); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, prefix string) (ranking.PrefixModel, error) {
	fields, err := s.client.HashGetAll(ctx, s.keyPrefix+prefix)
	if err != nil {
		return ranking.PrefixModel{}, fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	if len(fields) == 0 {
		return ranking.PrefixModel{}, notFound(prefix)
	}
	cells := make(map[string]string, len(fields))
	qualifier := ""
	if s.column != "" {
		qualifier = s.column + ":"
	}
	for f, v := range fields {
		word, ok := strings.CutPrefix(f, qualifier)
		if !ok {
			continue
		}
		cells[word] = v
	}
	return ranking.FromCells(prefix, cells)
}

// Scan collects matching keys first so that rows can be visited in prefix
// order.
func (s *RedisStore) Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error {
	var prefixes []string
	err := s.client.ScanKeys(ctx, escapeGlob(s.keyPrefix)+"*", func(key string) error {
		prefixes = append(prefixes, strings.TrimPrefix(key, s.keyPrefix))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		m, err := s.Get(ctx, prefix)
		if errors.Is(err, apperrors.ErrPrefixNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
