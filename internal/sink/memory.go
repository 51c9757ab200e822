package sink

import (
	"context"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
)

// MemoryStore keeps rows in a map. It backs tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]ranking.PrefixModel
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]ranking.PrefixModel)}
}

func (s *MemoryStore) Put(_ context.Context, m ranking.PrefixModel) error {
	if err := checkPut(m); err != nil {
		return err
	}
	entries := make([]ranking.Entry, len(m.Entries))
	copy(entries, m.Entries)
	m.Entries = entries
	s.mu.Lock()
	s.rows[m.Prefix] = m
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, prefix string) (ranking.PrefixModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[prefix]
	if !ok {
		return ranking.PrefixModel{}, notFound(prefix)
	}
	return m, nil
}

func (s *MemoryStore) Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error {
	s.mu.RLock()
	rows := make([]ranking.PrefixModel, 0, len(s.rows))
	for _, m := range s.rows {
		rows = append(rows, m)
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].Prefix < rows[j].Prefix })
	for _, m := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) Close() error { return nil }
