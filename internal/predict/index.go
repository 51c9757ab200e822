// Package predict answers next-word queries from a published model. An
// Index loads every row into a patricia trie keyed by prefix, which also
// serves prefix completion; a Service adds backoff over context lengths and
// an HTTP surface.
package predict

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tchap/go-patricia/v2/patricia"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
)

// Scanner is the part of a sink.Store an Index is built from.
type Scanner interface {
	Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error
}

// Index is an immutable in-memory copy of the model.
type Index struct {
	trie *patricia.Trie
	rows int
	// longest prefix in tokens
	maxContext int
}

// Build reads every row from src.
func Build(ctx context.Context, src Scanner) (*Index, error) {
	idx := &Index{trie: patricia.NewTrie()}
	err := src.Scan(ctx, func(m ranking.PrefixModel) error {
		if len(m.Entries) == 0 {
			return nil
		}
		idx.trie.Set(patricia.Prefix(m.Prefix), m)
		idx.rows++
		if n := ngram.Order(m.Prefix); n > idx.maxContext {
			idx.maxContext = n
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	return idx, nil
}

// Len returns the number of indexed prefixes.
func (idx *Index) Len() int {
	return idx.rows
}

// MaxContext is the token length of the longest indexed prefix.
func (idx *Index) MaxContext() int {
	return idx.maxContext
}

// Get returns the row for an exact prefix.
func (idx *Index) Get(prefix string) (ranking.PrefixModel, bool) {
	item := idx.trie.Get(patricia.Prefix(prefix))
	if item == nil {
		return ranking.PrefixModel{}, false
	}
	return item.(ranking.PrefixModel), true
}

// Complete returns up to limit indexed prefixes that start with partial, in
// lexical order.
func (idx *Index) Complete(partial string, limit int) []string {
	var out []string
	_ = idx.trie.VisitSubtree(patricia.Prefix(partial), func(p patricia.Prefix, _ patricia.Item) error {
		out = append(out, string(p))
		return nil
	})
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// contexts lists the candidate lookup keys for text, longest first: the
// last n tokens for n from maxContext down to 1.
func contexts(text string, maxContext int) []string {
	tokens := ngram.Tokenize(text)
	if len(tokens) > maxContext {
		tokens = tokens[len(tokens)-maxContext:]
	}
	keys := make([]string, 0, len(tokens))
	for i := range tokens {
		keys = append(keys, strings.Join(tokens[i:], " "))
	}
	return keys
}
