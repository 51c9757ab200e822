// Package ranking implements the prefix ranking stage. Counted phrases are
// split into a prefix and a continuation word, regrouped by prefix, and each
// group is reduced to its top-K continuations with a percentage probability
// relative to the group's total surviving count.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ngram"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
)

// Candidate is one continuation word observed under a prefix.
type Candidate struct {
	Word  string `msgpack:"w" json:"word"`
	Count int64  `msgpack:"c" json:"count"`
}

// Entry is a published continuation with its probability in percent.
type Entry struct {
	Word        string  `json:"word"`
	Count       int64   `json:"count,omitempty"`
	Probability float64 `json:"probability"`
}

// PrefixModel is the ranked continuation table for one prefix. Total is the
// denominator used for every entry, including candidates truncated away.
type PrefixModel struct {
	Prefix  string  `json:"prefix"`
	Total   int64   `json:"total,omitempty"`
	Entries []Entry `json:"entries"`
}

// Outcome classifies what the map side did with one phrase record.
type Outcome int

const (
	Accepted Outcome = iota
	Malformed
	BelowThreshold
	OrderExcluded
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return metrics.OutcomeAccepted
	case Malformed:
		return metrics.OutcomeMalformed
	case BelowThreshold:
		return metrics.OutcomeBelowThreshold
	case OrderExcluded:
		return metrics.OutcomeOrderExcluded
	default:
		return "unknown"
	}
}

// Options are the ranking stage's run-time settings.
type Options struct {
	MinOccurrence int64
	// Order restricts ranking to phrases of exactly this many tokens; 0
	// accepts every phrase with a prefix.
	Order int
	TopK  int
}

// Ranker applies Options to phrase records and prefix groups.
type Ranker struct {
	opts Options
}

// New validates opts and returns a Ranker.
func New(opts Options) (*Ranker, error) {
	if opts.MinOccurrence < 1 {
		return nil, fmt.Errorf("%w: minimum occurrence must be at least 1", apperrors.ErrInvalidConfig)
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("%w: top-K must be at least 1", apperrors.ErrInvalidConfig)
	}
	if opts.Order != 0 && (opts.Order < 2 || opts.Order > ngram.MaxOrder) {
		return nil, fmt.Errorf("%w: ranking order %d (want 0 or 2-%d)", apperrors.ErrInvalidOrder, opts.Order, ngram.MaxOrder)
	}
	return &Ranker{opts: opts}, nil
}

// MapRecord parses one "<phrase>\t<count>" record and decides whether it
// enters ranking. Only Malformed comes with a non-nil error.
func (r *Ranker) MapRecord(record string) (prefix string, c Candidate, outcome Outcome, err error) {
	counted, err := counting.ParseRecord(record)
	if err != nil {
		return "", Candidate{}, Malformed, err
	}
	return r.MapCounted(counted)
}

// MapCounted is MapRecord for an already parsed record.
func (r *Ranker) MapCounted(counted counting.Counted) (prefix string, c Candidate, outcome Outcome, err error) {
	if !counting.MeetsThreshold(counted, r.opts.MinOccurrence) {
		return "", Candidate{}, BelowThreshold, nil
	}
	order := ngram.Order(counted.Phrase)
	if order > ngram.MaxOrder || (r.opts.Order != 0 && order != r.opts.Order) {
		return "", Candidate{}, OrderExcluded, nil
	}
	prefix, word, ok := ngram.Split(counted.Phrase)
	if !ok {
		return "", Candidate{}, OrderExcluded, nil
	}
	return prefix, Candidate{Word: word, Count: counted.Count}, Accepted, nil
}

// Rank reduces one prefix group. ok is false when no candidate with a
// positive count exists; such a group must not be published.
func (r *Ranker) Rank(prefix string, candidates []Candidate) (PrefixModel, bool) {
	return Rank(prefix, candidates, r.opts.TopK)
}

// Rank sums the counts of every candidate into the denominator, orders the
// candidates by count descending and word ascending, keeps the first topK,
// and attaches 100*count/total to each. Repeated words are merged first.
func Rank(prefix string, candidates []Candidate, topK int) (PrefixModel, bool) {
	byWord := make(map[string]int64, len(candidates))
	var total int64
	for _, c := range candidates {
		if c.Count <= 0 {
			continue
		}
		byWord[c.Word] += c.Count
		total += c.Count
	}
	if len(byWord) == 0 || total <= 0 {
		return PrefixModel{}, false
	}

	sorted := make([]Candidate, 0, len(byWord))
	for w, n := range byWord {
		sorted = append(sorted, Candidate{Word: w, Count: n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Word < sorted[j].Word
	})
	if topK > 0 && len(sorted) > topK {
		sorted = sorted[:topK]
	}

	model := PrefixModel{
		Prefix:  prefix,
		Total:   total,
		Entries: make([]Entry, 0, len(sorted)),
	}
	for _, c := range sorted {
		model.Entries = append(model.Entries, Entry{
			Word:        c.Word,
			Count:       c.Count,
			Probability: Probability(c.Count, total),
		})
	}
	return model, true
}

// Probability returns count as a percentage of total.
func Probability(count, total int64) float64 {
	return float64(count) * 100.0 / float64(total)
}

// FormatProbability renders p as the shortest decimal that parses back to
// the same float64, always with a fractional part ("50.0"), switching to
// "d.dddE-n" notation below 0.001. This is the cell format of previously
// published tables, so rows written by reruns compare equal.
func FormatProbability(p float64) string {
	if p == 0 {
		return "0.0"
	}
	if abs := math.Abs(p); abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(p, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(p, 'E', -1, 64), "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	e, _ := strconv.Atoi(exp)
	return mantissa + "E" + strconv.Itoa(e)
}

// ParseProbability is the inverse of FormatProbability.
func ParseProbability(s string) (float64, error) {
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: probability %q", apperrors.ErrMalformedRecord, s)
	}
	return p, nil
}

// Cells renders the model as the word -> probability columns of its row.
func (m PrefixModel) Cells() map[string]string {
	cells := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		cells[e.Word] = FormatProbability(e.Probability)
	}
	return cells
}

// FromCells rebuilds a model from stored cells. Stored rows carry no counts,
// so entries are ordered by probability descending and word ascending, which
// matches the order they were published in.
func FromCells(prefix string, cells map[string]string) (PrefixModel, error) {
	model := PrefixModel{Prefix: prefix, Entries: make([]Entry, 0, len(cells))}
	for word, v := range cells {
		p, err := ParseProbability(v)
		if err != nil {
			return PrefixModel{}, fmt.Errorf("prefix %q word %q: %w", prefix, word, err)
		}
		model.Entries = append(model.Entries, Entry{Word: word, Probability: p})
	}
	SortEntries(model.Entries)
	return model, nil
}

// SortEntries orders entries by probability descending, then word ascending.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Probability != entries[j].Probability {
			return entries[i].Probability > entries[j].Probability
		}
		return entries[i].Word < entries[j].Word
	})
}
