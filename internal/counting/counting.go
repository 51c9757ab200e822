// Package counting implements the n-gram counting stage: a stateless map
// that emits one unit per n-gram occurrence, an associative sum used both as
// combiner and reducer, and the tab-separated phrase/count record format
// exchanged with the ranking stage.
package counting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ngram"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// Counted is the total number of occurrences of one distinct n-gram.
type Counted struct {
	Phrase string `msgpack:"p" json:"phrase"`
	Count  int64  `msgpack:"c" json:"count"`
}

// Mapper emits (n-gram, 1) for every window of every configured order.
type Mapper struct {
	extractor *ngram.Extractor
}

// NewMapper creates a Mapper for orders minOrder..maxOrder.
func NewMapper(minOrder, maxOrder int) (*Mapper, error) {
	e, err := ngram.NewExtractor(minOrder, maxOrder)
	if err != nil {
		return nil, err
	}
	return &Mapper{extractor: e}, nil
}

// Map calls emit once per n-gram occurrence in line.
func (m *Mapper) Map(line string, emit func(gram string, one int64)) {
	m.extractor.Each(line, func(gram string) {
		emit(gram, 1)
	})
}

// Sum adds partial counts. It is associative and commutative, so it serves
// as combiner and reducer alike.
func Sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

// Reduce folds all partial counts of one n-gram. ok is false when the total
// is zero, in which case nothing must be emitted.
func Reduce(phrase string, values []int64) (Counted, bool) {
	total := Sum(values)
	if total < 1 {
		return Counted{}, false
	}
	return Counted{Phrase: phrase, Count: total}, true
}

// FormatRecord renders c as "<phrase>\t<count>".
func FormatRecord(c Counted) string {
	return c.Phrase + "\t" + strconv.FormatInt(c.Count, 10)
}

// ParseRecord parses a "<phrase>\t<count>" record. The phrase is returned in
// canonical single-space form; anything else that does not fit the shape is
// reported as a RecordError wrapping ErrMalformedRecord.
func ParseRecord(record string) (Counted, error) {
	record = strings.TrimRight(record, "\r\n")
	phrase, countStr, found := strings.Cut(record, "\t")
	if !found {
		return Counted{}, apperrors.Malformed(record, "missing tab separator")
	}
	if strings.Contains(countStr, "\t") {
		return Counted{}, apperrors.Malformed(record, "too many fields")
	}
	phrase = strings.Join(strings.Fields(phrase), " ")
	if phrase == "" {
		return Counted{}, apperrors.Malformed(record, "empty phrase")
	}
	count, err := strconv.ParseInt(strings.TrimSpace(countStr), 10, 64)
	if err != nil {
		return Counted{}, apperrors.Malformed(record, "count %q is not an integer", countStr)
	}
	if count < 0 {
		return Counted{}, apperrors.Malformed(record, "negative count %d", count)
	}
	return Counted{Phrase: phrase, Count: count}, nil
}

// MeetsThreshold reports whether c survives a minimum-occurrence filter.
func MeetsThreshold(c Counted, minOccurrence int64) bool {
	return c.Count >= minOccurrence
}

func (c Counted) String() string {
	return fmt.Sprintf("%s:%d", c.Phrase, c.Count)
}
