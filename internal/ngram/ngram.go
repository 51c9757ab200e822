// Package ngram turns raw text lines into canonical n-grams. Text is reduced
// to lower-case ASCII letters, split into word tokens, and every contiguous
// window of n tokens is rendered back as a single-space-joined string.
package ngram

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// MaxOrder is the longest window Extract accepts.
const MaxOrder = 5

// Normalize replaces every character that is not an ASCII letter with a
// space, lower-cases the result, collapses runs of spaces and trims the ends.
func Normalize(line string) string {
	return strings.Join(Tokenize(line), " ")
}

// Tokenize returns the lower-cased ASCII-letter words of line. Empty tokens
// never appear in the result.
func Tokenize(line string) []string {
	words := strings.FieldsFunc(line, func(r rune) bool {
		return !isASCIILetter(r)
	})
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// Windows renders every length-n window of tokens, in order of start index.
// It returns nil when there are fewer than n tokens.
func Windows(tokens []string, n int) []string {
	if n < 1 || len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// Extract returns the order-n n-grams of line.
func Extract(line string, n int) ([]string, error) {
	if err := ValidateOrder(n); err != nil {
		return nil, err
	}
	return Windows(Tokenize(line), n), nil
}

// ValidateOrder reports whether n is a supported n-gram order.
func ValidateOrder(n int) error {
	if n < 1 || n > MaxOrder {
		return fmt.Errorf("%w: %d (supported 1-%d)", apperrors.ErrInvalidOrder, n, MaxOrder)
	}
	return nil
}

// Extractor produces the n-grams of several consecutive orders from one
// line, tokenizing it only once.
type Extractor struct {
	minOrder int
	maxOrder int
}

// NewExtractor creates an Extractor for orders minOrder..maxOrder inclusive.
func NewExtractor(minOrder, maxOrder int) (*Extractor, error) {
	if err := ValidateOrder(minOrder); err != nil {
		return nil, err
	}
	if err := ValidateOrder(maxOrder); err != nil {
		return nil, err
	}
	if minOrder > maxOrder {
		return nil, fmt.Errorf("%w: min order %d above max order %d", apperrors.ErrInvalidOrder, minOrder, maxOrder)
	}
	return &Extractor{minOrder: minOrder, maxOrder: maxOrder}, nil
}

// Each calls fn for every n-gram of every configured order, lowest order
// first. Within an order, windows arrive in start-index order.
func (e *Extractor) Each(line string, fn func(gram string)) {
	tokens := Tokenize(line)
	for n := e.minOrder; n <= e.maxOrder; n++ {
		for _, gram := range Windows(tokens, n) {
			fn(gram)
		}
	}
}

// All collects the output of Each into a slice.
func (e *Extractor) All(line string) []string {
	var out []string
	e.Each(line, func(gram string) {
		out = append(out, gram)
	})
	return out
}

// Split separates an n-gram into its prefix (every token but the last) and
// its final token. ok is false for unigrams and empty input.
func Split(gram string) (prefix, last string, ok bool) {
	idx := strings.LastIndexByte(gram, ' ')
	if idx <= 0 || idx == len(gram)-1 {
		return "", "", false
	}
	return gram[:idx], gram[idx+1:], true
}

// Order returns the number of tokens in a canonical n-gram.
func Order(gram string) int {
	if gram == "" {
		return 0
	}
	return strings.Count(gram, " ") + 1
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
