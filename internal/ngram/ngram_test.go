package ngram

import (
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "the cat sat", "the cat sat"},
		{"mixed case", "The Cat SAT", "the cat sat"},
		{"punctuation", "Hello, world! It's 9am.", "hello world it s am"},
		{"runs of spaces", "  a   b\t\tc  ", "a b c"},
		{"non ascii letters", "café naïve", "caf na ve"},
		{"digits only", "1234 5678", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		line string
		n    int
		want []string
	}{
		{"unigrams", "The cat sat", 1, []string{"the", "cat", "sat"}},
		{"bigrams", "The cat sat", 2, []string{"the cat", "cat sat"}},
		{"trigram exact fit", "The cat sat", 3, []string{"the cat sat"}},
		{"too short", "The cat sat", 4, nil},
		{"punctuation joins nothing", "the--cat", 2, []string{"the cat"}},
		{"empty line", "", 1, nil},
		{"only symbols", "!!! 42 ???", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.line, tt.n)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q, %d) = %q, want %q", tt.line, tt.n, got, tt.want)
			}
		})
	}
}

func TestExtractWindowCount(t *testing.T) {
	lines := []string{
		"",
		"one",
		"one two",
		"The quick brown fox jumps over the lazy dog",
		"a, b; c. d! e? f",
		"   leading and trailing   ",
	}
	for _, line := range lines {
		tokens := len(Tokenize(line))
		for n := 1; n <= MaxOrder; n++ {
			got, err := Extract(line, n)
			if err != nil {
				t.Fatalf("Extract(%q, %d): %v", line, n, err)
			}
			want := tokens - n + 1
			if want < 0 {
				want = 0
			}
			if len(got) != want {
				t.Errorf("Extract(%q, %d) produced %d windows, want %d", line, n, len(got), want)
			}
		}
	}
}

func TestExtractRejectsInvalidOrder(t *testing.T) {
	for _, n := range []int{0, -1, 6} {
		if _, err := Extract("the cat", n); !errors.Is(err, apperrors.ErrInvalidOrder) {
			t.Errorf("Extract(n=%d) error = %v, want ErrInvalidOrder", n, err)
		}
	}
}

func TestExtractorAll(t *testing.T) {
	e, err := NewExtractor(1, 3)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	got := e.All("the cat sat")
	want := []string{"the", "cat", "sat", "the cat", "cat sat", "the cat sat"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %q, want %q", got, want)
	}
}

func TestNewExtractorValidation(t *testing.T) {
	if _, err := NewExtractor(3, 2); !errors.Is(err, apperrors.ErrInvalidOrder) {
		t.Errorf("NewExtractor(3, 2) error = %v, want ErrInvalidOrder", err)
	}
	if _, err := NewExtractor(1, 6); !errors.Is(err, apperrors.ErrInvalidOrder) {
		t.Errorf("NewExtractor(1, 6) error = %v, want ErrInvalidOrder", err)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		gram   string
		prefix string
		last   string
		ok     bool
	}{
		{"the cat sat", "the cat", "sat", true},
		{"the cat", "the", "cat", true},
		{"cat", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		prefix, last, ok := Split(tt.gram)
		if prefix != tt.prefix || last != tt.last || ok != tt.ok {
			t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.gram, prefix, last, ok, tt.prefix, tt.last, tt.ok)
		}
	}
}

func TestOrder(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "a b": 2, "a b c d e": 5}
	for gram, want := range cases {
		if got := Order(gram); got != want {
			t.Errorf("Order(%q) = %d, want %d", gram, got, want)
		}
	}
}
