package ranking

import (
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

func words(m PrefixModel) []string {
	out := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e.Word)
	}
	return out
}

func TestRankTieBreak(t *testing.T) {
	model, ok := Rank("the", []Candidate{{"dog", 3}, {"cat", 3}, {"bird", 1}}, 5)
	if !ok {
		t.Fatal("Rank returned no model")
	}
	if got, want := words(model), []string{"cat", "dog", "bird"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if model.Total != 7 {
		t.Errorf("Total = %d, want 7", model.Total)
	}
}

func TestRankIndependentOfArrivalOrder(t *testing.T) {
	a := []Candidate{{"b", 2}, {"a", 2}, {"c", 5}, {"d", 1}}
	b := []Candidate{{"d", 1}, {"c", 5}, {"a", 2}, {"b", 2}}
	ma, _ := Rank("x", a, 5)
	mb, _ := Rank("x", b, 5)
	if !reflect.DeepEqual(ma, mb) {
		t.Errorf("models differ by arrival order:\n%+v\n%+v", ma, mb)
	}
}

func TestRankTruncatesButKeepsDenominator(t *testing.T) {
	candidates := []Candidate{
		{"a", 8}, {"b", 7}, {"c", 6}, {"d", 5},
		{"e", 4}, {"f", 3}, {"g", 2}, {"h", 1},
	}
	model, ok := Rank("p", candidates, 5)
	if !ok {
		t.Fatal("Rank returned no model")
	}
	if got, want := words(model), []string{"a", "b", "c", "d", "e"}; !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %v, want %v", got, want)
	}
	if model.Total != 36 {
		t.Errorf("Total = %d, want 36", model.Total)
	}
	var publishedCount int64
	var sum float64
	for _, e := range model.Entries {
		publishedCount += e.Count
		sum += e.Probability
		if e.Probability <= 0 || e.Probability > 100 {
			t.Errorf("probability %v of %q outside (0, 100]", e.Probability, e.Word)
		}
	}
	if publishedCount > model.Total {
		t.Errorf("published counts %d exceed denominator %d", publishedCount, model.Total)
	}
	if sum >= 100 {
		t.Errorf("truncated probabilities sum to %v, want < 100", sum)
	}
	if want := 8 * 100.0 / 36; model.Entries[0].Probability != want {
		t.Errorf("top probability = %v, want %v", model.Entries[0].Probability, want)
	}
}

func TestRankEmptyGroup(t *testing.T) {
	if _, ok := Rank("p", nil, 5); ok {
		t.Error("Rank(nil) produced a model")
	}
	if _, ok := Rank("p", []Candidate{{"a", 0}}, 5); ok {
		t.Error("Rank with only zero counts produced a model")
	}
}

func TestRankMergesRepeatedWords(t *testing.T) {
	model, _ := Rank("p", []Candidate{{"a", 1}, {"b", 2}, {"a", 2}}, 5)
	want := []Entry{
		{Word: "a", Count: 3, Probability: 60},
		{Word: "b", Count: 2, Probability: 40},
	}
	if !reflect.DeepEqual(model.Entries, want) {
		t.Errorf("entries = %+v, want %+v", model.Entries, want)
	}
}

func TestMapRecordOutcomes(t *testing.T) {
	r, err := New(Options{MinOccurrence: 2, Order: 3, TopK: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		name    string
		record  string
		outcome Outcome
		prefix  string
		cand    Candidate
	}{
		{"accepted", "the cat sat\t4", Accepted, "the cat", Candidate{"sat", 4}},
		{"extra whitespace", "the  cat sat \t 2", Accepted, "the cat", Candidate{"sat", 2}},
		{"below threshold", "the cat sat\t1", BelowThreshold, "", Candidate{}},
		{"wrong order", "the cat\t9", OrderExcluded, "", Candidate{}},
		{"missing tab", "the cat sat 4", Malformed, "", Candidate{}},
		{"non numeric", "the cat sat\tfour", Malformed, "", Candidate{}},
		{"negative", "the cat sat\t-3", Malformed, "", Candidate{}},
		{"empty phrase", "\t3", Malformed, "", Candidate{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, cand, outcome, err := r.MapRecord(tt.record)
			if outcome != tt.outcome {
				t.Fatalf("outcome = %v, want %v (err %v)", outcome, tt.outcome, err)
			}
			if tt.outcome == Malformed {
				if !errors.Is(err, apperrors.ErrMalformedRecord) {
					t.Errorf("err = %v, want ErrMalformedRecord", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if prefix != tt.prefix || cand != tt.cand {
				t.Errorf("got (%q, %+v), want (%q, %+v)", prefix, cand, tt.prefix, tt.cand)
			}
		})
	}
}

func TestMapRecordAnyOrder(t *testing.T) {
	r, _ := New(Options{MinOccurrence: 1, Order: 0, TopK: 5})
	if _, _, outcome, _ := r.MapRecord("cat\t10"); outcome != OrderExcluded {
		t.Errorf("unigram outcome = %v, want %v", outcome, OrderExcluded)
	}
	prefix, cand, outcome, _ := r.MapRecord("a b c d e\t3")
	if outcome != Accepted || prefix != "a b c d" || cand.Word != "e" {
		t.Errorf("5-gram mapped to (%q, %+v, %v)", prefix, cand, outcome)
	}
	if _, _, outcome, _ := r.MapRecord("a b c d e f\t3"); outcome != OrderExcluded {
		t.Errorf("6-gram outcome = %v, want %v", outcome, OrderExcluded)
	}
}

func TestNewValidates(t *testing.T) {
	bad := []Options{
		{MinOccurrence: 0, TopK: 5},
		{MinOccurrence: 2, TopK: 0},
		{MinOccurrence: 2, TopK: 5, Order: 1},
		{MinOccurrence: 2, TopK: 5, Order: 6},
	}
	for _, opts := range bad {
		if _, err := New(opts); err == nil {
			t.Errorf("New(%+v) succeeded, want error", opts)
		}
	}
}

func TestFormatProbability(t *testing.T) {
	cases := map[float64]string{
		50:         "50.0",
		100:        "100.0",
		100.0 / 3:  "33.333333333333336",
		12.5:       "12.5",
		0.0001:     "1.0E-4",
		0.00012345: "1.2345E-4",
		0:          "0.0",
	}
	for p, want := range cases {
		if got := FormatProbability(p); got != want {
			t.Errorf("FormatProbability(%v) = %q, want %q", p, got, want)
		}
		back, err := ParseProbability(FormatProbability(p))
		if err != nil || back != p {
			t.Errorf("ParseProbability(FormatProbability(%v)) = %v, %v", p, back, err)
		}
	}
}

func TestFromCellsRestoresPublishedOrder(t *testing.T) {
	model, _ := Rank("the", []Candidate{{"dog", 3}, {"cat", 3}, {"bird", 1}}, 5)
	restored, err := FromCells("the", model.Cells())
	if err != nil {
		t.Fatalf("FromCells: %v", err)
	}
	if got, want := words(restored), words(model); !reflect.DeepEqual(got, want) {
		t.Errorf("restored order = %v, want %v", got, want)
	}
	if _, err := FromCells("the", map[string]string{"x": "nope"}); !errors.Is(err, apperrors.ErrMalformedRecord) {
		t.Errorf("bad cell error = %v, want ErrMalformedRecord", err)
	}
}
