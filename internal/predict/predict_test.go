package predict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/sink"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
)

func seededStore(t *testing.T) *sink.MemoryStore {
	t.Helper()
	store := sink.NewMemoryStore()
	rows := map[string][]ranking.Candidate{
		"the cat":  {{Word: "sat", Count: 1}, {Word: "ran", Count: 1}},
		"the dog":  {{Word: "sat", Count: 1}},
		"cat":      {{Word: "sat", Count: 3}, {Word: "ran", Count: 1}},
		"the":      {{Word: "cat", Count: 2}, {Word: "dog", Count: 1}},
		"them all": {{Word: "now", Count: 1}},
	}
	for prefix, cands := range rows {
		m, _ := ranking.Rank(prefix, cands, 5)
		if err := store.Put(context.Background(), m); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return store
}

func words(entries []ranking.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Word
	}
	return out
}

func TestPredictBacksOff(t *testing.T) {
	svc := NewService(seededStore(t), 5, nil)
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	tests := []struct {
		text    string
		context string
		backoff int
		words   []string
	}{
		{"The cat", "the cat", 0, []string{"ran", "sat"}},
		{"I saw that the dog", "the dog", 2, []string{"sat"}},
		{"a fat cat", "cat", 2, []string{"sat", "ran"}},
		{"THE", "the", 0, []string{"cat", "dog"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p, err := svc.Predict(context.Background(), tt.text, 5)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if p.Context != tt.context || p.Backoff != tt.backoff {
				t.Errorf("context = %q backoff %d, want %q backoff %d", p.Context, p.Backoff, tt.context, tt.backoff)
			}
			if got := words(p.Predictions); !reflect.DeepEqual(got, tt.words) {
				t.Errorf("words = %v, want %v", got, tt.words)
			}
		})
	}
}

func TestPredictMissAndInvalid(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(seededStore(t), 5, m)
	_ = svc.Reload(context.Background())
	if _, err := svc.Predict(context.Background(), "zebra", 5); !errors.Is(err, apperrors.ErrPrefixNotFound) {
		t.Errorf("err = %v, want ErrPrefixNotFound", err)
	}
	if _, err := svc.Predict(context.Background(), "!!! 42", 5); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if got := testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss count = %v, want 1", got)
	}
}

func TestPredictLimit(t *testing.T) {
	svc := NewService(seededStore(t), 5, nil)
	_ = svc.Reload(context.Background())
	p, err := svc.Predict(context.Background(), "cat", 1)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(p.Predictions) != 1 || p.Predictions[0].Word != "sat" {
		t.Errorf("predictions = %+v", p.Predictions)
	}
}

type countingStore struct {
	*sink.MemoryStore
	gets atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, prefix string) (ranking.PrefixModel, error) {
	c.gets.Add(1)
	return c.MemoryStore.Get(ctx, prefix)
}

func TestPredictWithoutIndexUsesStore(t *testing.T) {
	store := &countingStore{MemoryStore: seededStore(t)}
	svc := NewService(store, 3, nil)
	if svc.Ready() {
		t.Fatal("service ready before Reload")
	}
	p, err := svc.Predict(context.Background(), "over the cat", 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Context != "the cat" {
		t.Errorf("context = %q, want %q", p.Context, "the cat")
	}
	if got := store.gets.Load(); got != 1 {
		t.Errorf("store Get called %d times, want 1", got)
	}
}

func TestComplete(t *testing.T) {
	svc := NewService(seededStore(t), 5, nil)
	if _, err := svc.Complete("the", 10); !errors.Is(err, apperrors.ErrSinkUnavailable) {
		t.Errorf("Complete before Reload err = %v", err)
	}
	_ = svc.Reload(context.Background())
	got, err := svc.Complete("The", 10)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if want := []string{"the", "the cat", "the dog", "them all"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Complete(The) = %v, want %v", got, want)
	}
	got, _ = svc.Complete("the ", 10)
	if want := []string{"the cat", "the dog"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Complete(the ) = %v, want %v", got, want)
	}
	got, _ = svc.Complete("the", 2)
	if len(got) != 2 {
		t.Errorf("limit ignored: %v", got)
	}
}

func TestHandler(t *testing.T) {
	svc := NewService(seededStore(t), 5, nil)
	_ = svc.Reload(context.Background())
	mux := http.NewServeMux()
	NewHandler(svc, 5, 10).Routes(mux)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"predict", http.MethodGet, "/api/v1/predict?q=the+cat", http.StatusOK},
		{"missing query", http.MethodGet, "/api/v1/predict", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/predict?q=cat&limit=zero", http.StatusBadRequest},
		{"unknown context", http.MethodGet, "/api/v1/predict?q=zebra", http.StatusNotFound},
		{"complete", http.MethodGet, "/api/v1/complete?q=the", http.StatusOK},
		{"reload", http.MethodPost, "/api/v1/reload", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predict?q=the+cat", nil))
	var p Prediction
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if p.Context != "the cat" || len(p.Predictions) != 2 || p.Predictions[0].Probability != 50 {
		t.Errorf("response = %+v", p)
	}
}
