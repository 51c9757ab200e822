package sink

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/sqlite"
)

func sampleModel(prefix string) ranking.PrefixModel {
	m, _ := ranking.Rank(prefix, []ranking.Candidate{{Word: "ran", Count: 1}, {Word: "sat", Count: 1}}, 5)
	return m
}

// published strips counts and totals, which no backend stores.
func published(m ranking.PrefixModel) ranking.PrefixModel {
	out := ranking.PrefixModel{Prefix: m.Prefix}
	for _, e := range m.Entries {
		out.Entries = append(out.Entries, ranking.Entry{Word: e.Word, Probability: e.Probability})
	}
	return out
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	client, err := sqlite.Open(config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	store, err := NewSQLStore(context.Background(), client, "language_model")
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTSVStore(t *testing.T) *TSVStore {
	t.Helper()
	store, err := NewTSVStore(filepath.Join(t.TempDir(), "model.tsv"), true)
	if err != nil {
		t.Fatalf("NewTSVStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newSQLiteStore(t) },
		"tsv":    func(t *testing.T) Store { return newTSVStore(t) },
		"redis":  func(*testing.T) Store { return NewRedisStore(newFakeHash(), "lm:", "Probability") },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)

			if _, err := store.Get(ctx, "the cat"); !errors.Is(err, apperrors.ErrPrefixNotFound) {
				t.Fatalf("Get on empty store = %v, want ErrPrefixNotFound", err)
			}
			if err := store.Put(ctx, ranking.PrefixModel{Prefix: "empty"}); !errors.Is(err, apperrors.ErrEmptyGroup) {
				t.Errorf("Put(empty) = %v, want ErrEmptyGroup", err)
			}

			first := sampleModel("the cat")
			if err := store.Put(ctx, first); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := store.Get(ctx, "the cat")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !reflect.DeepEqual(published(got), published(first)) {
				t.Errorf("Get = %+v, want %+v", got, first)
			}

			// A rerun with different results replaces the whole row.
			second, _ := ranking.Rank("the cat", []ranking.Candidate{{Word: "slept", Count: 4}}, 5)
			if err := store.Put(ctx, second); err != nil {
				t.Fatalf("Put replacement: %v", err)
			}
			if err := store.Put(ctx, sampleModel("the dog")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, _ = store.Get(ctx, "the cat")
			if !reflect.DeepEqual(published(got), published(second)) {
				t.Errorf("after replace Get = %+v, want %+v", got, second)
			}

			var prefixes []string
			err = store.Scan(ctx, func(m ranking.PrefixModel) error {
				if len(m.Entries) == 0 {
					t.Errorf("Scan yielded empty row %q", m.Prefix)
				}
				prefixes = append(prefixes, m.Prefix)
				return nil
			})
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if want := []string{"the cat", "the dog"}; !reflect.DeepEqual(prefixes, want) {
				t.Errorf("Scan prefixes = %v, want %v", prefixes, want)
			}
		})
	}
}

func TestSQLStoreRejectsBadTable(t *testing.T) {
	client, err := sqlite.Open(config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	if _, err := NewSQLStore(context.Background(), client, "model; DROP TABLE x"); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestSQLStoreBindsPostgresPlaceholders(t *testing.T) {
	s := &SQLStore{numbered: true}
	got := s.bind("INSERT INTO t VALUES (?, ?, ?)")
	if want := "INSERT INTO t VALUES ($1, $2, $3)"; got != want {
		t.Errorf("bind = %q, want %q", got, want)
	}
}

func TestReadTSVRejectsBrokenLines(t *testing.T) {
	_, err := ReadTSV(context.Background(), strings.NewReader("the cat\t1\tsat\n"))
	if !errors.Is(err, apperrors.ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Sink.Driver = "hbase"
	if _, err := Open(cfg, true); !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, m ranking.PrefixModel) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Put(ctx, m)
}

func TestWriterRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(2)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := NewWriter(store, WriterOptions{
		Driver:     "memory",
		Attempts:   3,
		RetryDelay: time.Millisecond,
		Metrics:    m,
	})
	if err := w.Write(context.Background(), sampleModel("the cat")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := store.calls.Load(); got != 3 {
		t.Errorf("Put called %d times, want 3", got)
	}
	if got := testutil.ToFloat64(m.PrefixesPublishedTotal); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
}

func TestWriterDoesNotRetryEmptyRows(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	w := NewWriter(store, WriterOptions{Driver: "memory", Attempts: 5, RetryDelay: time.Millisecond})
	err := w.Write(context.Background(), ranking.PrefixModel{Prefix: "x"})
	if !errors.Is(err, apperrors.ErrEmptyGroup) {
		t.Fatalf("err = %v, want ErrEmptyGroup", err)
	}
	if got := store.calls.Load(); got != 1 {
		t.Errorf("Put called %d times, want 1", got)
	}
}

func TestWriterOpensBreaker(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	store.failures.Store(1000)
	w := NewWriter(store, WriterOptions{
		Driver:     "memory",
		Attempts:   1,
		RetryDelay: time.Millisecond,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		},
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := w.Write(ctx, sampleModel("p")); err == nil {
			t.Fatal("Write succeeded against failing store")
		}
	}
	err := w.Write(ctx, sampleModel("p"))
	if !errors.Is(err, apperrors.ErrSinkUnavailable) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrSinkUnavailable wrapping ErrCircuitOpen", err)
	}
	if got := store.calls.Load(); got != 2 {
		t.Errorf("Put called %d times, want 2", got)
	}
}

func TestWriteAll(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, WriterOptions{Driver: "memory", Parallelism: 4})
	var models []ranking.PrefixModel
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		models = append(models, sampleModel(p))
	}
	n, err := w.WriteAll(context.Background(), models)
	if err != nil || n != len(models) {
		t.Fatalf("WriteAll = %d, %v", n, err)
	}
	if store.Len() != len(models) {
		t.Errorf("store has %d rows, want %d", store.Len(), len(models))
	}
}

// fakeHash is an in-process stand-in for the Redis client.
type fakeHash struct {
	mu   sync.Mutex
	keys map[string]map[string]string
}

func newFakeHash() *fakeHash {
	return &fakeHash{keys: make(map[string]map[string]string)}
}

func (f *fakeHash) ReplaceHash(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := make(map[string]string, len(fields))
	for k, v := range fields {
		row[k] = v
	}
	f.keys[key] = row
	return nil
}

func (f *fakeHash) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.keys[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHash) ScanKeys(_ context.Context, pattern string, fn func(string) error) error {
	f.mu.Lock()
	var keys []string
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.keys {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeHash) Close() error { return nil }

func TestRedisStoreFieldLayout(t *testing.T) {
	h := newFakeHash()
	s := NewRedisStore(h, "lm:", "Probability")
	if err := s.Put(context.Background(), sampleModel("the cat")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := map[string]string{"Probability:ran": "50.0", "Probability:sat": "50.0"}
	if got := h.keys["lm:the cat"]; !reflect.DeepEqual(got, want) {
		t.Errorf("hash = %v, want %v", got, want)
	}
}
