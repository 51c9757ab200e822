// Command lmload drives the predictor with next-word queries and reports
// throughput, hit rate and latency percentiles.
//
// Queries are the leading words of corpus lines when -corpus is given, so a
// model built from the same corpus should answer most of them.
//
// Usage:
//
//	go run ./cmd/lmload -url http://localhost:8080 -corpus corpus.txt -duration 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ngram"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/source"
)

var defaultQueries = []string{
	"the",
	"of the",
	"it was the",
	"in the middle of",
	"i do not",
	"there is a",
	"one of the",
	"at the end of the",
}

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

type Stats struct {
	total   atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
	limited atomic.Int64
	errors  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

// Record classifies one response: 200 is a hit, 404 a query with no stored
// context, 429 a rate-limited request, anything else an error.
func (s *Stats) Record(d time.Duration, status int, err error) {
	s.total.Add(1)
	switch {
	case err != nil:
		s.errors.Add(1)
		return
	case status == http.StatusOK:
		s.hits.Add(1)
	case status == http.StatusNotFound:
		s.misses.Add(1)
	case status == http.StatusTooManyRequests:
		s.limited.Add(1)
	default:
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the predictor")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 5, "predictions requested per query")
	corpus := flag.String("corpus", "", "corpus file or directory to draw queries from")
	sample := flag.Int("queries", 1000, "distinct queries to draw from the corpus")
	flag.Parse()

	queries := defaultQueries
	if *corpus != "" {
		var err error
		queries, err = loadQueries(context.Background(), *corpus, *sample)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading queries: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		Queries:     queries,
	}

	fmt.Println("=== Predictor Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %s distinct\n", humanize.Comma(int64(len(cfg.Queries))))
	fmt.Println()

	stats := run(cfg)
	if !report(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

// loadQueries takes between one and four leading words of corpus lines,
// skipping lines too short to have a continuation.
func loadQueries(ctx context.Context, path string, n int) ([]string, error) {
	rng := rand.New(rand.NewSource(1))
	seen := make(map[string]struct{})
	var queries []string
	err := source.NewFileSource(path).Each(ctx, func(line string) error {
		if len(queries) >= n {
			return nil
		}
		tokens := ngram.Tokenize(line)
		if len(tokens) < 2 {
			return nil
		}
		width := 1 + rng.Intn(min(4, len(tokens)-1))
		q := strings.Join(tokens[:width], " ")
		if _, dup := seen[q]; !dup {
			seen[q] = struct{}{}
			queries = append(queries, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable lines in %s", path)
	}
	return queries, nil
}

func run(cfg Config) *Stats {
	stats := &Stats{latencies: make([]time.Duration, 0, 100000)}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				q := cfg.Queries[i%len(cfg.Queries)]
				target := fmt.Sprintf("%s/api/v1/predict?q=%s&limit=%d", cfg.BaseURL, url.QueryEscape(q), cfg.Limit)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return err
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.Record(elapsed, 0, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.Record(elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "worker failed: %v\n", err)
	}
	return stats
}

// report prints the summary and returns false when nothing completed.
func report(w io.Writer, s *Stats, duration time.Duration) bool {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %s\n", humanize.Comma(total))
	fmt.Fprintf(w, "Hits:            %s\n", humanize.Comma(s.hits.Load()))
	fmt.Fprintf(w, "Misses:          %s\n", humanize.Comma(s.misses.Load()))
	fmt.Fprintf(w, "Rate Limited:    %s\n", humanize.Comma(s.limited.Load()))
	fmt.Fprintf(w, "Errors:          %s\n", humanize.Comma(s.errors.Load()))
	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the predictor running?")
		return false
	}
	answered := s.hits.Load() + s.misses.Load()
	if answered > 0 {
		fmt.Fprintf(w, "Hit Rate:        %.2f%%\n", float64(s.hits.Load())/float64(answered)*100)
	}
	fmt.Fprintf(w, "Requests/sec:    %s\n", humanize.CommafWithDigits(float64(total)/duration.Seconds(), 2))

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	s.mu.Unlock()
	if len(latencies) == 0 {
		return true
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Latency ===")
	fmt.Fprintf(w, "Min:    %s\n", latencies[0])
	fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
	for _, p := range []float64{50, 90, 95, 99} {
		fmt.Fprintf(w, "P%-2.0f:    %s\n", p, percentile(latencies, p))
	}
	fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
