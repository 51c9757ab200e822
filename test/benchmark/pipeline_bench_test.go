package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
)

func corpus(lines int) []string {
	words := strings.Fields(strings.ToLower(sampleTexts["long"]))
	out := make([]string, lines)
	for i := range out {
		start := (i * 7) % (len(words) - 12)
		out[i] = strings.Join(words[start:start+12], " ")
	}
	return out
}

// BenchmarkCountAndRank runs both stages end to end with the in-memory
// shuffle, varying the reduce degree.
func BenchmarkCountAndRank(b *testing.B) {
	lines := corpus(2000)
	for _, reducers := range []int{1, 4, 16} {
		cfg := config.Default().Pipeline
		cfg.ReduceTasks = reducers
		cfg.ShardLines = 250
		p, err := pipeline.New(cfg)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("reducers_%d", reducers), func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				counted, err := p.Count(ctx, lines)
				if err != nil {
					b.Fatal(err)
				}
				records := make([]string, len(counted))
				for j, c := range counted {
					records[j] = counting.FormatRecord(c)
				}
				if _, _, err := p.Rank(ctx, records); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCountSpill measures the cost of spilling map output to msgpack
// files.
func BenchmarkCountSpill(b *testing.B) {
	lines := corpus(2000)
	cfg := config.Default().Pipeline
	cfg.ShardLines = 250
	cfg.WorkDir = b.TempDir()
	p, err := pipeline.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Count(ctx, lines); err != nil {
			b.Fatal(err)
		}
	}
}
