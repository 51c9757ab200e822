// Command lmbuild builds an n-gram language model from a text corpus.
//
// It counts every n-gram of the corpus, keeps the phrases seen at least
// minOccurrence times, and publishes for every prefix its top-K next words
// with their probabilities to the configured sink.
//
// Usage:
//
//	lmbuild [-config lm.yaml] count [flags] <corpus paths...>   > counted.tsv
//	lmbuild [-config lm.yaml] rank  [flags] <counted paths...>
//	lmbuild [-config lm.yaml] run   [flags] <corpus paths...>
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/source"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("lmbuild failed", "error", err)
		fmt.Fprintf(os.Stderr, "lmbuild: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lmbuild",
		Usage: "build an n-gram next-word model from a text corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or TOML config file", EnvVars: []string{"LM_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json, text or pretty"},
		},
		Commands: []*cli.Command{
			{
				Name:      "count",
				Usage:     "count n-grams and print phrase<TAB>count records",
				ArgsUsage: "<corpus paths...>",
				Flags:     append(countFlags(), &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write records to this file instead of stdout"}),
				Action:    countAction,
			},
			{
				Name:      "rank",
				Usage:     "rank phrase<TAB>count records and write the model",
				ArgsUsage: "<record paths...>",
				Flags:     append(rankFlags(), sinkFlags()...),
				Action:    rankAction,
			},
			{
				Name:      "run",
				Usage:     "count and rank a corpus in one pass",
				ArgsUsage: "<corpus paths...>",
				Flags:     append(append(countFlags(), rankFlags()...), sinkFlags()...),
				Action:    runAction,
			},
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "map-tasks", Usage: "concurrent tasks"},
		&cli.IntFlag{Name: "reduce-tasks", Usage: "reduce partitions"},
		&cli.IntFlag{Name: "shard-lines", Usage: "input records per map task"},
		&cli.StringFlag{Name: "work-dir", Usage: "spill shuffle data to this directory"},
		&cli.StringFlag{Name: "source", Usage: "input driver: file or kafka"},
	}
}

func countFlags() []cli.Flag {
	return append(engineFlags(),
		&cli.IntFlag{Name: "min-order", Usage: "shortest n-gram counted"},
		&cli.IntFlag{Name: "max-order", Usage: "longest n-gram counted"},
		&cli.BoolFlag{Name: "publish", Usage: "also publish counted records to the counted-phrases Kafka topic"},
	)
}

func rankFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.IntFlag{Name: "min-occurrence", Aliases: []string{"t"}, Usage: "drop phrases seen fewer times"},
		&cli.IntFlag{Name: "order", Aliases: []string{"n"}, Usage: "rank only phrases of this many tokens (0 = all)"},
		&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "continuations kept per prefix"},
	}
	return flags
}

func sinkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "sink", Usage: "memory, redis, postgres, sqlite or tsv"},
		&cli.StringFlag{Name: "sink-path", Usage: "output file for the tsv sink"},
		&cli.StringFlag{Name: "table", Usage: "table name for SQL sinks"},
	}
}

// setup loads the config, applies flag overrides, validates, and
// initialises logging and metrics.
func setup(c *cli.Context) (*config.Config, *metrics.Metrics, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	m := metrics.New(prometheus.DefaultRegisterer)
	cleanup := func() {}
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}
	}
	return cfg, m, cleanup, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	ints := map[string]*int{
		"map-tasks":      &cfg.Pipeline.MapTasks,
		"reduce-tasks":   &cfg.Pipeline.ReduceTasks,
		"shard-lines":    &cfg.Pipeline.ShardLines,
		"min-order":      &cfg.Pipeline.MinOrder,
		"max-order":      &cfg.Pipeline.MaxOrder,
		"min-occurrence": &cfg.Pipeline.MinOccurrence,
		"order":          &cfg.Pipeline.Order,
		"top-k":          &cfg.Pipeline.TopK,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	strs := map[string]*string{
		"work-dir":  &cfg.Pipeline.WorkDir,
		"source":    &cfg.Source.Driver,
		"sink":      &cfg.Sink.Driver,
		"sink-path": &cfg.Sink.Path,
		"table":     &cfg.Sink.Table,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
}

func runContext(c *cli.Context) (context.Context, string) {
	id := uuid.NewString()
	return pipeline.WithRunID(c.Context, id), id
}

func newWriter(cfg *config.Config, store sink.Store, m *metrics.Metrics) *sink.Writer {
	return sink.NewWriter(store, sink.WriterOptions{
		Driver:      cfg.Sink.Driver,
		Attempts:    cfg.Sink.WriteAttempts,
		Timeout:     cfg.Sink.WriteTimeout,
		Parallelism: cfg.Pipeline.MapTasks,
		Metrics:     m,
	})
}

func pipelineOptions(c *cli.Context, cfg *config.Config, m *metrics.Metrics) ([]pipeline.Option, func()) {
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if !c.Bool("publish") {
		return opts, func() {}
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CountedPhrases)
	return append(opts, pipeline.WithPublisher(producer)), func() { _ = producer.Close() }
}

func countAction(c *cli.Context) error {
	cfg, m, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, runID := runContext(c)
	log := logger.FromContext(ctx)

	opts, closePub := pipelineOptions(c, cfg, m)
	defer closePub()
	p, err := pipeline.New(cfg.Pipeline, opts...)
	if err != nil {
		return err
	}
	src, err := source.Open(cfg, cfg.Kafka.Topics.CorpusLines, c.Args().Slice())
	if err != nil {
		return err
	}
	defer src.Close()
	lines, err := source.Collect(ctx, src)
	if err != nil {
		return fmt.Errorf("reading corpus: %w", err)
	}
	start := time.Now()
	counted, err := p.Count(ctx, lines)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)
	for _, rec := range counted {
		if _, err := fmt.Fprintln(bw, counting.FormatRecord(rec)); err != nil {
			return fmt.Errorf("writing records: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	published, err := p.Publish(ctx, counted)
	if err != nil {
		return err
	}
	log.Info("count finished",
		"run_id", runID,
		"lines", humanize.Comma(int64(len(lines))),
		"phrases", humanize.Comma(int64(len(counted))),
		"published", humanize.Comma(int64(published)),
		"duration", time.Since(start),
	)
	return nil
}

func rankAction(c *cli.Context) error {
	cfg, m, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, runID := runContext(c)

	p, err := pipeline.New(cfg.Pipeline, pipeline.WithMetrics(m))
	if err != nil {
		return err
	}
	src, err := source.Open(cfg, cfg.Kafka.Topics.CountedPhrases, c.Args().Slice())
	if err != nil {
		return err
	}
	defer src.Close()
	store, err := sink.Open(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	rows, stats, err := p.RankFrom(ctx, src, newWriter(cfg, store, m))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("rank finished",
		"run_id", runID,
		"prefixes", humanize.Comma(int64(rows)),
		"accepted", humanize.Comma(stats.Accepted),
		"below_threshold", humanize.Comma(stats.BelowThreshold),
		"order_excluded", humanize.Comma(stats.OrderExcluded),
		"malformed", humanize.Comma(stats.Malformed),
		"duration", time.Since(start),
	)
	return nil
}

func runAction(c *cli.Context) error {
	cfg, m, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, runID := runContext(c)

	opts, closePub := pipelineOptions(c, cfg, m)
	defer closePub()
	p, err := pipeline.New(cfg.Pipeline, opts...)
	if err != nil {
		return err
	}
	src, err := source.Open(cfg, cfg.Kafka.Topics.CorpusLines, c.Args().Slice())
	if err != nil {
		return err
	}
	defer src.Close()
	store, err := sink.Open(cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := p.Run(ctx, src, newWriter(cfg, store, m))
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("run finished",
		"run_id", runID,
		"lines", humanize.Comma(int64(summary.Lines)),
		"phrases", humanize.Comma(int64(summary.Phrases)),
		"prefixes", humanize.Comma(int64(summary.Prefixes)),
		"malformed", humanize.Comma(summary.Rank.Malformed),
		"duration", summary.Duration,
	)
	return nil
}
