// Package pipeline wires the counting and ranking stages onto the
// map/reduce engine and moves their results between sources and sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/counting"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/mapreduce"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/source"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/tracing"
)

// Publisher forwards counted phrase records, e.g. to a Kafka topic.
type Publisher interface {
	PublishBatch(ctx context.Context, records []kafka.Record) (int, error)
}

// Pipeline runs the stages with one configuration.
type Pipeline struct {
	cfg       config.PipelineConfig
	mapper    *counting.Mapper
	ranker    *ranking.Ranker
	metrics   *metrics.Metrics
	publisher Publisher
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics records engine and stage metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPublisher forwards counted records between the stages of Run.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New validates cfg and builds a Pipeline.
func New(cfg config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	mapper, err := counting.NewMapper(cfg.MinOrder, cfg.MaxOrder)
	if err != nil {
		return nil, err
	}
	ranker, err := ranking.New(ranking.Options{
		MinOccurrence: int64(cfg.MinOccurrence),
		Order:         cfg.Order,
		TopK:          cfg.TopK,
	})
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, mapper: mapper, ranker: ranker}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RankStats counts ranking-stage input records by outcome.
type RankStats struct {
	Accepted       int64
	Malformed      int64
	BelowThreshold int64
	OrderExcluded  int64
}

// Summary describes a finished Run.
type Summary struct {
	Lines     int
	Phrases   int
	Published int
	Prefixes  int
	Rank      RankStats
	Duration  time.Duration
}

func jobOptions[V, R any](p *Pipeline, job *mapreduce.Job[V, R]) {
	job.Partitions = p.cfg.ReduceTasks
	job.Parallelism = p.cfg.MapTasks
	job.Attempts = p.cfg.TaskAttempts
	job.WorkDir = p.cfg.WorkDir
	job.Metrics = p.metrics
}

// Count runs the counting stage over corpus lines and returns one record
// per distinct n-gram, sorted by phrase.
func (p *Pipeline) Count(ctx context.Context, lines []string) ([]counting.Counted, error) {
	ctx, span := tracing.Start(ctx, "count", "")
	job := mapreduce.Job[int64, counting.Counted]{
		Name: "count",
		Map: func(_ context.Context, line string, emit func(string, int64)) error {
			p.mapper.Map(line, emit)
			return nil
		},
		Combine: func(_ string, values []int64) int64 {
			return counting.Sum(values)
		},
		Reduce: func(_ context.Context, phrase string, values []int64, emit func(counting.Counted)) error {
			if c, ok := counting.Reduce(phrase, values); ok {
				emit(c)
			}
			return nil
		},
	}
	jobOptions(p, &job)
	p.metrics.AddLines(len(lines))

	res, err := mapreduce.Run(ctx, job, mapreduce.Split(lines, p.cfg.ShardLines))
	if err != nil {
		span.End(err)
		return nil, fmt.Errorf("counting: %w", err)
	}
	out := res.Outputs
	sort.Slice(out, func(i, j int) bool { return out[i].Phrase < out[j].Phrase })
	span.SetAttr("lines", len(lines))
	span.SetAttr("phrases", len(out))
	span.End(nil)
	return out, nil
}

// Rank runs the ranking stage over "<phrase>\t<count>" records. Malformed
// records are skipped and counted; they never fail the stage.
func (p *Pipeline) Rank(ctx context.Context, records []string) ([]ranking.PrefixModel, RankStats, error) {
	ctx, span := tracing.Start(ctx, "rank", "")
	log := logger.FromContext(ctx).With("component", "rank")

	job := mapreduce.Job[ranking.Candidate, ranking.PrefixModel]{
		Name: "rank",
		Map: func(ctx context.Context, record string, emit func(string, ranking.Candidate)) error {
			prefix, cand, outcome, err := p.ranker.MapRecord(record)
			mapreduce.AddCounter(ctx, outcome.String(), 1)
			switch outcome {
			case ranking.Accepted:
				emit(prefix, cand)
			case ranking.Malformed:
				log.Debug("skipping malformed record", "error", err)
			}
			return nil
		},
		Reduce: func(_ context.Context, prefix string, cands []ranking.Candidate, emit func(ranking.PrefixModel)) error {
			if m, ok := p.ranker.Rank(prefix, cands); ok {
				emit(m)
			}
			return nil
		},
	}
	jobOptions(p, &job)

	res, err := mapreduce.Run(ctx, job, mapreduce.Split(records, p.cfg.ShardLines))
	if err != nil {
		span.End(err)
		return nil, RankStats{}, fmt.Errorf("ranking: %w", err)
	}
	// Counters come from committed map attempts only, so retried tasks are
	// tallied once.
	stats := RankStats{
		Accepted:       res.Counters[ranking.Accepted.String()],
		Malformed:      res.Counters[ranking.Malformed.String()],
		BelowThreshold: res.Counters[ranking.BelowThreshold.String()],
		OrderExcluded:  res.Counters[ranking.OrderExcluded.String()],
	}
	for _, o := range []ranking.Outcome{ranking.Accepted, ranking.Malformed, ranking.BelowThreshold, ranking.OrderExcluded} {
		p.metrics.AddRecords(o.String(), res.Counters[o.String()])
	}
	models := res.Outputs
	sort.Slice(models, func(i, j int) bool { return models[i].Prefix < models[j].Prefix })
	span.SetAttr("records", len(records))
	span.SetAttr("prefixes", len(models))
	span.SetAttr("malformed", stats.Malformed)
	span.End(nil)
	return models, stats, nil
}

// Run reads the corpus from src, counts it, optionally publishes the
// counted records, ranks them and writes every prefix row through w. No row
// is written unless both stages completed.
func (p *Pipeline) Run(ctx context.Context, src source.Source, w *sink.Writer) (*Summary, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "run", runID(ctx))
	log := logger.FromContext(ctx).With("component", "pipeline")
	defer func() { span.Log(log) }()

	lines, err := p.read(ctx, src)
	if err != nil {
		span.End(err)
		return nil, err
	}
	log.Info("corpus loaded", "lines", len(lines))

	counted, err := p.Count(ctx, lines)
	if err != nil {
		span.End(err)
		return nil, err
	}
	records := make([]string, len(counted))
	for i, c := range counted {
		records[i] = counting.FormatRecord(c)
	}
	log.Info("counting complete", "phrases", len(records))

	summary := &Summary{Lines: len(lines), Phrases: len(records)}
	if p.publisher != nil {
		n, err := p.Publish(ctx, counted)
		if err != nil {
			span.End(err)
			return nil, err
		}
		summary.Published = n
	}

	models, stats, err := p.Rank(ctx, records)
	if err != nil {
		span.End(err)
		return nil, err
	}
	summary.Rank = stats
	log.Info("ranking complete",
		"prefixes", len(models),
		"accepted", stats.Accepted,
		"below_threshold", stats.BelowThreshold,
		"order_excluded", stats.OrderExcluded,
		"malformed", stats.Malformed,
	)

	if err := p.write(ctx, w, models); err != nil {
		span.End(err)
		return nil, err
	}
	summary.Prefixes = len(models)
	summary.Duration = time.Since(start)
	span.End(nil)
	return summary, nil
}

// RankFrom ranks phrase records read from src and writes the result.
func (p *Pipeline) RankFrom(ctx context.Context, src source.Source, w *sink.Writer) (int, RankStats, error) {
	ctx, span := tracing.Start(ctx, "rank-run", runID(ctx))
	defer func() { span.Log(logger.FromContext(ctx)) }()
	records, err := p.read(ctx, src)
	if err != nil {
		span.End(err)
		return 0, RankStats{}, err
	}
	models, stats, err := p.Rank(ctx, records)
	if err != nil {
		span.End(err)
		return 0, stats, err
	}
	if err := p.write(ctx, w, models); err != nil {
		span.End(err)
		return 0, stats, err
	}
	span.End(nil)
	return len(models), stats, nil
}

func (p *Pipeline) read(ctx context.Context, src source.Source) ([]string, error) {
	ctx, span := tracing.Start(ctx, "read", "")
	records, err := source.Collect(ctx, src)
	span.SetAttr("records", len(records))
	span.End(err)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return records, nil
}

// Publish sends counted records to the configured publisher, keyed by
// phrase. Without a publisher it does nothing.
func (p *Pipeline) Publish(ctx context.Context, counted []counting.Counted) (int, error) {
	if p.publisher == nil {
		return 0, nil
	}
	ctx, span := tracing.Start(ctx, "publish", "")
	records := make([]kafka.Record, len(counted))
	for i, c := range counted {
		records[i] = kafka.Record{Key: c.Phrase, Value: counting.FormatRecord(c)}
	}
	n, err := p.publisher.PublishBatch(ctx, records)
	span.SetAttr("records", n)
	span.End(err)
	if err != nil {
		return n, fmt.Errorf("publishing counted phrases: %w", err)
	}
	return n, nil
}

func (p *Pipeline) write(ctx context.Context, w *sink.Writer, models []ranking.PrefixModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := tracing.Start(ctx, "write", "")
	n, err := w.WriteAll(ctx, models)
	span.SetAttr("rows", n)
	span.End(err)
	if err != nil {
		if errors.Is(err, apperrors.ErrSinkUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	return nil
}

type runIDKey struct{}

// WithRunID tags ctx with the run identifier used for logs and traces.
func WithRunID(ctx context.Context, id string) context.Context {
	return logger.WithRunID(context.WithValue(ctx, runIDKey{}, id), id)
}

func runID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
