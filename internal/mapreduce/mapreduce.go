// Package mapreduce is a local, shared-nothing map/shuffle/reduce engine.
// Map tasks own one shard each and buffer their output privately; output is
// committed to the shuffle only when a task finishes, so a retried task
// simply replaces its earlier attempt. Reduce tasks start after every map
// task committed (the shuffle barrier) and each owns one hash partition of
// the key space.
package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/resilience"
)

// MapFunc processes one input record. Records it cannot use are skipped by
// the function itself; a returned error fails the whole task attempt.
type MapFunc[V any] func(ctx context.Context, record string, emit func(key string, value V)) error

// CombineFunc folds the values one map task produced for a key. It must be
// associative and commutative.
type CombineFunc[V any] func(key string, values []V) V

// ReduceFunc folds every value of one key across all map tasks.
type ReduceFunc[V, R any] func(ctx context.Context, key string, values []V, emit func(R)) error

// Shard is the unit of input owned by a single map task.
type Shard struct {
	ID      int
	Records []string
}

// Group is every value a map task produced for one key.
type Group[V any] struct {
	Key    string `msgpack:"k"`
	Values []V    `msgpack:"v"`
}

// Job describes one map/shuffle/reduce pass.
type Job[V, R any] struct {
	Name    string
	Map     MapFunc[V]
	Combine CombineFunc[V]
	Reduce  ReduceFunc[V, R]

	// Partitions is the number of reduce tasks.
	Partitions int
	// Parallelism caps concurrently running tasks in either phase.
	Parallelism int
	Attempts    int
	RetryDelay  time.Duration
	// WorkDir, when set, spills committed map output to msgpack files there.
	WorkDir string
	Metrics *metrics.Metrics
}

// Result is what a finished job hands back.
type Result[R any] struct {
	Outputs     []R
	MapTasks    int
	ReduceTasks int
	Emitted     int64
	// Counters sums the map counters of every committed task attempt.
	Counters map[string]int64
}

type countersKey struct{}

// AddCounter adds delta to a named counter of the running map task attempt.
// Counters of a failed attempt are discarded with its output, so a retried
// task is counted once. It must be called from the goroutine running the
// map function; outside a map task it does nothing.
func AddCounter(ctx context.Context, name string, delta int64) {
	if c, ok := ctx.Value(countersKey{}).(map[string]int64); ok {
		c[name] += delta
	}
}

// Run executes job over shards. It returns either every reduce output or an
// error; partial output is never returned.
func Run[V, R any](ctx context.Context, job Job[V, R], shards []Shard) (*Result[R], error) {
	if job.Map == nil || job.Reduce == nil {
		return nil, fmt.Errorf("%w: job %q needs map and reduce functions", apperrors.ErrInvalidConfig, job.Name)
	}
	if job.Partitions < 1 {
		return nil, fmt.Errorf("%w: job %q needs at least one partition", apperrors.ErrInvalidConfig, job.Name)
	}
	if job.Parallelism < 1 {
		job.Parallelism = 1
	}
	if job.Attempts < 1 {
		job.Attempts = 1
	}
	logger := slog.Default().With("component", "mapreduce", "job", job.Name)

	store, err := newShuffleStore[V](job.WorkDir, job.Name, len(shards), job.Partitions)
	if err != nil {
		return nil, err
	}
	defer store.cleanup()

	mapStart := time.Now()
	emitted := make([]int64, len(shards))
	counters := make([]map[string]int64, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Parallelism)
	for i := range shards {
		shard := shards[i]
		slot := i
		g.Go(func() error {
			return runTask(gctx, job, "map", shard.ID, func(ctx context.Context) error {
				attempt := make(map[string]int64)
				parts, n, err := mapShard(context.WithValue(ctx, countersKey{}, attempt), job, shard)
				if err != nil {
					return err
				}
				if err := store.commit(slot, parts); err != nil {
					return err
				}
				emitted[slot] = n
				counters[slot] = attempt
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("job %s map phase: %w", job.Name, err)
	}
	job.Metrics.ObservePhase(job.Name, "map", mapStart)
	var total int64
	for _, n := range emitted {
		total += n
	}
	job.Metrics.AddEmitted(job.Name, total)
	logger.Info("map phase complete", "map_tasks", len(shards), "emitted", total, "duration", time.Since(mapStart))

	// Shuffle barrier: nothing below runs unless every map task committed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reduceStart := time.Now()
	outputs := make([][]R, job.Partitions)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(job.Parallelism)
	for p := 0; p < job.Partitions; p++ {
		partition := p
		g.Go(func() error {
			return runTask(gctx, job, "reduce", partition, func(ctx context.Context) error {
				out, err := reducePartition(ctx, job, store, partition)
				if err != nil {
					return err
				}
				outputs[partition] = out
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("job %s reduce phase: %w", job.Name, err)
	}
	job.Metrics.ObservePhase(job.Name, "reduce", reduceStart)

	result := &Result[R]{
		MapTasks:    len(shards),
		ReduceTasks: job.Partitions,
		Emitted:     total,
		Counters:    make(map[string]int64),
	}
	for _, c := range counters {
		for name, v := range c {
			result.Counters[name] += v
		}
	}
	for _, out := range outputs {
		result.Outputs = append(result.Outputs, out...)
	}
	logger.Info("reduce phase complete",
		"reduce_tasks", job.Partitions,
		"outputs", len(result.Outputs),
		"duration", time.Since(reduceStart),
	)
	return result, nil
}

// runTask runs one task body with retries. Cancellation is never retried.
func runTask[V, R any](ctx context.Context, job Job[V, R], phase string, id int, body func(context.Context) error) error {
	name := fmt.Sprintf("%s/%s-%d", job.Name, phase, id)
	err := resilience.Retry(ctx, name, resilience.RetryConfig{
		MaxAttempts:  job.Attempts,
		InitialDelay: job.RetryDelay,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}, func(attempt int) error {
		err := body(ctx)
		job.Metrics.ObserveTask(job.Name, phase, err)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %w", apperrors.ErrTaskFailed, name, err)
	}
	return nil
}

// mapShard runs the map function over one shard and returns the task's
// private output split into partitions, sorted by key.
func mapShard[V, R any](ctx context.Context, job Job[V, R], shard Shard) ([][]Group[V], int64, error) {
	local := make([]map[string][]V, job.Partitions)
	for i := range local {
		local[i] = make(map[string][]V)
	}
	var emitted int64
	emit := func(key string, value V) {
		p := Partition(key, job.Partitions)
		local[p][key] = append(local[p][key], value)
		emitted++
	}
	for _, record := range shard.Records {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if err := job.Map(ctx, record, emit); err != nil {
			return nil, 0, fmt.Errorf("shard %d: %w", shard.ID, err)
		}
	}

	parts := make([][]Group[V], job.Partitions)
	for p, byKey := range local {
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		groups := make([]Group[V], 0, len(keys))
		for _, k := range keys {
			values := byKey[k]
			if job.Combine != nil {
				values = []V{job.Combine(k, values)}
			}
			groups = append(groups, Group[V]{Key: k, Values: values})
		}
		parts[p] = groups
	}
	return parts, emitted, nil
}

// reducePartition merges one partition from every map task and reduces it
// key by key in sorted key order. The values of a key arrive in map-task
// order, which reducers must not rely on.
func reducePartition[V, R any](ctx context.Context, job Job[V, R], store shuffleStore[V], partition int) ([]R, error) {
	merged := make(map[string][]V)
	for task := 0; task < store.tasks(); task++ {
		groups, err := store.load(task, partition)
		if err != nil {
			return nil, err
		}
		for _, grp := range groups {
			merged[grp.Key] = append(merged[grp.Key], grp.Values...)
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []R
	emit := func(r R) {
		out = append(out, r)
	}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := job.Reduce(ctx, k, merged[k], emit); err != nil {
			return nil, fmt.Errorf("partition %d, key %q: %w", partition, k, err)
		}
	}
	return out, nil
}

// Partition maps key to one of n reduce partitions using FNV-1a.
func Partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Split cuts records into shards of at most size records each.
func Split(records []string, size int) []Shard {
	if size < 1 {
		size = len(records)
	}
	var shards []Shard
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		shards = append(shards, Shard{ID: len(shards), Records: records[start:end]})
	}
	return shards
}
