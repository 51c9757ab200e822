package mapreduce

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// shuffleStore holds committed map output until reducers read it. A commit
// for a task slot replaces whatever an earlier attempt committed there.
type shuffleStore[V any] interface {
	commit(task int, parts [][]Group[V]) error
	load(task, partition int) ([]Group[V], error)
	tasks() int
	cleanup()
}

func newShuffleStore[V any](workDir, job string, tasks, partitions int) (shuffleStore[V], error) {
	if workDir == "" {
		return &memoryShuffle[V]{out: make([][][]Group[V], tasks)}, nil
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	dir, err := os.MkdirTemp(workDir, job+"-shuffle-")
	if err != nil {
		return nil, fmt.Errorf("creating shuffle directory: %w", err)
	}
	return &spillShuffle[V]{dir: dir, nTasks: tasks, partitions: partitions}, nil
}

type memoryShuffle[V any] struct {
	mu  sync.RWMutex
	out [][][]Group[V]
}

func (m *memoryShuffle[V]) commit(task int, parts [][]Group[V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out[task] = parts
	return nil
}

func (m *memoryShuffle[V]) load(task, partition int) ([]Group[V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parts := m.out[task]
	if parts == nil {
		return nil, fmt.Errorf("map task %d has no committed output", task)
	}
	return parts[partition], nil
}

func (m *memoryShuffle[V]) tasks() int {
	return len(m.out)
}

func (m *memoryShuffle[V]) cleanup() {}

// spillShuffle writes each committed partition to
// <dir>/map-<task>-<partition>.msgpack, via a temp file and rename so that a
// reader never sees a half-written partition.
type spillShuffle[V any] struct {
	dir        string
	nTasks     int
	partitions int
}

func (s *spillShuffle[V]) path(task, partition int) string {
	return filepath.Join(s.dir, fmt.Sprintf("map-%d-%d.msgpack", task, partition))
}

func (s *spillShuffle[V]) commit(task int, parts [][]Group[V]) error {
	for p, groups := range parts {
		if err := s.writePartition(s.path(task, p), groups); err != nil {
			return err
		}
	}
	return nil
}

func (s *spillShuffle[V]) writePartition(finalPath string, groups []Group[V]) error {
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating spill file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := msgpack.NewEncoder(w).Encode(groups); err != nil {
		return fmt.Errorf("encoding spill file %s: %w", finalPath, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing spill file %s: %w", finalPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing spill file %s: %w", finalPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming spill file: %w", err)
	}
	return nil
}

func (s *spillShuffle[V]) load(task, partition int) ([]Group[V], error) {
	path := s.path(task, partition)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening spill file: %w", err)
	}
	defer f.Close()
	var groups []Group[V]
	if err := msgpack.NewDecoder(bufio.NewReader(f)).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decoding spill file %s: %w", path, err)
	}
	return groups, nil
}

func (s *spillShuffle[V]) tasks() int {
	return s.nTasks
}

func (s *spillShuffle[V]) cleanup() {
	_ = os.RemoveAll(s.dir)
}
