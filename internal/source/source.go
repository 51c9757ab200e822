// Package source feeds corpus lines and phrase records into the pipeline,
// from local files or a Kafka topic.
package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/kafka"
)

// maxLineBytes bounds a single input line; longer lines are skipped.
const maxLineBytes = 4 * 1024 * 1024

// Source yields records one at a time.
type Source interface {
	Each(ctx context.Context, fn func(record string) error) error
	Close() error
}

// Collect reads every record of src into memory.
func Collect(ctx context.Context, src Source) ([]string, error) {
	var records []string
	err := src.Each(ctx, func(record string) error {
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FileSource reads lines from files. A directory contributes every regular
// file below it in lexical order, "-" reads standard input, and files ending
// in .gz are decompressed on the fly.
type FileSource struct {
	paths   []string
	stdin   io.Reader
	maxLine int
	logger  *slog.Logger
}

func NewFileSource(paths ...string) *FileSource {
	return &FileSource{
		paths:   paths,
		stdin:   os.Stdin,
		maxLine: maxLineBytes,
		logger:  slog.Default().With("component", "file-source"),
	}
}

func (s *FileSource) Each(ctx context.Context, fn func(string) error) error {
	files, err := s.expand()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := s.readFile(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSource) expand() ([]string, error) {
	var files []string
	for _, p := range s.paths {
		if p == "-" {
			files = append(files, p)
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() {
				if path != p && strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				return nil
			}
			// Hidden and underscore-prefixed files are job markers, not data.
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				return nil
			}
			if d.Type().IsRegular() {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func (s *FileSource) readFile(ctx context.Context, path string, fn func(string) error) error {
	var r io.Reader
	if path == "-" {
		r = s.stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r = f
		if strings.HasSuffix(path, ".gz") {
			gz, err := gzip.NewReader(f)
			if err != nil {
				return fmt.Errorf("opening gzip stream %s: %w", path, err)
			}
			defer gz.Close()
			r = gz
		}
	}

	br := bufio.NewReaderSize(r, 64*1024)
	var (
		lines, skipped int64
		line           []byte
		oversized      bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized && len(line)+len(chunk) <= s.maxLine+2 {
			line = append(line, chunk...)
		} else {
			oversized = true
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading %s line %d: %w", path, lines+1, err)
		}
		if len(line) > 0 || oversized {
			lines++
			if lines%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			text := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
			if oversized || len(text) > s.maxLine {
				skipped++
				s.logger.Debug("skipping oversized line", "path", path, "line", lines, "limit", s.maxLine)
			} else if err := fn(text); err != nil {
				return err
			}
		}
		line, oversized = line[:0], false
		if err == io.EOF {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debug("input read", "path", path, "lines", lines, "skipped", skipped)
	return nil
}

func (s *FileSource) Close() error { return nil }

// KafkaSource drains a topic, stopping once no message arrived for the idle
// timeout. Message values are records; keys are ignored.
type KafkaSource struct {
	cfg   config.KafkaConfig
	topic string
	idle  time.Duration
}

func NewKafkaSource(cfg config.KafkaConfig, topic string, idle time.Duration) *KafkaSource {
	return &KafkaSource{cfg: cfg, topic: topic, idle: idle}
}

func (s *KafkaSource) Each(ctx context.Context, fn func(string) error) error {
	consumer := kafka.NewConsumer(s.cfg, s.topic, func(_ context.Context, _ []byte, value []byte) error {
		return fn(strings.TrimRight(string(value), "\r\n"))
	})
	defer consumer.Close()
	if _, err := consumer.Run(ctx, s.idle); err != nil {
		return fmt.Errorf("consuming %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSource) Close() error { return nil }

// Open builds the source named by cfg.Source.Driver. For the file driver
// args are paths; for kafka the first arg, if any, overrides topic.
func Open(cfg *config.Config, topic string, args []string) (Source, error) {
	switch cfg.Source.Driver {
	case "file":
		if len(args) == 0 {
			args = []string{"-"}
		}
		return NewFileSource(args...), nil
	case "kafka":
		if len(args) > 0 {
			topic = args[0]
		}
		return NewKafkaSource(cfg.Kafka, topic, cfg.Source.IdleTimeout), nil
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Source.Driver)
	}
}
