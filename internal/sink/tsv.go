package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// TSVStore appends rows to a text file, one "prefix\trank\tword\tprobability"
// line per cell. A rank of 1 starts a row; when a prefix appears in several
// rows the last one wins on read.
type TSVStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewTSVStore opens path for appending. With truncate set the file starts
// empty; otherwise existing rows stay readable.
func NewTSVStore(path string, truncate bool) (*TSVStore, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", apperrors.ErrSinkUnavailable, path, err)
	}
	return &TSVStore{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *TSVStore) Put(_ context.Context, m ranking.PrefixModel) error {
	if err := checkPut(m); err != nil {
		return err
	}
	if strings.ContainsAny(m.Prefix, "\t\n") {
		return fmt.Errorf("%w: prefix %q contains a separator", apperrors.ErrInvalidInput, m.Prefix)
	}
	var b strings.Builder
	for i, e := range m.Entries {
		fmt.Fprintf(&b, "%s\t%d\t%s\t%s\n", m.Prefix, i+1, e.Word, ranking.FormatProbability(e.Probability))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(b.String()); err != nil {
		return fmt.Errorf("%w: writing %s: %w", apperrors.ErrSinkUnavailable, s.path, err)
	}
	return s.w.Flush()
}

func (s *TSVStore) Get(ctx context.Context, prefix string) (ranking.PrefixModel, error) {
	rows, err := s.load(ctx)
	if err != nil {
		return ranking.PrefixModel{}, err
	}
	m, ok := rows[prefix]
	if !ok {
		return ranking.PrefixModel{}, notFound(prefix)
	}
	return m, nil
}

func (s *TSVStore) Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error {
	rows, err := s.load(ctx)
	if err != nil {
		return err
	}
	prefixes := make([]string, 0, len(rows))
	for p := range rows {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if err := fn(rows[p]); err != nil {
			return err
		}
	}
	return nil
}

func (s *TSVStore) load(ctx context.Context) (map[string]ranking.PrefixModel, error) {
	s.mu.Lock()
	err := s.w.Flush()
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: flushing %s: %w", apperrors.ErrSinkUnavailable, s.path, err)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", apperrors.ErrSinkUnavailable, s.path, err)
	}
	defer f.Close()
	return ReadTSV(ctx, f)
}

// ReadTSV parses TSVStore output.
func ReadTSV(ctx context.Context, r io.Reader) (map[string]ranking.PrefixModel, error) {
	rows := make(map[string]ranking.PrefixModel)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var line int64
	for sc.Scan() {
		line++
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := sc.Text()
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 4 {
			return nil, &apperrors.RecordError{Line: line, Record: text, Err: fmt.Errorf("%w: want 4 fields, got %d", apperrors.ErrMalformedRecord, len(fields))}
		}
		rank, err := strconv.Atoi(fields[1])
		if err != nil || rank < 1 {
			return nil, &apperrors.RecordError{Line: line, Record: text, Err: fmt.Errorf("%w: rank %q", apperrors.ErrMalformedRecord, fields[1])}
		}
		p, err := ranking.ParseProbability(fields[3])
		if err != nil {
			return nil, &apperrors.RecordError{Line: line, Record: text, Err: err}
		}
		m := rows[fields[0]]
		if rank == 1 {
			m = ranking.PrefixModel{Prefix: fields[0]}
		}
		m.Entries = append(m.Entries, ranking.Entry{Word: fields[2], Probability: p})
		rows[fields[0]] = m
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return rows, nil
}

func (s *TSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return err
	}
	return s.f.Close()
}
