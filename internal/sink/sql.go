package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/ranking"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// sqlClient is implemented by pkg/postgres and pkg/sqlite.
type sqlClient interface {
	Conn() *sql.DB
	Dialect() string
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Close() error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps one table row per (prefix, word) cell. The rank column
// preserves the published order.
type SQLStore struct {
	client sqlClient
	table  string
	// sqlite binds with ?, postgres with $n.
	numbered bool
}

// NewSQLStore creates the model table if needed.
func NewSQLStore(ctx context.Context, client sqlClient, table string) (*SQLStore, error) {
	if !tableName.MatchString(table) {
		_ = client.Close()
		return nil, fmt.Errorf("%w: table name %q", apperrors.ErrInvalidConfig, table)
	}
	s := &SQLStore{
		client:   client,
		table:    table,
		numbered: client.Dialect() == "postgres",
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	prefix      TEXT NOT NULL,
	word        TEXT NOT NULL,
	probability TEXT NOT NULL,
	rank        INTEGER NOT NULL,
	PRIMARY KEY (prefix, word)
)`, table)
	if _, err := client.Conn().ExecContext(ctx, ddl); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	return s, nil
}

// bind rewrites ? placeholders for the client's dialect.
func (s *SQLStore) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Put(ctx context.Context, m ranking.PrefixModel) error {
	if err := checkPut(m); err != nil {
		return err
	}
	del := s.bind(fmt.Sprintf("DELETE FROM %s WHERE prefix = ?", s.table))
	ins := s.bind(fmt.Sprintf("INSERT INTO %s (prefix, word, probability, rank) VALUES (?, ?, ?, ?)", s.table))
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, del, m.Prefix); err != nil {
			return fmt.Errorf("deleting row %q: %w", m.Prefix, err)
		}
		stmt, err := tx.PrepareContext(ctx, ins)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for i, e := range m.Entries {
			if _, err := stmt.ExecContext(ctx, m.Prefix, e.Word, ranking.FormatProbability(e.Probability), i+1); err != nil {
				return fmt.Errorf("inserting %q/%q: %w", m.Prefix, e.Word, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSinkUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, prefix string) (ranking.PrefixModel, error) {
	q := s.bind(fmt.Sprintf("SELECT prefix, word, probability FROM %s WHERE prefix = ? ORDER BY rank", s.table))
	rows, err := s.query(ctx, q, prefix)
	if err != nil {
		return ranking.PrefixModel{}, err
	}
	if len(rows) == 0 {
		return ranking.PrefixModel{}, notFound(prefix)
	}
	return rows[0], nil
}

// Scan reads the whole table before calling fn, so fn may use the store.
func (s *SQLStore) Scan(ctx context.Context, fn func(ranking.PrefixModel) error) error {
	q := fmt.Sprintf("SELECT prefix, word, probability FROM %s ORDER BY prefix, rank", s.table)
	rows, err := s.query(ctx, q)
	if err != nil {
		return err
	}
	for _, m := range rows {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// query groups (prefix, word, probability) result rows into models,
// expecting them ordered by prefix then rank.
func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]ranking.PrefixModel, error) {
	rows, err := s.client.Conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", apperrors.ErrSinkUnavailable, s.table, err)
	}
	defer rows.Close()

	var models []ranking.PrefixModel
	for rows.Next() {
		var prefix, word, prob string
		if err := rows.Scan(&prefix, &word, &prob); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", s.table, err)
		}
		p, err := ranking.ParseProbability(prob)
		if err != nil {
			return nil, fmt.Errorf("prefix %q word %q: %w", prefix, word, err)
		}
		if len(models) == 0 || models[len(models)-1].Prefix != prefix {
			models = append(models, ranking.PrefixModel{Prefix: prefix})
		}
		last := &models[len(models)-1]
		last.Entries = append(last.Entries, ranking.Entry{Word: word, Probability: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.table, err)
	}
	return models, nil
}

func (s *SQLStore) Close() error {
	return s.client.Close()
}
