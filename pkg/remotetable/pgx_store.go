package remotetable

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is Postgres's SQLSTATE for a unique constraint
// violation (https://www.postgresql.org/docs/current/errcodes-appendix.html).
const pgUniqueViolation = "23505"

// PGXTableStore implements TableStore on Postgres via pgx's connection pool.
type PGXTableStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGXTableStore connects to dsn and ensures table exists.
func NewPGXTableStore(ctx context.Context, dsn, table string) (*PGXTableStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("remotetable: pgxpool.New: %w", err)
	}
	s := &PGXTableStore{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (idx BIGINT PRIMARY KEY, data BYTEA NOT NULL)`, table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remotetable: create table: %w", err)
	}
	return s, nil
}

func (s *PGXTableStore) ConditionalPut(ctx context.Context, idx int64, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (idx, data) VALUES ($1, $2)`, s.table), idx, data)
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return fmt.Errorf("remotetable: pgx insert: %w", err)
}

func (s *PGXTableStore) Get(ctx context.Context, idx int64) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE idx = $1`, s.table), idx)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("remotetable: pgx select: %w", err)
	}
	return data, true, nil
}

func (s *PGXTableStore) Length(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(idx), -1) FROM %s`, s.table))
	var maxIdx int64
	if err := row.Scan(&maxIdx); err != nil {
		return 0, fmt.Errorf("remotetable: pgx length: %w", err)
	}
	return maxIdx + 1, nil
}

func (s *PGXTableStore) Close() error {
	s.pool.Close()
	return nil
}

var _ TableStore = (*PGXTableStore)(nil)
