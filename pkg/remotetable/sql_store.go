package remotetable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/iuliatamas/cryptlog/pkg/db"
)

// SQLTableStore implements TableStore over database/sql + lib/pq, built on
// the shared connection pool used elsewhere for relational access.
type SQLTableStore struct {
	pool  *db.Pool
	table string
}

// NewSQLTableStore opens a pool against dsn and ensures table exists.
func NewSQLTableStore(ctx context.Context, dsn, table string) (*SQLTableStore, error) {
	pool, err := db.NewPool(db.DefaultPoolConfig(dsn, "postgres"))
	if err != nil {
		return nil, fmt.Errorf("remotetable: db.NewPool: %w", err)
	}
	s := &SQLTableStore{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (idx BIGINT PRIMARY KEY, data BYTEA NOT NULL)`, table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remotetable: create table: %w", err)
	}
	return s, nil
}

func (s *SQLTableStore) ConditionalPut(ctx context.Context, idx int64, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (idx, data) VALUES ($1, $2)`, s.table), idx, data)
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return fmt.Errorf("remotetable: sql insert: %w", err)
}

func (s *SQLTableStore) Get(ctx context.Context, idx int64) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE idx = $1`, s.table), idx)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("remotetable: sql select: %w", err)
	}
	return data, true, nil
}

func (s *SQLTableStore) Length(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(idx), -1) FROM %s`, s.table))
	var maxIdx int64
	if err := row.Scan(&maxIdx); err != nil {
		return 0, fmt.Errorf("remotetable: sql length: %w", err)
	}
	return maxIdx + 1, nil
}

func (s *SQLTableStore) Close() error {
	return s.pool.Close()
}

var _ TableStore = (*SQLTableStore)(nil)
