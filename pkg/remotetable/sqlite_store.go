package remotetable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/iuliatamas/cryptlog/pkg/db"
)

// SQLiteTableStore implements TableStore over mattn/go-sqlite3, for
// single-process or embedded deployments that don't need a standalone
// Postgres instance.
type SQLiteTableStore struct {
	pool  *db.Pool
	table string
}

// NewSQLiteTableStore opens a pool against dsn (a sqlite3 file path or
// ":memory:") and ensures table exists.
func NewSQLiteTableStore(ctx context.Context, dsn, table string) (*SQLiteTableStore, error) {
	cfg := db.DefaultPoolConfig(dsn, "sqlite3")
	// sqlite3 serializes writers at the file level; a large pool just
	// produces SQLITE_BUSY contention instead of throughput.
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	pool, err := db.NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("remotetable: db.NewPool: %w", err)
	}
	s := &SQLiteTableStore{pool: pool, table: table}
	if _, err := pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (idx INTEGER PRIMARY KEY, data BLOB NOT NULL)`, table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remotetable: create table: %w", err)
	}
	return s, nil
}

func (s *SQLiteTableStore) ConditionalPut(ctx context.Context, idx int64, data []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (idx, data) VALUES (?, ?)`, s.table), idx, data)
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return ErrConflict
	}
	return fmt.Errorf("remotetable: sqlite insert: %w", err)
}

func (s *SQLiteTableStore) Get(ctx context.Context, idx int64) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE idx = ?`, s.table), idx)
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("remotetable: sqlite select: %w", err)
	}
	return data, true, nil
}

func (s *SQLiteTableStore) Length(ctx context.Context) (int64, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(idx), -1) FROM %s`, s.table))
	var maxIdx int64
	if err := row.Scan(&maxIdx); err != nil {
		return 0, fmt.Errorf("remotetable: sqlite length: %w", err)
	}
	return maxIdx + 1, nil
}

func (s *SQLiteTableStore) Close() error {
	return s.pool.Close()
}

var _ TableStore = (*SQLiteTableStore)(nil)
