// Package mysql stores bulletin defines in a MySQL database, typically the
// monitoring manager's own schema.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/config"
	"go-monitor-bulletin/internal/connectors/sqlstore"
)

// duplicateEntry is MySQL's ER_DUP_ENTRY.
const duplicateEntry = 1062

// Store wraps MySQL access for bulletin defines.
type Store struct {
	*sqlstore.Defines
	queryTimeout time.Duration
}

// NewStore creates a MySQL-backed store and makes sure the table exists.
func NewStore(cfg config.Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{Defines: sqlstore.New(db, isDuplicateEntry), queryTimeout: cfg.DBQueryTimeout}, nil
}

// NewWithDB wraps an existing connection without touching the schema.
func NewWithDB(db *sql.DB, queryTimeout time.Duration) *Store {
	return &Store{Defines: sqlstore.New(db, isDuplicateEntry), queryTimeout: queryTimeout}
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+sqlstore.Table+` (
  id BIGINT NOT NULL AUTO_INCREMENT,
  name VARCHAR(128) NOT NULL,
  app VARCHAR(100) NOT NULL,
  monitor_ids TEXT NOT NULL,
  metrics TEXT NOT NULL,
  creator VARCHAR(100) NULL,
  modifier VARCHAR(100) NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (id),
  UNIQUE KEY uk_bulletin_define_name (name),
  KEY idx_bulletin_define_app (app)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`)
	return err
}

func (s *Store) ListDefines(ctx context.Context, page, size int) (bulletin.Page[bulletin.Define], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.ListDefines(ctx, page, size)
}

func (s *Store) GetDefine(ctx context.Context, id int64) (*bulletin.Define, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.GetDefine(ctx, id)
}

func (s *Store) CreateDefine(ctx context.Context, def bulletin.Define) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.CreateDefine(ctx, def)
}

func (s *Store) UpdateDefine(ctx context.Context, def bulletin.Define) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.UpdateDefine(ctx, def)
}

func (s *Store) DeleteDefines(ctx context.Context, names []string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.DeleteDefines(ctx, names)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Defines.Ping(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.Defines == nil {
		return nil
	}
	return s.Defines.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func isDuplicateEntry(err error) bool {
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}
