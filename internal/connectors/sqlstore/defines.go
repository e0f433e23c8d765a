// Package sqlstore implements bulletin.DefineStore over database/sql using
// only `?` placeholders, so the same queries run on SQLite and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-monitor-bulletin/internal/bulletin"
)

// Table is the name of the defines table in every SQL backend.
const Table = "bulletin_define"

// Defines is a bulletin.DefineStore on an already opened *sql.DB.
type Defines struct {
	db          *sql.DB
	isDuplicate func(error) bool
}

// New wraps db. isDuplicate recognises the driver's unique-constraint error;
// it may be nil.
func New(db *sql.DB, isDuplicate func(error) bool) *Defines {
	if isDuplicate == nil {
		isDuplicate = func(error) bool { return false }
	}
	return &Defines{db: db, isDuplicate: isDuplicate}
}

func (s *Defines) DB() *sql.DB {
	return s.db
}

func (s *Defines) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Defines) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `id, name, app, monitor_ids, metrics, creator, modifier, created_at, updated_at`

func (s *Defines) ListDefines(ctx context.Context, page, size int) (bulletin.Page[bulletin.Define], error) {
	out := bulletin.Page[bulletin.Define]{Content: []bulletin.Define{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+Table).Scan(&out.TotalElements); err != nil {
		return out, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM `+Table+`
ORDER BY id ASC
LIMIT ? OFFSET ?;
`, size, page*size)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		def, err := scanDefine(rows)
		if err != nil {
			return out, err
		}
		out.Content = append(out.Content, *def)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (s *Defines) GetDefine(ctx context.Context, id int64) (*bulletin.Define, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+Table+` WHERE id = ?;`, id)
	def, err := scanDefine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bulletin.ErrDefineNotFound
	}
	return def, err
}

func (s *Defines) CreateDefine(ctx context.Context, def bulletin.Define) (int64, error) {
	monitorIDs, metrics, err := encodeLists(def)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if taken, err := nameTaken(ctx, tx, def.Name, 0); err != nil {
		return 0, err
	} else if taken {
		return 0, fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
INSERT INTO `+Table+` (name, app, monitor_ids, metrics, creator, modifier, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, def.Name, def.App, monitorIDs, metrics, def.Creator, def.Modifier, now, now)
	if err != nil {
		if s.isDuplicate(err) {
			return 0, fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Defines) UpdateDefine(ctx context.Context, def bulletin.Define) error {
	monitorIDs, metrics, err := encodeLists(def)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM `+Table+` WHERE id = ?;`, def.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", bulletin.ErrDefineNotFound, def.ID)
	}
	if err != nil {
		return err
	}
	if taken, err := nameTaken(ctx, tx, def.Name, def.ID); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE `+Table+`
SET name = ?, app = ?, monitor_ids = ?, metrics = ?, modifier = ?, updated_at = ?
WHERE id = ?;
`, def.Name, def.App, monitorIDs, metrics, def.Modifier, time.Now().UTC(), def.ID); err != nil {
		if s.isDuplicate(err) {
			return fmt.Errorf("%w: %s", bulletin.ErrDefineExists, def.Name)
		}
		return err
	}
	return tx.Commit()
}

func (s *Defines) DeleteDefines(ctx context.Context, names []string) (int64, error) {
	clean := make([]any, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clean)), ",")
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+Table+` WHERE name IN (`+placeholders+`);`, clean...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nameTaken(ctx context.Context, q queryRower, name string, exceptID int64) (bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM `+Table+` WHERE name = ?;`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return id != exceptID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefine(row scanner) (*bulletin.Define, error) {
	var (
		def        bulletin.Define
		monitorIDs string
		metrics    string
		creator    sql.NullString
		modifier   sql.NullString
		createdAt  sql.NullTime
		updatedAt  sql.NullTime
	)
	if err := row.Scan(&def.ID, &def.Name, &def.App, &monitorIDs, &metrics, &creator, &modifier, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	def.MonitorIDs = []int64{}
	if monitorIDs != "" {
		if err := json.Unmarshal([]byte(monitorIDs), &def.MonitorIDs); err != nil {
			return nil, fmt.Errorf("define %d monitor_ids: %w", def.ID, err)
		}
	}
	def.Metrics = []string{}
	if metrics != "" {
		if err := json.Unmarshal([]byte(metrics), &def.Metrics); err != nil {
			return nil, fmt.Errorf("define %d metrics: %w", def.ID, err)
		}
	}
	def.Creator = creator.String
	def.Modifier = modifier.String
	if createdAt.Valid {
		t := createdAt.Time.UTC()
		def.CreatedAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		def.UpdatedAt = &t
	}
	return &def, nil
}

func encodeLists(def bulletin.Define) (string, string, error) {
	ids := def.MonitorIDs
	if ids == nil {
		ids = []int64{}
	}
	metrics := def.Metrics
	if metrics == nil {
		metrics = []string{}
	}
	idsBlob, err := json.Marshal(ids)
	if err != nil {
		return "", "", err
	}
	metricsBlob, err := json.Marshal(metrics)
	if err != nil {
		return "", "", err
	}
	return string(idsBlob), string(metricsBlob), nil
}

// ServiceStats pings the database and counts defines and distinct apps.
func (s *Defines) ServiceStats(ctx context.Context) (*bulletin.StoreStats, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &bulletin.StoreStats{PingMS: time.Since(start).Milliseconds()}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT app) FROM `+Table).Scan(&out.DefinesTotal, &out.AppsTotal); err != nil {
		return nil, err
	}
	return out, nil
}
