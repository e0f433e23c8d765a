package mysql

import (
	"context"
	"database/sql"
	"strconv"

	"go-monitor-bulletin/internal/bulletin"
)

// ServiceStats returns MySQL health, server uptime and define counters.
func (s *Store) ServiceStats(ctx context.Context) (*bulletin.StoreStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.Defines.ServiceStats(ctx)
	if err != nil {
		return nil, err
	}

	var statusName string
	var statusValue sql.NullString
	if err := s.DB().QueryRowContext(ctx, `SHOW GLOBAL STATUS LIKE 'Uptime';`).Scan(&statusName, &statusValue); err == nil && statusValue.Valid {
		if v, err := strconv.ParseInt(statusValue.String, 10, 64); err == nil {
			out.UptimeSeconds = v
		}
	}
	return out, nil
}
