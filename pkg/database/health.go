package database

import (
	"context"
	"time"
)

// PoolStats summarizes connection pool pressure. WaitCount growing over
// time means sessions are queueing for connections and DB_POOL_SIZE is
// too small for the interview load.
type PoolStats struct {
	Open     int   `json:"open"`
	InUse    int   `json:"in_use"`
	Idle     int   `json:"idle"`
	MaxOpen  int   `json:"max_open"`
	Waits    int64 `json:"waits"`
	WaitedMS int64 `json:"waited_ms"`
}

// HealthStatus is the database portion of the /health report.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`

	// Schema state as recorded by the migration runner. A dirty schema
	// means a migration was interrupted and needs operator attention.
	MigrationVersion int64 `json:"migration_version"`
	MigrationDirty   bool  `json:"migration_dirty"`

	Pool PoolStats `json:"pool"`
}

// Health pings the database, reads the applied migration version, and
// reports pool pressure. Only an unreachable database returns an error;
// a dirty or unreadable schema degrades the status instead.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	health := &HealthStatus{Status: "healthy"}

	row := c.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1")
	if err := row.Scan(&health.MigrationVersion, &health.MigrationDirty); err != nil {
		health.Status = "degraded"
	} else if health.MigrationDirty {
		health.Status = "degraded"
	}

	stats := c.db.Stats()
	health.Pool = PoolStats{
		Open:     stats.OpenConnections,
		InUse:    stats.InUse,
		Idle:     stats.Idle,
		MaxOpen:  stats.MaxOpenConnections,
		Waits:    stats.WaitCount,
		WaitedMS: stats.WaitDuration.Milliseconds(),
	}
	health.ResponseTime = time.Since(start).Milliseconds()
	return health, nil
}
