package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the body of the /health endpoint.
type HealthReport struct {
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Pool   *PoolStats        `json:"pool,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

func checkHealth(ctx context.Context, p pinger, stats *PoolStats, info map[string]string) (int, HealthReport) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := HealthReport{Status: "healthy", Pool: stats, Info: info}
	if err := p.Ping(ctx); err != nil {
		if stats != nil {
			stats.Healthy = false
		}
		report.Status = "unhealthy"
		report.Error = err.Error()
		return http.StatusServiceUnavailable, report
	}
	return http.StatusOK, report
}

// HealthHandler pings the database and reports pool statistics plus static
// service information such as the active billing policy.
func HealthHandler(pool *pgxpool.Pool, info map[string]string) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, report := checkHealth(c.Request().Context(), pool, GetPoolStats(pool), info)
		return c.JSON(status, report)
	}
}
