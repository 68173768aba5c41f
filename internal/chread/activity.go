package chread

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/cli-analytics/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultDays    = 7
	MaxDays        = 90
	topCommandsMax = 10
)

// Reader provides read access to the ClickHouse cli_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
	now    func() time.Time
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(ctx context.Context, dsn string, logger *zap.Logger) (*Reader, error) {
	conn, err := storage.Dial(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	return &Reader{conn: conn, logger: logger, now: time.Now}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// HourBucket holds hourly event and failure counts.
type HourBucket struct {
	Hour     string `json:"hour"`
	Events   int    `json:"events"`
	Failures int    `json:"failures"`
}

// CommandCount holds a command and how often it ran.
type CommandCount struct {
	Command  string  `json:"command"`
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	FailRate float64 `json:"failure_rate"`
}

// Activity is the ClickHouse-backed activity report.
type Activity struct {
	Days        int            `json:"days"`
	TotalEvents int            `json:"total_events"`
	Failures    int            `json:"failures"`
	FailRate    float64        `json:"failure_rate"`
	Hourly      []HourBucket   `json:"hourly"`
	TopCommands []CommandCount `json:"top_commands"`
}

// ClampDays bounds a requested window to [1, MaxDays], defaulting non-positive values.
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// GetActivity returns per-hour volume and the busiest commands for a tenant
// over the last days.
func (r *Reader) GetActivity(ctx context.Context, tenantID string, days int) (*Activity, error) {
	days = ClampDays(days)
	rangeStart := r.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	args := []any{
		clickhouse.Named("tenant_id", tenantID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &Activity{Days: days, Hourly: []HourBucket{}, TopCommands: []CommandCount{}}

	// FINAL collapses retried inserts of the same event_id.
	var total, failures uint64
	if err := r.conn.QueryRow(ctx,
		"SELECT count(), countIf(failed = 1) "+
			"FROM cli_events FINAL "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @range_start",
		args...,
	).Scan(&total, &failures); err != nil {
		return nil, fmt.Errorf("GetActivity totals: %w", err)
	}
	result.TotalEvents = int(total)
	result.Failures = int(failures)
	result.FailRate = rate(failures, total)

	hourRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) AS hour, count() AS events, countIf(failed = 1) AS failures "+
			"FROM cli_events FINAL "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetActivity hourly: %w", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour time.Time
		var events, failed uint64
		if err := hourRows.Scan(&hour, &events, &failed); err != nil {
			return nil, fmt.Errorf("GetActivity hourly scan: %w", err)
		}
		result.Hourly = append(result.Hourly, HourBucket{
			Hour:     hour.UTC().Format(time.RFC3339),
			Events:   int(events),
			Failures: int(failed),
		})
	}
	if err := hourRows.Err(); err != nil {
		return nil, fmt.Errorf("GetActivity hourly: %w", err)
	}

	cmdRows, err := r.conn.Query(ctx,
		"SELECT command, count() AS n, countIf(failed = 1) AS failures "+
			"FROM cli_events FINAL "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @range_start "+
			"GROUP BY command ORDER BY n DESC, command LIMIT @limit",
		append(args, clickhouse.Named("limit", uint32(topCommandsMax)))...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetActivity top_commands: %w", err)
	}
	defer func() { _ = cmdRows.Close() }()
	for cmdRows.Next() {
		var cmd string
		var n, failed uint64
		if err := cmdRows.Scan(&cmd, &n, &failed); err != nil {
			return nil, fmt.Errorf("GetActivity top_commands scan: %w", err)
		}
		result.TopCommands = append(result.TopCommands, CommandCount{
			Command:  cmd,
			Count:    int(n),
			Failures: int(failed),
			FailRate: rate(failed, n),
		})
	}
	return result, cmdRows.Err()
}

// rate is part/total as a percentage truncated to two decimals; 0 when total is 0.
func rate(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part*10000/total) / 100
}
