package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// Schema is the cli_events table the writer appends to and chread queries.
const Schema = `
CREATE TABLE IF NOT EXISTS cli_events (
	event_id     String,
	tenant_id    String,
	timestamp    DateTime64(3, 'UTC'),
	ingested_at  DateTime64(3, 'UTC'),
	tool_name    LowCardinality(String),
	tool_version LowCardinality(String),
	actor_hash   String,
	machine_hash String,
	command      String,
	command_path Array(String),
	flags        Array(String),
	exit_code    Nullable(Int32),
	duration_ms  Nullable(Int64),
	error_type   LowCardinality(String),
	failed       UInt8,
	ci           UInt8
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (tenant_id, timestamp, event_id)`

// ClickHouseWriter mirrors command events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *CommandEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter connects, creates cli_events if missing and starts the flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := Dial(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Exec(ctx, Schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: create table: %w", err)
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *CommandEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w, nil
}

// Dial parses a ClickHouse DSN and opens a pinged connection.
func Dial(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	// TLS unless the DSN opts out with secure=false.
	if opts.TLS == nil && !insecure(dsn) {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Write queues an event. Drops it if the buffer is full; the relational store
// remains the source of truth.
func (w *ClickHouseWriter) Write(event *CommandEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("event_id", event.EventID),
		)
	}
}

// Close drains the buffer (up to drainTimeout) and closes the connection.
// Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*CommandEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*CommandEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO cli_events (
			event_id, tenant_id, timestamp, ingested_at,
			tool_name, tool_version, actor_hash, machine_hash,
			command, command_path, flags,
			exit_code, duration_ms, error_type, failed, ci
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.EventID,
			e.TenantID,
			e.Timestamp,
			e.IngestedAt,
			e.ToolName,
			e.ToolVersion,
			e.ActorHash,
			e.MachineHash,
			e.Command,
			e.CommandPath,
			e.Flags,
			e.ExitCode,
			e.DurationMs,
			e.ErrorType,
			boolToUint8(e.Failed),
			boolToUint8(e.CI),
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

func insecure(dsn string) bool {
	u, err := url.Parse(dsn)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Query().Get("secure"), "false")
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// LogWriter is a fallback EventWriter for local development.
// It logs event metadata via zap; command tokens are already sanitized.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *CommandEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.String("tenant_id", event.TenantID),
		zap.String("tool_name", event.ToolName),
		zap.String("command", event.Command),
		zap.Bool("failed", event.Failed),
		zap.Bool("ci", event.CI),
	}
	if event.ExitCode != nil {
		fields = append(fields, zap.Int32("exit_code", *event.ExitCode))
	}
	w.logger.Debug("cli_event", fields...)
}

func (w *LogWriter) Close() {}
