// Package writer persists table snapshots to disk and to ClickHouse.
package writer

import (
	"context"
	"fmt"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
    Timestamp    DateTime,
    TableName    String,
    Protocol     String,
    SrcAddress   String,
    SrcPort      Nullable(UInt32),
    DstAddress   String,
    DstPort      Nullable(UInt32),
    EndpointType String,
    TxFrames     UInt64,
    TxBytes      UInt64,
    RxFrames     UInt64,
    RxBytes      UInt64,
    StartTime    Float64,
    StartAbsTime DateTime64(9),
    Duration     Nullable(Float64),
    BpsAB        Nullable(Float64),
    BpsBA        Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (TableName, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	logger   *zap.SugaredLogger
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration, logger *zap.SugaredLogger) (model.Writer, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infow("connected to ClickHouse and ensured table exists", "host", cfg.Host, "database", cfg.Database)

	return &ClickHouseWriter{conn: conn, interval: interval, logger: logger}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts the conversations of a model.TableSnapshot.
func (w *ClickHouseWriter) Write(payload interface{}, timestamp string) error {
	snapshot, ok := payload.(model.TableSnapshot)
	if !ok {
		return fmt.Errorf("invalid payload type for ClickHouse Writer: expected model.TableSnapshot, got %T", payload)
	}
	if len(snapshot.Conversations) == 0 {
		return nil // Nothing to write
	}

	snapshotTime, err := time.Parse(model.SnapshotTimeLayout, timestamp)
	if err != nil {
		return fmt.Errorf("invalid snapshot timestamp %q: %w", timestamp, err)
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO conversation_snapshots")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	hasPorts := false
	for i := range snapshot.Conversations {
		if snapshot.Conversations[i].EndpointType != model.EndpointOther {
			hasPorts = true
			break
		}
	}
	for i := range snapshot.Conversations {
		row := conversationRow(snapshotTime, snapshot, &snapshot.Conversations[i], hasPorts)
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append conversation to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Infow("wrote conversations to ClickHouse", "table", snapshot.Table, "rows", len(snapshot.Conversations))
	return nil
}

// conversationRow maps one conversation onto the conversation_snapshots
// columns. Unavailable values become NULL.
func conversationRow(ts time.Time, snapshot model.TableSnapshot, c *model.Conversation, hasPorts bool) []interface{} {
	var srcPort, dstPort *uint32
	if hasPorts {
		srcPort, dstPort = &c.SrcPort, &c.DstPort
	}

	var duration, bpsAB, bpsBA *float64
	if m, err := metrics.ForConversation(c); err == nil {
		duration = &m.Duration
		bpsAB = nullableRate(m.BandwidthAB)
		bpsBA = nullableRate(m.BandwidthBA)
	}

	return []interface{}{
		ts,
		snapshot.Table,
		snapshot.Protocol,
		c.SrcAddress.String(),
		srcPort,
		c.DstAddress.String(),
		dstPort,
		c.EndpointType.String(),
		c.TxFrames,
		c.TxBytes,
		c.RxFrames,
		c.RxBytes,
		metrics.StartSeconds(c),
		c.StartAbsTime,
		duration,
		bpsAB,
		bpsBA,
	}
}

func nullableRate(r metrics.Rate) *float64 {
	if !r.Available {
		return nil
	}
	v := r.BitsPerSecond
	return &v
}
