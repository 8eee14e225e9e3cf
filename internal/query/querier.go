// Package query reads conversation snapshots back from ClickHouse.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/writer"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Summary describes the latest snapshot of one table.
type Summary struct {
	Table         string    `json:"table"`
	Snapshot      time.Time `json:"snapshot"`
	Conversations uint64    `json:"conversations"`
	TotalFrames   uint64    `json:"total_frames"`
	TotalBytes    uint64    `json:"total_bytes"`
}

// ConversationKey selects one conversation. Ports are ignored for
// address-only tables.
type ConversationKey struct {
	Table      string
	SrcAddress string
	DstAddress string
	SrcPort    *uint32
	DstPort    *uint32
}

// HistoryPoint is one snapshot of a conversation.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	TxFrames  uint64    `json:"tx_frames"`
	TxBytes   uint64    `json:"tx_bytes"`
	RxFrames  uint64    `json:"rx_frames"`
	RxBytes   uint64    `json:"rx_bytes"`
	BpsAB     *float64  `json:"bps_ab"`
	BpsBA     *float64  `json:"bps_ba"`
}

// Querier defines the interface for querying stored snapshots.
type Querier interface {
	Summaries(ctx context.Context, until time.Time) ([]Summary, error)
	ConversationHistory(ctx context.Context, key ConversationKey) ([]HistoryPoint, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := writer.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// summariesQuery picks the newest snapshot of every table, optionally not
// newer than until.
func summariesQuery(until time.Time) (string, []interface{}) {
	var b strings.Builder
	args := []interface{}{}
	b.WriteString(`
		SELECT
			TableName,
			max(Timestamp) AS Snapshot,
			count() AS Conversations,
			sum(TxFrames + RxFrames) AS TotalFrames,
			sum(TxBytes + RxBytes) AS TotalBytes
		FROM conversation_snapshots
		WHERE (TableName, Timestamp) IN (
			SELECT TableName, max(Timestamp)
			FROM conversation_snapshots`)
	if !until.IsZero() {
		b.WriteString(`
			WHERE Timestamp <= ?`)
		args = append(args, until)
	}
	b.WriteString(`
			GROUP BY TableName
		)
		GROUP BY TableName
		ORDER BY TableName`)
	return b.String(), args
}

// Summaries returns the latest snapshot summary of every table.
func (q *clickhouseQuerier) Summaries(ctx context.Context, until time.Time) ([]Summary, error) {
	query, args := summariesQuery(until)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Table, &s.Snapshot, &s.Conversations, &s.TotalFrames, &s.TotalBytes); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func historyQuery(key ConversationKey) (string, []interface{}, error) {
	if key.Table == "" || key.SrcAddress == "" || key.DstAddress == "" {
		return "", nil, fmt.Errorf("conversation key needs a table and both addresses")
	}
	var b strings.Builder
	b.WriteString(`
		SELECT Timestamp, TxFrames, TxBytes, RxFrames, RxBytes, BpsAB, BpsBA
		FROM conversation_snapshots`)

	where := []string{"TableName = ?", "SrcAddress = ?", "DstAddress = ?"}
	args := []interface{}{key.Table, key.SrcAddress, key.DstAddress}
	if key.SrcPort != nil {
		where = append(where, "SrcPort = ?")
		args = append(args, *key.SrcPort)
	}
	if key.DstPort != nil {
		where = append(where, "DstPort = ?")
		args = append(args, *key.DstPort)
	}
	b.WriteString(" WHERE " + strings.Join(where, " AND "))
	b.WriteString(" ORDER BY Timestamp")
	return b.String(), args, nil
}

// ConversationHistory returns every stored snapshot of one conversation, oldest first.
func (q *clickhouseQuerier) ConversationHistory(ctx context.Context, key ConversationKey) ([]HistoryPoint, error) {
	query, args, err := historyQuery(key)
	if err != nil {
		return nil, err
	}
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.TxFrames, &p.TxBytes, &p.RxFrames, &p.RxBytes, &p.BpsAB, &p.BpsBA); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
