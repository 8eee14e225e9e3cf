package model

import "time"

// TableSnapshot is a copy of one protocol's tables at a point in time.
type TableSnapshot struct {
	Table         string
	Protocol      string
	Conversations []Conversation
	Endpoints     []Endpoint
}

// Writer defines a generic interface for persisting table snapshots.
type Writer interface {
	// Write takes a snapshot payload and persists it.
	// The implementation is expected to know how to handle the payload type it receives.
	Write(payload interface{}, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}

// SnapshotTimeLayout is the layout of the timestamp passed to Writer.Write.
const SnapshotTimeLayout = "2006-01-02_15-04-05"
