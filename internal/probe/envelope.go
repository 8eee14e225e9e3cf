package probe

import (
	"encoding/json"
	"fmt"

	"NetSpectraTables/internal/model"
)

// Envelope carries one table's changes from a capture backend to the tables
// behind the API. A Reset envelope tells the receiver to drop the table
// before applying anything that follows. Probe identifies the publishing
// process; sequence numbers and row indices are only meaningful per probe.
type Envelope struct {
	Probe         string                  `json:"probe"`
	Table         string                  `json:"table"`
	Seq           uint64                  `json:"seq"`
	Reset         bool                    `json:"reset,omitempty"`
	Conversations model.ConversationBatch `json:"conversations"`
	Endpoints     model.EndpointBatch     `json:"endpoints"`
}

// Encode serializes an envelope.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope for table %s: %w", env.Table, err)
	}
	return data, nil
}

// Decode parses an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Table == "" {
		return nil, fmt.Errorf("envelope has no table name")
	}
	return &env, nil
}

// Subject returns the NATS subject a table is published on.
func Subject(prefix, table string) string {
	return prefix + "." + table
}

// ResyncSubject is where subscribers ask probes to send a table again. It
// lies outside the prefix.> wildcard the table subjects use.
func ResyncSubject(prefix string) string {
	return prefix + "_resync"
}
