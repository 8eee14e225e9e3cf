// Package metrics derives durations, rates and totals from raw table records.
package metrics

import (
	"fmt"

	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/store"
)

// MinBandwidthDuration is the shortest interval, in seconds, over which a
// bit rate is reported. Shorter intervals yield NotAvailable.
const MinBandwidthDuration = 5 / 1000.0

// Rate is a bit rate that may be unavailable.
type Rate struct {
	BitsPerSecond float64
	Available     bool
}

// NotAvailable is the rate reported for sub-threshold durations.
var NotAvailable = Rate{}

// Bandwidth returns bytes*8/seconds when seconds exceeds MinBandwidthDuration.
func Bandwidth(bytes uint64, seconds float64) Rate {
	if !(seconds > MinBandwidthDuration) {
		return NotAvailable
	}
	return Rate{BitsPerSecond: float64(bytes) * 8 / seconds, Available: true}
}

// StartSeconds returns the relative start time of a conversation in seconds.
func StartSeconds(c *model.Conversation) float64 {
	return c.StartTime.Seconds()
}

// StopSeconds returns the relative stop time of a conversation in seconds.
func StopSeconds(c *model.Conversation) float64 {
	return c.StopTime.Seconds()
}

// RawDuration is stop minus start in seconds, without the sign check.
func RawDuration(c *model.Conversation) float64 {
	return StopSeconds(c) - StartSeconds(c)
}

// Duration returns stop minus start in seconds.
func Duration(c *model.Conversation) (float64, error) {
	if c.StopTime < c.StartTime {
		return 0, fmt.Errorf("%w: conversation %s stops at %v before it starts at %v",
			store.ErrInvariantViolation, c.Key(), c.StopTime, c.StartTime)
	}
	return RawDuration(c), nil
}

// Conversation is the set of values derived from one conversation record.
type Conversation struct {
	Duration    float64
	BandwidthAB Rate
	BandwidthBA Rate
	TotalFrames uint64
	TotalBytes  uint64
}

// ForConversation computes every derived value. On an invariant violation the
// totals are still filled in while the duration-based values stay unavailable.
func ForConversation(c *model.Conversation) (Conversation, error) {
	out := Conversation{
		TotalFrames: c.TxFrames + c.RxFrames,
		TotalBytes:  c.TxBytes + c.RxBytes,
	}
	d, err := Duration(c)
	if err != nil {
		return out, err
	}
	out.Duration = d
	out.BandwidthAB = Bandwidth(c.TxBytes, d)
	out.BandwidthBA = Bandwidth(c.RxBytes, d)
	return out, nil
}

// Endpoint is the set of values derived from one endpoint record.
type Endpoint struct {
	TotalFrames uint64
	TotalBytes  uint64
}

// ForEndpoint computes endpoint totals.
func ForEndpoint(e *model.Endpoint) Endpoint {
	return Endpoint{
		TotalFrames: e.TxFrames + e.RxFrames,
		TotalBytes:  e.TxBytes + e.RxBytes,
	}
}

// ValidateConversationUpdate rejects replacements that belong to another
// conversation, shrink counters or invert the interval.
func ValidateConversationUpdate(old, updated *model.Conversation) error {
	if old.Key() != updated.Key() {
		return fmt.Errorf("%w: update for %s would replace conversation %s", store.ErrInvariantViolation, updated.Key(), old.Key())
	}
	if updated.StopTime < updated.StartTime {
		return fmt.Errorf("%w: conversation %s stop before start", store.ErrInvariantViolation, updated.Key())
	}
	if updated.TxFrames < old.TxFrames || updated.TxBytes < old.TxBytes ||
		updated.RxFrames < old.RxFrames || updated.RxBytes < old.RxBytes {
		return fmt.Errorf("%w: conversation %s counters decreased", store.ErrInvariantViolation, updated.Key())
	}
	return nil
}

// ValidateEndpointUpdate rejects replacements that belong to another endpoint
// or shrink counters.
func ValidateEndpointUpdate(old, updated *model.Endpoint) error {
	if old.Key() != updated.Key() {
		return fmt.Errorf("%w: update for %s would replace endpoint %s", store.ErrInvariantViolation, updated.Key(), old.Key())
	}
	if updated.TxFrames < old.TxFrames || updated.TxBytes < old.TxBytes ||
		updated.RxFrames < old.RxFrames || updated.RxBytes < old.RxBytes {
		return fmt.Errorf("%w: endpoint %s counters decreased", store.ErrInvariantViolation, updated.Key())
	}
	return nil
}
