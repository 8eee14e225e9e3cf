package probe

import (
	"fmt"
	"sync"
	"time"

	"NetSpectraTables/internal/config"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// resyncRetry is how long a desynchronized table waits before asking again.
const resyncRetry = 5 * time.Second

// EnvelopeHandler applies a received envelope.
type EnvelopeHandler func(env *Envelope) error

// Subscriber is responsible for subscribing to the table subjects and
// handing the envelopes to a handler in order.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.SugaredLogger

	// requestResync asks the probes to publish a table again. May be nil.
	requestResync func(table string) error
	now           func() time.Time

	mu      sync.Mutex
	streams map[string]stream
}

// stream is the state of one table's envelope sequence.
type stream struct {
	probe string
	seq   uint64
	// desynced is set from a lost batch until the next reset envelope.
	desynced  bool
	requested time.Time
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig, logger *zap.SugaredLogger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("netspectra-tables-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATSURL, err)
	}
	s := newSubscriber(cfg.Subject, logger)
	s.nc = nc
	s.requestResync = func(table string) error {
		return nc.Publish(ResyncSubject(cfg.Subject), []byte(table))
	}
	s.logger.Infow("connected to NATS", "url", cfg.NATSURL)
	return s, nil
}

func newSubscriber(subject string, logger *zap.SugaredLogger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Subscriber{subject: subject, logger: logger, now: time.Now, streams: make(map[string]stream)}
}

// Start subscribes to every table subject and starts processing messages with the provided handler.
func (s *Subscriber) Start(handler EnvelopeHandler) error {
	sub, err := s.nc.Subscribe(s.subject+".>", func(msg *nats.Msg) {
		s.handle(msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.>: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Infow("subscribed to table batches", "subject", s.subject+".>")
	return nil
}

// handle decodes and applies one message.
//
// Row indices in a batch only make sense on top of every earlier batch of the
// same probe. When a batch is missing, or the subscriber joined late, the
// table is reset instead of applying the batch, later batches are dropped and
// the probes are asked to publish the table again. The next reset envelope
// brings the table back in step. A different probe starting a table from
// sequence 1 resets it as well.
func (s *Subscriber) handle(data []byte, handler EnvelopeHandler) {
	env, err := Decode(data)
	if err != nil {
		s.logger.Warnw("dropping malformed envelope", "error", err)
		return
	}

	s.mu.Lock()
	last, seen := s.streams[env.Table]
	cur := stream{probe: env.Probe, seq: env.Seq}
	lost := false
	switch {
	case env.Reset:
	case seen && last.probe != env.Probe && env.Seq == 1:
		s.logger.Infow("table taken over by another probe", "table", env.Table, "previous", last.probe, "probe", env.Probe)
		env.Reset = true
	case !seen && env.Seq == 1:
	case !seen || last.probe != env.Probe || env.Seq != last.seq+1:
		s.logger.Warnw("table batches lost, resynchronizing", "table", env.Table, "probe", env.Probe,
			"expected", last.seq+1, "got", env.Seq)
		lost = true
	case last.desynced:
		s.logger.Debugw("dropping batch while waiting for resync", "table", env.Table, "seq", env.Seq)
		lost = true
	}
	wasDesynced := seen && last.desynced
	ask := false
	if lost {
		cur.desynced = true
		cur.requested = last.requested
		if now := s.now(); now.Sub(cur.requested) >= resyncRetry {
			cur.requested = now
			ask = true
		}
	}
	s.streams[env.Table] = cur
	s.mu.Unlock()

	if ask && s.requestResync != nil {
		if err := s.requestResync(env.Table); err != nil {
			s.logger.Warnw("failed to request resync", "table", env.Table, "error", err)
		}
	}
	if lost {
		if wasDesynced {
			return
		}
		env = &Envelope{Probe: env.Probe, Table: env.Table, Seq: env.Seq, Reset: true}
	}

	if err := handler(env); err != nil {
		s.logger.Warnw("failed to apply envelope", "table", env.Table, "seq", env.Seq, "error", err)
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warnw("failed to unsubscribe", "error", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Infow("NATS connection closed")
	}
}
