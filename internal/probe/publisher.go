package probe

import (
	"fmt"
	"sync"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher is responsible for publishing table batches to NATS, one
// subject per table.
type Publisher struct {
	nc      *nats.Conn
	conn    natsPublisher
	id      string
	subject string
	logger  *zap.SugaredLogger

	mu  sync.Mutex
	seq map[string]uint64
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig, logger *zap.SugaredLogger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("netspectra-tables-probe"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.NATSURL, err)
	}
	p := newPublisher(nc, cfg.Subject, logger)
	p.nc = nc
	p.logger.Infow("connected to NATS", "url", cfg.NATSURL, "subject", cfg.Subject, "probe", p.id)
	return p, nil
}

func newPublisher(conn natsPublisher, subject string, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{
		conn:    conn,
		id:      uuid.NewString(),
		subject: subject,
		logger:  logger,
		seq:     make(map[string]uint64),
	}
}

func (p *Publisher) send(env *Envelope) error {
	p.mu.Lock()
	p.seq[env.Table]++
	env.Seq = p.seq[env.Table]
	p.mu.Unlock()
	env.Probe = p.id

	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(p.subject, env.Table), data); err != nil {
		return fmt.Errorf("failed to publish batch for table %s: %w", env.Table, err)
	}
	return nil
}

// ID returns the probe identifier stamped on every envelope.
func (p *Publisher) ID() string {
	return p.id
}

// PublishBatch publishes the changes of one table. Empty batches are not sent.
func (p *Publisher) PublishBatch(table string, convs model.ConversationBatch, eps model.EndpointBatch) error {
	if convs.Empty() && eps.Empty() {
		return nil
	}
	return p.send(&Envelope{Table: table, Conversations: convs, Endpoints: eps})
}

// PublishReset tells subscribers to drop a table.
func (p *Publisher) PublishReset(table string) error {
	return p.send(&Envelope{Table: table, Reset: true})
}

// OnResync calls fn with the table name whenever a subscriber lost batches
// and asks for the whole table again.
func (p *Publisher) OnResync(fn func(table string)) error {
	if p.nc == nil {
		return fmt.Errorf("publisher is not connected to NATS")
	}
	subject := ResyncSubject(p.subject)
	_, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		table := string(msg.Data)
		p.logger.Infow("resync requested", "table", table)
		fn(table)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warnw("failed to drain NATS connection", "error", err)
		}
		p.logger.Infow("NATS connection drained and closed")
	}
}
