package manager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/table"
	_ "NetSpectraTables/internal/engine/tap" // Registers the per-protocol table sets
	"NetSpectraTables/internal/factory"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/monitoring"

	"go.uber.org/zap"
)

// ErrUnknownTable is returned for a table name no table set was created for.
var ErrUnknownTable = errors.New("unknown table")

// Sink receives every batch the manager applies locally, e.g. to ship it to
// a remote API over NATS.
type Sink interface {
	PublishBatch(table string, convs model.ConversationBatch, eps model.EndpointBatch) error
	PublishReset(table string) error
}

// Options carry the collaborators of a Manager.
type Options struct {
	Table   table.Options
	Writers []model.Writer
	Sink    Sink
}

// Manager orchestrates the table sets, the packet workers feeding their taps,
// the redraw loop and the snapshot writers.
type Manager struct {
	sets      []*factory.TableSet
	byName    map[string]*factory.TableSet
	writers   []model.Writer
	sink      Sink
	collector *monitoring.Collector
	logger    *zap.SugaredLogger

	// Worker pool for concurrent packet processing
	packetChannel chan *model.PacketInfo
	numWorkers    int
	workerWg      sync.WaitGroup

	redraw time.Duration
	// drawMu serializes redraws, resets and remote batches.
	drawMu sync.Mutex

	done     chan struct{}
	loopWg   sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewManager creates the table sets named in the config.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	redraw, err := cfg.Redraw()
	if err != nil {
		return nil, err
	}
	logger := opts.Table.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
		opts.Table.Logger = logger
	}

	sets, err := factory.Create(cfg, opts.Table)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*factory.TableSet, len(sets))
	for _, set := range sets {
		byName[set.Name] = set
	}

	return &Manager{
		sets:          sets,
		byName:        byName,
		writers:       opts.Writers,
		sink:          opts.Sink,
		collector:     opts.Table.Collector,
		logger:        logger,
		redraw:        redraw,
		done:          make(chan struct{}),
		packetChannel: make(chan *model.PacketInfo, cfg.Tables.SizeOfPacketChannel),
		numWorkers:    cfg.Tables.NumWorkers,
	}, nil
}

// Start begins the packet workers, the redraw loop and one snapshotter per writer.
func (m *Manager) Start() {
	m.started = true
	for _, w := range m.writers {
		m.loopWg.Add(1)
		go m.runSnapshotter(w)
		m.logger.Infow("started snapshotter", "interval", w.GetInterval(), "tables", len(m.sets))
	}

	m.loopWg.Add(1)
	go m.runRedraw()

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}
	m.logger.Infow("manager started", "workers", m.numWorkers, "redraw", m.redraw)
}

// Stop drains the packet channel, draws one last time and lets every writer
// take a final snapshot. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Infow("manager stopping")
		close(m.packetChannel)
		m.workerWg.Wait()

		m.Draw()

		if m.started {
			close(m.done)
			m.loopWg.Wait()
		}
		m.logger.Infow("manager stopped")
	})
}

// InputChannel returns the channel packets are submitted on.
func (m *Manager) InputChannel() chan<- *model.PacketInfo {
	return m.packetChannel
}

// Tables returns the table sets in configuration order.
func (m *Manager) Tables() []*factory.TableSet {
	return m.sets
}

// Table returns the table set with the given type name.
func (m *Manager) Table(name string) (*factory.TableSet, error) {
	set, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return set, nil
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for p := range m.packetChannel {
		// Fan out the packet to every tap
		accepted := false
		for _, set := range m.sets {
			if set.Tap.ProcessPacket(p) {
				accepted = true
			}
		}
		if accepted {
			m.collector.PacketProcessed()
		} else {
			m.collector.PacketDropped()
		}
	}
}

func (m *Manager) runRedraw() {
	defer m.loopWg.Done()
	ticker := time.NewTicker(m.redraw)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Draw()
		case <-m.done:
			return
		}
	}
}

// Draw moves everything the taps gathered since the last draw into the tables.
// A draw with no new packets changes nothing.
func (m *Manager) Draw() {
	m.drawMu.Lock()
	defer m.drawMu.Unlock()

	for _, set := range m.sets {
		convs, eps := set.Tap.Drain()
		if convs.Empty() && eps.Empty() {
			continue
		}
		m.applyLocked(set, convs, eps)
		if m.sink != nil {
			if err := m.sink.PublishBatch(set.Name, convs, eps); err != nil {
				m.logger.Errorw("failed to publish batch", "table", set.Name, "error", err)
			}
		}
	}
}

func (m *Manager) applyLocked(set *factory.TableSet, convs model.ConversationBatch, eps model.EndpointBatch) {
	if err := set.Conversations.OnRecordsAppended(convs); err != nil {
		m.logger.Warnw("conversation batch partly rejected", "table", set.Name, "error", err)
	}
	if err := set.Endpoints.OnRecordsAppended(eps); err != nil {
		m.logger.Warnw("endpoint batch partly rejected", "table", set.Name, "error", err)
	}
}

// Reset clears every tap and table, e.g. after the display filter changed.
func (m *Manager) Reset() {
	m.drawMu.Lock()
	defer m.drawMu.Unlock()

	for _, set := range m.sets {
		set.Tap.Reset()
		set.Conversations.OnReset()
		set.Endpoints.OnReset()
		if m.sink != nil {
			if err := m.sink.PublishReset(set.Name); err != nil {
				m.logger.Errorw("failed to publish reset", "table", set.Name, "error", err)
			}
		}
	}
	m.logger.Infow("all tables reset")
}

// Resync publishes the whole table again behind a reset, for receivers that
// lost batches. Later draws continue from the published rows.
func (m *Manager) Resync(name string) error {
	set, err := m.Table(name)
	if err != nil {
		return err
	}
	if m.sink == nil {
		return nil
	}

	m.drawMu.Lock()
	defer m.drawMu.Unlock()

	if err := m.sink.PublishReset(name); err != nil {
		return fmt.Errorf("failed to publish reset for resync of %s: %w", name, err)
	}
	convs := model.ConversationBatch{Appended: set.Conversations.Records()}
	eps := model.EndpointBatch{Appended: set.Endpoints.Records()}
	if err := m.sink.PublishBatch(name, convs, eps); err != nil {
		return fmt.Errorf("failed to publish rows for resync of %s: %w", name, err)
	}
	m.logger.Infow("table resynchronized", "table", name, "conversations", len(convs.Appended), "endpoints", len(eps.Appended))
	return nil
}

// Apply applies a batch produced elsewhere, e.g. received from a probe.
// reset drops the table before the batch is applied.
func (m *Manager) Apply(name string, reset bool, convs model.ConversationBatch, eps model.EndpointBatch) error {
	set, err := m.Table(name)
	if err != nil {
		return err
	}

	m.drawMu.Lock()
	defer m.drawMu.Unlock()

	if reset {
		set.Conversations.OnReset()
		set.Endpoints.OnReset()
	}
	var errs []error
	if err := set.Conversations.OnRecordsAppended(convs); err != nil {
		errs = append(errs, err)
	}
	if err := set.Endpoints.OnRecordsAppended(eps); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(w model.Writer) {
	defer m.loopWg.Done()
	interval := w.GetInterval()
	if interval <= 0 {
		m.logger.Warnw("invalid writer interval, snapshotter will not run", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshot(w)
		case <-m.done:
			m.takeSnapshot(w)
			return
		}
	}
}

// Snapshot copies the current rows of one table set.
func Snapshot(set *factory.TableSet) model.TableSnapshot {
	return model.TableSnapshot{
		Table:         set.Name,
		Protocol:      set.Conversations.Protocol(),
		Conversations: set.Conversations.Records(),
		Endpoints:     set.Endpoints.Records(),
	}
}

func (m *Manager) takeSnapshot(w model.Writer) {
	timestamp := time.Now().Format(model.SnapshotTimeLayout)
	for _, set := range m.sets {
		if err := w.Write(Snapshot(set), timestamp); err != nil {
			m.logger.Errorw("error writing snapshot", "table", set.Name, "error", err)
		}
	}
	m.logger.Debugw("completed snapshot", "timestamp", timestamp)
}
