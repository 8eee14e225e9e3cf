package manager

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/monitoring"
	"NetSpectraTables/internal/sorting"
	"NetSpectraTables/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingWriter struct {
	mu        sync.Mutex
	snapshots []model.TableSnapshot
}

func (w *recordingWriter) Write(payload interface{}, timestamp string) error {
	s, ok := payload.(model.TableSnapshot)
	if !ok {
		return errors.New("unexpected payload")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshots = append(w.snapshots, s)
	return nil
}

func (w *recordingWriter) GetInterval() time.Duration { return time.Hour }

func (w *recordingWriter) last(table string) (model.TableSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.snapshots) - 1; i >= 0; i-- {
		if w.snapshots[i].Table == table {
			return w.snapshots[i], true
		}
	}
	return model.TableSnapshot{}, false
}

type recordingSink struct {
	mu      sync.Mutex
	batches map[string]int
	resets  []string
	last    model.ConversationBatch
}

func (s *recordingSink) PublishBatch(table string, convs model.ConversationBatch, eps model.EndpointBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches == nil {
		s.batches = make(map[string]int)
	}
	s.batches[table]++
	s.last = convs
	return nil
}

func (s *recordingSink) PublishReset(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, table)
	return nil
}

func testConfig(types ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Tables.Types = types
	cfg.Tables.NumWorkers = 2
	cfg.Tables.SizeOfPacketChannel = 16
	cfg.RedrawInterval = "10ms"
	return cfg
}

func tcpPacket(src, dst string, sport, dport uint16, rel time.Duration, length int) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp:    time.Unix(1700000000, 0).Add(rel),
		RelTime:      rel,
		Length:       length,
		SrcIP:        net.ParseIP(src).To4(),
		DstIP:        net.ParseIP(dst).To4(),
		SrcPort:      sport,
		DstPort:      dport,
		EndpointType: model.EndpointTCP,
	}
}

func TestManager_PacketsReachTablesAndWriters(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := &recordingWriter{}
	sink := &recordingSink{}
	m, err := NewManager(testConfig("ipv4", "tcp", "udp"), Options{
		Table: table.Options{
			Logger:    zaptest.NewLogger(t).Sugar(),
			Collector: monitoring.NewCollector(reg),
		},
		Writers: []model.Writer{w},
		Sink:    sink,
	})
	require.NoError(t, err)
	m.Start()

	in := m.InputChannel()
	in <- tcpPacket("10.0.0.1", "10.0.0.2", 40000, 443, 0, 100)
	in <- tcpPacket("10.0.0.2", "10.0.0.1", 443, 40000, 10*time.Millisecond, 1500)
	in <- tcpPacket("10.0.0.1", "10.0.0.3", 40001, 80, 20*time.Millisecond, 60)
	m.Stop()
	m.Stop()

	tcp, err := m.Table("tcp")
	require.NoError(t, err)
	assert.Equal(t, 2, tcp.Conversations.Len())
	assert.Equal(t, 4, tcp.Endpoints.Len())

	ipv4, err := m.Table("ipv4")
	require.NoError(t, err)
	assert.Equal(t, 2, ipv4.Conversations.Len())
	assert.Equal(t, 3, ipv4.Endpoints.Len())

	udp, err := m.Table("udp")
	require.NoError(t, err)
	assert.Equal(t, 0, udp.Conversations.Len())

	handles := tcp.Conversations.Sorted(sorting.ConvBytes, false, true)
	require.Len(t, handles, 2)
	top, err := tcp.Conversations.Record(handles[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(1600), top.TxBytes+top.RxBytes)
	assert.Equal(t, uint64(1500), top.RxBytes)

	snap, ok := w.last("tcp")
	require.True(t, ok, "final snapshot written on stop")
	assert.Equal(t, "TCP", snap.Protocol)
	assert.Len(t, snap.Conversations, 2)
	assert.Len(t, snap.Endpoints, 4)

	sink.mu.Lock()
	assert.GreaterOrEqual(t, sink.batches["tcp"], 1)
	assert.Zero(t, sink.batches["udp"], "empty draws are not published")
	sink.mu.Unlock()
}

func TestManager_Reset(t *testing.T) {
	sink := &recordingSink{}
	m, err := NewManager(testConfig("tcp"), Options{Sink: sink})
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	m.InputChannel() <- tcpPacket("10.0.0.1", "10.0.0.2", 1, 2, 0, 10)
	require.Eventually(t, func() bool {
		m.Draw()
		set, _ := m.Table("tcp")
		return set.Conversations.Len() == 1
	}, time.Second, 5*time.Millisecond)

	set, err := m.Table("tcp")
	require.NoError(t, err)
	h := set.Conversations.Handles()[0]

	m.Reset()
	assert.Equal(t, 0, set.Conversations.Len())
	assert.Equal(t, 0, set.Endpoints.Len())
	_, err = set.Conversations.Record(h)
	assert.ErrorIs(t, err, store.ErrInvariantViolation)
	assert.Equal(t, []string{"tcp"}, sink.resets)

	m.Draw()
	assert.Equal(t, 0, set.Conversations.Len(), "the tap was reset too")
}

func TestManager_Resync(t *testing.T) {
	sink := &recordingSink{}
	m, err := NewManager(testConfig("tcp"), Options{Sink: sink})
	require.NoError(t, err)

	convs := []model.Conversation{
		{SrcAddress: model.IPAddress(net.ParseIP("10.0.0.1")), DstAddress: model.IPAddress(net.ParseIP("10.0.0.2")), TxFrames: 1},
		{SrcAddress: model.IPAddress(net.ParseIP("10.0.0.3")), DstAddress: model.IPAddress(net.ParseIP("10.0.0.4")), TxFrames: 2},
	}
	require.NoError(t, m.Apply("tcp", false, model.ConversationBatch{Appended: convs}, model.EndpointBatch{}))

	require.NoError(t, m.Resync("tcp"))
	assert.Equal(t, []string{"tcp"}, sink.resets)
	assert.Equal(t, 1, sink.batches["tcp"])
	assert.Equal(t, convs, sink.last.Appended)
	assert.Empty(t, sink.last.Updated)

	set, err := m.Table("tcp")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Conversations.Len(), "local rows are kept")

	assert.ErrorIs(t, m.Resync("sctp"), ErrUnknownTable)
	m.Stop()
}

func TestManager_Apply(t *testing.T) {
	m, err := NewManager(testConfig("tcp"), Options{})
	require.NoError(t, err)

	conv := model.Conversation{
		SrcAddress: model.IPAddress(net.ParseIP("10.0.0.1")),
		DstAddress: model.IPAddress(net.ParseIP("10.0.0.2")),
		TxFrames:   1,
		TxBytes:    100,
		StopTime:   time.Second,
	}
	require.NoError(t, m.Apply("tcp", false, model.ConversationBatch{Appended: []model.Conversation{conv}}, model.EndpointBatch{}))

	grown := conv
	grown.TxFrames, grown.TxBytes = 2, 200
	require.NoError(t, m.Apply("tcp", false, model.ConversationBatch{
		Updated: []model.Update[model.Conversation]{{Index: 0, Record: grown}},
	}, model.EndpointBatch{}))

	set, err := m.Table("tcp")
	require.NoError(t, err)
	assert.Equal(t, []model.Conversation{grown}, set.Conversations.Records())

	shrunk := conv
	err = m.Apply("tcp", false, model.ConversationBatch{
		Updated: []model.Update[model.Conversation]{{Index: 0, Record: shrunk}},
	}, model.EndpointBatch{})
	assert.ErrorIs(t, err, store.ErrInvariantViolation)

	require.NoError(t, m.Apply("tcp", true, model.ConversationBatch{}, model.EndpointBatch{}))
	assert.Equal(t, 0, set.Conversations.Len())

	err = m.Apply("sctp", false, model.ConversationBatch{}, model.EndpointBatch{})
	assert.ErrorIs(t, err, ErrUnknownTable)
	m.Stop()
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig("tcp")
	cfg.RedrawInterval = "soon"
	_, err := NewManager(cfg, Options{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = NewManager(testConfig("tcp", "bogus"), Options{})
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	m, err := NewManager(testConfig("udp"), Options{})
	require.NoError(t, err)
	set, err := m.Table("udp")
	require.NoError(t, err)

	snap := Snapshot(set)
	assert.Equal(t, "udp", snap.Table)
	assert.Equal(t, "UDP", snap.Protocol)
	assert.Empty(t, snap.Conversations)
}
