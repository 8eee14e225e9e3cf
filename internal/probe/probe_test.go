package probe

import (
	"errors"
	"net"
	"testing"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/manager"
	"NetSpectraTables/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	sent []message
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message{subject: subject, data: data})
	return nil
}

func TestPublisher_RoundTrip(t *testing.T) {
	conn := &fakeConn{}
	pub := newPublisher(conn, "netspectra.tables", zaptest.NewLogger(t).Sugar())

	convs := model.ConversationBatch{Appended: []model.Conversation{{
		SrcAddress: model.IPAddress(net.ParseIP("10.0.0.1")),
		DstAddress: model.IPAddress(net.ParseIP("10.0.0.2")),
		TxBytes:    1543,
	}}}
	eps := model.EndpointBatch{Updated: []model.Update[model.Endpoint]{{
		Index:  3,
		Record: model.Endpoint{Address: model.IPAddress(net.ParseIP("10.0.0.1")), TxFrames: 9},
	}}}

	require.NoError(t, pub.PublishBatch("tcp", convs, eps))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{}, model.EndpointBatch{}))
	require.NoError(t, pub.PublishReset("tcp"))
	require.Len(t, conn.sent, 2, "empty batches are not published")
	assert.Equal(t, "netspectra.tables.tcp", conn.sent[0].subject)

	var got []*Envelope
	sub := newSubscriber("netspectra.tables", zaptest.NewLogger(t).Sugar())
	for _, m := range conn.sent {
		sub.handle(m.data, func(env *Envelope) error {
			got = append(got, env)
			return nil
		})
	}
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, pub.ID(), first.Probe)
	assert.Equal(t, "tcp", first.Table)
	assert.Equal(t, uint64(1), first.Seq)
	require.Len(t, first.Conversations.Appended, 1)
	assert.Equal(t, "10.0.0.2", first.Conversations.Appended[0].DstAddress.String())
	assert.Equal(t, uint64(1543), first.Conversations.Appended[0].TxBytes)
	require.Len(t, first.Endpoints.Updated, 1)
	assert.Equal(t, 3, first.Endpoints.Updated[0].Index)

	assert.True(t, got[1].Reset)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestPublisher_Error(t *testing.T) {
	pub := newPublisher(&fakeConn{err: errors.New("nats: connection closed")}, "s", nil)
	err := pub.PublishReset("udp")
	assert.ErrorContains(t, err, "connection closed")
}

func TestSubscriber_DropsMalformed(t *testing.T) {
	sub := newSubscriber("s", zaptest.NewLogger(t).Sugar())
	called := false
	handler := func(*Envelope) error { called = true; return nil }

	sub.handle([]byte("{not json"), handler)
	sub.handle([]byte(`{"seq":1}`), handler)
	assert.False(t, called)
}

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"table":"eth","seq":7,"reset":true}`))
	require.NoError(t, err)
	assert.Equal(t, "eth", env.Table)
	assert.True(t, env.Reset)
	assert.True(t, env.Conversations.Empty())
}

func TestSubscriber_ProbeTakeoverResets(t *testing.T) {
	first := newPublisher(&fakeConn{}, "s", nil)
	second := newPublisher(&fakeConn{}, "s", nil)
	require.NotEqual(t, first.ID(), second.ID())

	encode := func(probe string, seq uint64) []byte {
		data, err := Encode(&Envelope{Probe: probe, Table: "tcp", Seq: seq})
		require.NoError(t, err)
		return data
	}

	var resets []bool
	handler := func(env *Envelope) error {
		resets = append(resets, env.Reset)
		return nil
	}
	sub := newSubscriber("s", zaptest.NewLogger(t).Sugar())
	sub.handle(encode(first.ID(), 1), handler)
	sub.handle(encode(first.ID(), 3), handler)
	sub.handle(encode(second.ID(), 1), handler)
	sub.handle(encode(second.ID(), 2), handler)

	// The gap after 1 resets, and the new probe starting at 1 resets again.
	assert.Equal(t, []bool{false, true, true, false}, resets)
}

func tcpConv(src, dst string, frames uint64) model.Conversation {
	return model.Conversation{
		SrcAddress:   model.IPAddress(net.ParseIP(src)),
		SrcPort:      40000,
		DstAddress:   model.IPAddress(net.ParseIP(dst)),
		DstPort:      443,
		EndpointType: model.EndpointTCP,
		TxFrames:     frames,
		TxBytes:      frames * 100,
	}
}

func TestSubscriber_LostBatchResyncs(t *testing.T) {
	conn := &fakeConn{}
	pub := newPublisher(conn, "s", zaptest.NewLogger(t).Sugar())

	cfg := config.DefaultConfig()
	cfg.Tables.Types = []string{"tcp"}
	m, err := manager.NewManager(cfg, manager.Options{})
	require.NoError(t, err)
	defer m.Stop()

	var requested []string
	sub := newSubscriber("s", zaptest.NewLogger(t).Sugar())
	sub.requestResync = func(table string) error {
		requested = append(requested, table)
		return nil
	}
	apply := func(env *Envelope) error {
		return m.Apply(env.Table, env.Reset, env.Conversations, env.Endpoints)
	}
	set, err := m.Table("tcp")
	require.NoError(t, err)

	a := tcpConv("10.0.0.1", "10.0.0.2", 1)
	c := tcpConv("10.0.0.5", "10.0.0.6", 1)
	grownC := c
	grownC.TxFrames, grownC.TxBytes = 4, 400
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{Appended: []model.Conversation{a}}, model.EndpointBatch{}))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{Appended: []model.Conversation{c}}, model.EndpointBatch{}))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{
		Updated: []model.Update[model.Conversation]{{Index: 1, Record: grownC}},
	}, model.EndpointBatch{}))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{Appended: []model.Conversation{tcpConv("10.0.0.7", "10.0.0.8", 1)}}, model.EndpointBatch{}))
	require.Len(t, conn.sent, 4)

	// The second envelope never arrives.
	sub.handle(conn.sent[0].data, apply)
	assert.Equal(t, 1, set.Conversations.Len())
	sub.handle(conn.sent[2].data, apply)
	assert.Equal(t, 0, set.Conversations.Len(), "table dropped instead of misaligned")
	sub.handle(conn.sent[3].data, apply)
	assert.Equal(t, 0, set.Conversations.Len(), "batches are dropped until the table is resent")
	assert.Equal(t, []string{"tcp"}, requested, "one request per retry interval")

	// The probe answers with the whole table behind a reset.
	conn.sent = nil
	require.NoError(t, pub.PublishReset("tcp"))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{Appended: []model.Conversation{a, grownC}}, model.EndpointBatch{}))
	require.NoError(t, pub.PublishBatch("tcp", model.ConversationBatch{
		Updated: []model.Update[model.Conversation]{{Index: 1, Record: func() model.Conversation {
			g := grownC
			g.TxFrames++
			return g
		}()}},
	}, model.EndpointBatch{}))
	for _, msg := range conn.sent {
		sub.handle(msg.data, apply)
	}

	rows := set.Conversations.Records()
	require.Len(t, rows, 2)
	assert.Equal(t, a.Key(), rows[0].Key())
	assert.Equal(t, c.Key(), rows[1].Key())
	assert.Equal(t, uint64(5), rows[1].TxFrames)
}

func TestSubscriber_LateJoinRequestsResync(t *testing.T) {
	var requested []string
	var got []*Envelope
	sub := newSubscriber("s", zaptest.NewLogger(t).Sugar())
	sub.requestResync = func(table string) error {
		requested = append(requested, table)
		return nil
	}
	now := time.Unix(1700000000, 0)
	sub.now = func() time.Time { return now }
	handler := func(env *Envelope) error {
		got = append(got, env)
		return nil
	}

	data := func(seq uint64) []byte {
		b, err := Encode(&Envelope{Probe: "p", Table: "udp", Seq: seq,
			Conversations: model.ConversationBatch{Appended: []model.Conversation{tcpConv("10.0.0.1", "10.0.0.2", 1)}}})
		require.NoError(t, err)
		return b
	}

	sub.handle(data(7), handler)
	sub.handle(data(8), handler)
	now = now.Add(resyncRetry)
	sub.handle(data(9), handler)

	require.Len(t, got, 1)
	assert.True(t, got[0].Reset)
	assert.True(t, got[0].Conversations.Empty(), "rows from a batch that cannot be placed are dropped")
	assert.Equal(t, []string{"udp", "udp"}, requested)
}

func TestResyncSubject(t *testing.T) {
	assert.Equal(t, "netspectra.tables_resync", ResyncSubject("netspectra.tables"))
	assert.NotContains(t, ResyncSubject("a.b"), "a.b.")
}
