// Package tap is the demo capture backend: it aggregates packets into keyed
// conversation and endpoint records and hands the changes to the tables in
// batches.
package tap

import (
	"slices"
	"sync"

	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

// Kind selects which addresses and ports a tap keys its records on.
type Kind int

const (
	Ethernet Kind = iota
	IPv4
	IPv6
	TCP
	UDP
)

// ShortName is the protocol name used in table titles.
func (k Kind) ShortName() string {
	switch k {
	case Ethernet:
		return "Ethernet"
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	}
	return "unknown"
}

// HasPorts reports whether records of this kind are keyed on ports.
func (k Kind) HasPorts() bool {
	return k == TCP || k == UDP
}

type side struct {
	addr string
	port uint32
}

type convKey struct {
	a, b side
}

// keyed is one aggregation array: records in arrival order, the index of
// every key and the set of delivered records changed since the last drain.
type keyed[K comparable, T any] struct {
	index     map[K]int
	records   []T
	delivered int
	dirty     map[int]struct{}
}

func newKeyed[K comparable, T any]() keyed[K, T] {
	return keyed[K, T]{index: make(map[K]int), dirty: make(map[int]struct{})}
}

// upsert returns the record for key, creating it with init when absent.
func (k *keyed[K, T]) upsert(key K, init func() T) *T {
	i, ok := k.index[key]
	if !ok {
		k.records = append(k.records, init())
		i = len(k.records) - 1
		k.index[key] = i
	} else if i < k.delivered {
		k.dirty[i] = struct{}{}
	}
	return &k.records[i]
}

func (k *keyed[K, T]) drain() model.Batch[T] {
	var b model.Batch[T]
	if k.delivered < len(k.records) {
		b.Appended = slices.Clone(k.records[k.delivered:])
	}
	if len(k.dirty) > 0 {
		idx := make([]int, 0, len(k.dirty))
		for i := range k.dirty {
			idx = append(idx, i)
		}
		slices.Sort(idx)
		b.Updated = make([]model.Update[T], len(idx))
		for n, i := range idx {
			b.Updated[n] = model.Update[T]{Index: i, Record: k.records[i]}
		}
		clear(k.dirty)
	}
	k.delivered = len(k.records)
	return b
}

func (k *keyed[K, T]) len() int {
	return len(k.records)
}

// Tap aggregates the packets of one protocol. It is safe for concurrent use
// by the worker pool.
type Tap struct {
	kind   Kind
	logger *zap.SugaredLogger

	mu            sync.Mutex
	conversations keyed[convKey, model.Conversation]
	endpoints     keyed[side, model.Endpoint]
}

// New creates an empty tap.
func New(kind Kind, logger *zap.SugaredLogger) *Tap {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &Tap{kind: kind, logger: logger.With("tap", kind.ShortName())}
	t.resetLocked()
	return t
}

// Kind returns the tap kind.
func (t *Tap) Kind() Kind {
	return t.kind
}

// Name returns the protocol short name.
func (t *Tap) Name() string {
	return t.kind.ShortName()
}

// addresses picks the address pair this tap keys on. ok is false when the
// packet does not belong to the tap.
func (t *Tap) addresses(p *model.PacketInfo) (src, dst model.Address, ok bool) {
	switch t.kind {
	case Ethernet:
		if p.SrcMAC == nil || p.DstMAC == nil {
			return src, dst, false
		}
		return model.EtherAddress(p.SrcMAC), model.EtherAddress(p.DstMAC), true
	case IPv4:
		if p.NetworkVersion() != 4 || p.DstIP == nil {
			return src, dst, false
		}
	case IPv6:
		if p.NetworkVersion() != 6 || p.DstIP == nil {
			return src, dst, false
		}
	case TCP:
		if p.EndpointType != model.EndpointTCP || p.SrcIP == nil {
			return src, dst, false
		}
	case UDP:
		if p.EndpointType != model.EndpointUDP || p.SrcIP == nil {
			return src, dst, false
		}
	default:
		return src, dst, false
	}
	src, dst = p.IPAddresses()
	return src, dst, true
}

func (t *Tap) endpointType() model.EndpointType {
	switch t.kind {
	case TCP:
		return model.EndpointTCP
	case UDP:
		return model.EndpointUDP
	}
	return model.EndpointOther
}

// ProcessPacket adds a packet to the conversation and both endpoints it
// belongs to. Packets of other protocols are ignored.
func (t *Tap) ProcessPacket(p *model.PacketInfo) bool {
	srcAddr, dstAddr, ok := t.addresses(p)
	if !ok {
		return false
	}
	var srcPort, dstPort uint32
	if t.kind.HasPorts() {
		srcPort, dstPort = uint32(p.SrcPort), uint32(p.DstPort)
	}
	src := side{addr: string(srcAddr.Data), port: srcPort}
	dst := side{addr: string(dstAddr.Data), port: dstPort}
	length := uint64(p.Length)
	etype := t.endpointType()

	t.mu.Lock()
	defer t.mu.Unlock()

	// The first packet of a conversation decides which side is A.
	key, forward := convKey{a: src, b: dst}, true
	if _, seen := t.conversations.index[key]; !seen {
		if _, seen := t.conversations.index[convKey{a: dst, b: src}]; seen {
			key, forward = convKey{a: dst, b: src}, false
		}
	}
	c := t.conversations.upsert(key, func() model.Conversation {
		return model.Conversation{
			SrcAddress:   cloneAddress(srcAddr),
			SrcPort:      srcPort,
			DstAddress:   cloneAddress(dstAddr),
			DstPort:      dstPort,
			EndpointType: etype,
			ConvID:       uint32(t.conversations.len()),
			StartTime:    p.RelTime,
			StartAbsTime: p.Timestamp,
			StopTime:     p.RelTime,
		}
	})
	if forward {
		c.TxFrames++
		c.TxBytes += length
	} else {
		c.RxFrames++
		c.RxBytes += length
	}
	// Workers may deliver packets slightly out of order.
	if p.RelTime < c.StartTime {
		c.StartTime = p.RelTime
		c.StartAbsTime = p.Timestamp
	}
	if p.RelTime > c.StopTime {
		c.StopTime = p.RelTime
	}

	newEndpoint := func(addr model.Address, port uint32) func() model.Endpoint {
		return func() model.Endpoint {
			return model.Endpoint{Address: cloneAddress(addr), Port: port, EndpointType: etype}
		}
	}
	se := t.endpoints.upsert(src, newEndpoint(srcAddr, srcPort))
	se.TxFrames++
	se.TxBytes += length
	de := t.endpoints.upsert(dst, newEndpoint(dstAddr, dstPort))
	de.RxFrames++
	de.RxBytes += length
	return true
}

// Drain returns the records added since the last drain and the delivered
// records that changed. A second drain with no new packets returns empty batches.
func (t *Tap) Drain() (model.ConversationBatch, model.EndpointBatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversations.drain(), t.endpoints.drain()
}

// Counts returns the number of conversations and endpoints.
func (t *Tap) Counts() (conversations, endpoints int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversations.len(), t.endpoints.len()
}

// Reset clears the internal state of the tap, preparing for a new capture or filter.
func (t *Tap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.logger.Debugw("tap reset")
}

func (t *Tap) resetLocked() {
	t.conversations = newKeyed[convKey, model.Conversation]()
	t.endpoints = newKeyed[side, model.Endpoint]()
}

func cloneAddress(a model.Address) model.Address {
	return model.Address{Type: a.Type, Data: slices.Clone(a.Data)}
}
