package tap

import (
	"net"
	"sync"
	"testing"
	"time"

	"NetSpectraTables/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var base = time.Unix(1700000000, 0)

func packet(src string, sport uint16, dst string, dport uint16, et model.EndpointType, rel time.Duration, length int) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp:    base.Add(rel),
		RelTime:      rel,
		Length:       length,
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		SrcIP:        net.ParseIP(src),
		DstIP:        net.ParseIP(dst),
		SrcPort:      sport,
		DstPort:      dport,
		EndpointType: et,
	}
}

func TestTap_Conversations(t *testing.T) {
	tp := New(TCP, zaptest.NewLogger(t).Sugar())

	require.True(t, tp.ProcessPacket(packet("10.0.0.1", 51000, "10.0.0.2", 80, model.EndpointTCP, time.Second, 100)))
	require.True(t, tp.ProcessPacket(packet("10.0.0.2", 80, "10.0.0.1", 51000, model.EndpointTCP, 2*time.Second, 1500)))
	require.True(t, tp.ProcessPacket(packet("10.0.0.3", 51001, "10.0.0.2", 80, model.EndpointTCP, 3*time.Second, 60)))
	assert.False(t, tp.ProcessPacket(packet("10.0.0.1", 5000, "10.0.0.2", 53, model.EndpointUDP, time.Second, 60)))

	convs, eps := tp.Drain()
	require.Len(t, convs.Appended, 2)
	assert.Empty(t, convs.Updated)

	c := convs.Appended[0]
	assert.Equal(t, "10.0.0.1", c.SrcAddress.String())
	assert.Equal(t, uint32(51000), c.SrcPort)
	assert.Equal(t, uint64(1), c.TxFrames)
	assert.Equal(t, uint64(100), c.TxBytes)
	assert.Equal(t, uint64(1), c.RxFrames)
	assert.Equal(t, uint64(1500), c.RxBytes)
	assert.Equal(t, time.Second, c.StartTime)
	assert.Equal(t, 2*time.Second, c.StopTime)
	assert.True(t, c.StartAbsTime.Equal(base.Add(time.Second)))
	assert.Equal(t, model.EndpointTCP, c.EndpointType)
	assert.Equal(t, uint32(1), convs.Appended[1].ConvID)

	// 10.0.0.1:51000, 10.0.0.2:80, 10.0.0.3:51001
	require.Len(t, eps.Appended, 3)
	assert.Equal(t, uint64(1), eps.Appended[1].TxFrames)
	assert.Equal(t, uint64(2), eps.Appended[1].RxFrames)
}

func TestTap_DrainReportsUpdates(t *testing.T) {
	tp := New(UDP, nil)
	tp.ProcessPacket(packet("10.0.0.1", 5000, "10.0.0.53", 53, model.EndpointUDP, 0, 60))
	tp.ProcessPacket(packet("10.0.0.1", 5001, "10.0.0.53", 53, model.EndpointUDP, 0, 60))
	tp.Drain()

	convs, eps := tp.Drain()
	assert.True(t, convs.Empty(), "draining twice without packets is a no-op")
	assert.True(t, eps.Empty())

	tp.ProcessPacket(packet("10.0.0.53", 53, "10.0.0.1", 5001, model.EndpointUDP, time.Second, 200))
	tp.ProcessPacket(packet("10.0.0.2", 5000, "10.0.0.53", 53, model.EndpointUDP, time.Second, 60))

	convs, eps = tp.Drain()
	require.Len(t, convs.Updated, 1)
	assert.Equal(t, 1, convs.Updated[0].Index)
	assert.Equal(t, uint64(200), convs.Updated[0].Record.RxBytes)
	assert.Equal(t, time.Second, convs.Updated[0].Record.StopTime)
	require.Len(t, convs.Appended, 1)

	// 10.0.0.53:53 (index 1) and 10.0.0.1:5001 (index 2) changed, 10.0.0.2:5000 is new.
	require.Len(t, eps.Updated, 2)
	assert.Equal(t, 1, eps.Updated[0].Index)
	assert.Equal(t, 2, eps.Updated[1].Index)
	require.Len(t, eps.Appended, 1)
	assert.Equal(t, "10.0.0.2", eps.Appended[0].Address.String())
}

func TestTap_Kinds(t *testing.T) {
	v4 := packet("10.0.0.1", 1, "10.0.0.2", 2, model.EndpointTCP, 0, 60)
	v6 := packet("2001:db8::1", 1, "2001:db8::2", 2, model.EndpointUDP, 0, 60)
	arp := &model.PacketInfo{SrcMAC: net.HardwareAddr{1, 1, 1, 1, 1, 1}, DstMAC: net.HardwareAddr{2, 2, 2, 2, 2, 2}, Length: 42}

	tests := []struct {
		kind Kind
		want [3]bool
	}{
		{Ethernet, [3]bool{true, true, true}},
		{IPv4, [3]bool{true, false, false}},
		{IPv6, [3]bool{false, true, false}},
		{TCP, [3]bool{true, false, false}},
		{UDP, [3]bool{false, true, false}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.ShortName(), func(t *testing.T) {
			tp := New(tt.kind, nil)
			got := [3]bool{tp.ProcessPacket(v4), tp.ProcessPacket(v6), tp.ProcessPacket(arp)}
			assert.Equal(t, tt.want, got)
		})
	}

	tp := New(IPv4, nil)
	tp.ProcessPacket(v4)
	convs, eps := tp.Drain()
	require.Len(t, convs.Appended, 1)
	assert.Zero(t, convs.Appended[0].SrcPort, "address-only tables ignore ports")
	assert.Equal(t, model.EndpointOther, convs.Appended[0].EndpointType)
	assert.Len(t, eps.Appended, 2)
}

func TestTap_MappedAddressInIPv6Header(t *testing.T) {
	p := packet("::ffff:10.0.0.1", 40000, "2001:db8::2", 443, model.EndpointTCP, 0, 80)
	p.IPVersion = 6

	assert.False(t, New(IPv4, nil).ProcessPacket(p))

	v6 := New(IPv6, nil)
	require.True(t, v6.ProcessPacket(p))
	convs, _ := v6.Drain()
	require.Len(t, convs.Appended, 1)
	assert.Equal(t, model.AddressIPv6, convs.Appended[0].SrcAddress.Type)
	assert.Equal(t, "::ffff:10.0.0.1", convs.Appended[0].SrcAddress.String())

	tcp := New(TCP, nil)
	require.True(t, tcp.ProcessPacket(p))
	convs, _ = tcp.Drain()
	require.Len(t, convs.Appended, 1)
	assert.Equal(t, model.AddressIPv6, convs.Appended[0].SrcAddress.Type, "transport tables keep the header's family")

	// Without a recorded version the family is inferred from the source.
	plain := packet("10.0.0.1", 1, "10.0.0.2", 2, model.EndpointTCP, 0, 60)
	assert.True(t, New(IPv4, nil).ProcessPacket(plain))
	assert.False(t, New(IPv6, nil).ProcessPacket(plain))
}

func TestTap_Reset(t *testing.T) {
	tp := New(TCP, nil)
	tp.ProcessPacket(packet("10.0.0.1", 1, "10.0.0.2", 2, model.EndpointTCP, 0, 60))
	tp.Drain()
	tp.Reset()

	c, e := tp.Counts()
	assert.Zero(t, c)
	assert.Zero(t, e)

	tp.ProcessPacket(packet("10.0.0.1", 1, "10.0.0.2", 2, model.EndpointTCP, 0, 60))
	convs, _ := tp.Drain()
	assert.Len(t, convs.Appended, 1, "after reset the same key is new again")
	assert.Empty(t, convs.Updated)
}

func TestTap_Concurrent(t *testing.T) {
	tp := New(TCP, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tp.ProcessPacket(packet("10.0.0.1", uint16(w), "10.0.0.2", 80, model.EndpointTCP, time.Duration(i)*time.Millisecond, 10))
			}
		}(w)
	}
	wg.Wait()

	convs, _ := tp.Drain()
	require.Len(t, convs.Appended, 8)
	var frames uint64
	for _, c := range convs.Appended {
		frames += c.TxFrames
		assert.Equal(t, time.Duration(0), c.StartTime)
		assert.Equal(t, 99*time.Millisecond, c.StopTime)
	}
	assert.Equal(t, uint64(800), frames)
}
