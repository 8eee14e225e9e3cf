package protocol

import (
	"net"
	"testing"
	"time"

	"NetSpectraTables/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	macA = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	macB = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func TestParsePacket_TCPv4(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv4},
		ip, tcp, gopacket.Payload([]byte("hello")))

	ts := time.Unix(1700000000, 0)
	info, err := ParsePacket(data, ts)
	require.NoError(t, err)
	assert.Equal(t, ts, info.Timestamp)
	assert.Equal(t, len(data), info.Length)
	assert.Equal(t, macA, info.SrcMAC)
	assert.Equal(t, "10.0.0.2", info.DstIP.String())
	assert.Equal(t, uint16(51000), info.SrcPort)
	assert.Equal(t, uint16(443), info.DstPort)
	assert.Equal(t, model.EndpointTCP, info.EndpointType)
	assert.Equal(t, uint8(4), info.IPVersion)
}

func TestParsePacket_MappedSourceStaysIPv6(t *testing.T) {
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("::ffff:10.0.0.1"), DstIP: net.ParseIP("2001:db8::53")}
	udp := &layers.UDP{SrcPort: 53000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv6},
		ip, udp, gopacket.Payload([]byte{1}))

	info, err := ParsePacket(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint8(6), info.IPVersion)
	assert.NotNil(t, info.SrcIP.To4(), "the source itself looks like IPv4")
	src, dst := info.IPAddresses()
	assert.Equal(t, model.AddressIPv6, src.Type)
	assert.Equal(t, model.AddressIPv6, dst.Type)
}

func TestParsePacket_UDPv6(t *testing.T) {
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::53")}
	udp := &layers.UDP{SrcPort: 53000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeIPv6},
		ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	info, err := ParsePacket(data, time.Now())
	require.NoError(t, err)
	assert.Nil(t, info.SrcIP.To4())
	assert.Equal(t, "2001:db8::53", info.DstIP.String())
	assert.Equal(t, model.EndpointUDP, info.EndpointType)
	assert.Equal(t, uint16(53), info.DstPort)
	assert.Equal(t, uint8(6), info.IPVersion)
}

func TestParsePacket_EthernetOnly(t *testing.T) {
	data := serialize(t,
		&layers.Ethernet{SrcMAC: macA, DstMAC: macB, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: macA, SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2}})

	info, err := ParsePacket(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, macB, info.DstMAC)
	assert.Nil(t, info.SrcIP)
	assert.Equal(t, model.EndpointOther, info.EndpointType)
}

func TestParsePacket_Garbage(t *testing.T) {
	_, err := ParsePacket([]byte{0x01, 0x02}, time.Now())
	assert.ErrorIs(t, err, ErrNoAddresses)
}
