package pcap

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"NetSpectraTables/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func udpFrame(t *testing.T, src, dst string, payload int) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4()}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip, udp, gopacket.Payload(make([]byte, payload)))
	require.NoError(t, err)
	return buf.Bytes()
}

// writeCapture writes frames one second apart starting at base.
func writeCapture(t *testing.T, base time.Time, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	base := time.Unix(1700000000, 0)
	path := writeCapture(t, base,
		udpFrame(t, "10.0.0.1", "10.0.0.53", 10),
		udpFrame(t, "10.0.0.53", "10.0.0.1", 100),
		[]byte{0xde, 0xad},
	)

	reader, err := NewReader(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, layers.LinkTypeEthernet, reader.LinkType())

	out := make(chan *model.PacketInfo, 8)
	n, err := reader.ReadPackets(context.Background(), out)
	require.NoError(t, err)
	close(out)
	assert.Equal(t, 2, n, "the truncated frame is skipped")

	var infos []*model.PacketInfo
	for info := range out {
		infos = append(infos, info)
	}
	require.Len(t, infos, 2)
	assert.Equal(t, time.Duration(0), infos[0].RelTime)
	assert.Equal(t, time.Second, infos[1].RelTime)
	assert.True(t, infos[0].Timestamp.Equal(base))
	assert.Equal(t, "10.0.0.53", infos[1].SrcIP.String())
	assert.Equal(t, model.EndpointUDP, infos[1].EndpointType)
}

func TestReader_Cancel(t *testing.T) {
	path := writeCapture(t, time.Now(), udpFrame(t, "10.0.0.1", "10.0.0.2", 1))
	reader, err := NewReader(path, nil)
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reader.ReadPackets(ctx, make(chan *model.PacketInfo))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReader_Errors(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "not.pcap")
	require.NoError(t, os.WriteFile(path, []byte("not a capture file at all"), 0o644))
	_, err = NewReader(path, nil)
	assert.Error(t, err)
}
