// Package live opens network interfaces for capture. It needs libpcap.
package live

import (
	"errors"
	"fmt"
	"time"

	netpcap "NetSpectraTables/pkg/pcap"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	// A finite read timeout lets Close interrupt an idle capture.
	timeout = 500 * time.Millisecond
)

// source hides read timeouts from the packet loop. After Close the handle
// reports io.EOF.
type source struct {
	*pcap.Handle
}

func (s source) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	for {
		data, ci, err := s.Handle.ReadPacketData()
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		return data, ci, err
	}
}

func (s source) Close() error {
	s.Handle.Close()
	return nil
}

// Open starts a live capture on iface. filter is an optional BPF expression.
func Open(iface, filter string, logger *zap.SugaredLogger) (*netpcap.Reader, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", iface, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid capture filter %q: %w", filter, err)
		}
	}
	src := source{Handle: handle}
	return netpcap.NewSourceReader(src, src, logger), nil
}
