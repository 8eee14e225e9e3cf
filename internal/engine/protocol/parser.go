// Package protocol decodes captured frames into the packet metadata the taps aggregate.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"NetSpectraTables/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNoAddresses is returned for frames that carry neither a link-layer nor
// a network-layer address pair.
var ErrNoAddresses = errors.New("packet has no usable addresses")

// ParsePacket uses gopacket to decode a raw Ethernet frame and extract key information.
func ParsePacket(data []byte, ts time.Time) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	info, err := FromPacket(packet)
	if err != nil {
		return nil, err
	}
	info.Timestamp = ts
	return info, nil
}

// FromPacket extracts key information from an already decoded packet.
func FromPacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // Default to now, will be overwritten by packet metadata if available
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		info.SrcMAC = eth.SrcMAC
		info.DstMAC = eth.DstMAC
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.IPVersion = 4
		info.SrcIP = ip.SrcIP
		info.DstIP = ip.DstIP
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		info.IPVersion = 6
		info.SrcIP = ip.SrcIP
		info.DstIP = ip.DstIP
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.SrcPort = uint16(tcp.SrcPort)
		info.DstPort = uint16(tcp.DstPort)
		info.EndpointType = model.EndpointTCP
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.SrcPort = uint16(udp.SrcPort)
		info.DstPort = uint16(udp.DstPort)
		info.EndpointType = model.EndpointUDP
	}

	if info.SrcMAC == nil && info.SrcIP == nil {
		if err := packet.ErrorLayer(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoAddresses, err.Error())
		}
		return nil, ErrNoAddresses
	}
	return info, nil
}
