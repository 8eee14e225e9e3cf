package model

import (
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// AddressType identifies how the bytes of an Address are interpreted.
type AddressType uint8

const (
	AddressNone AddressType = iota
	AddressEther
	AddressIPv4
	AddressIPv6
)

// Address is a raw network address as handed over by the capture backend.
type Address struct {
	Type AddressType `json:"type"`
	Data []byte      `json:"data"`
}

// IPAddress wraps a net.IP, choosing the IPv4 form when possible.
func IPAddress(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{Type: AddressIPv4, Data: []byte(v4)}
	}
	if v6 := ip.To16(); v6 != nil {
		return Address{Type: AddressIPv6, Data: []byte(v6)}
	}
	return Address{}
}

// IPv6Address wraps a net.IP as IPv6, keeping IPv4-mapped addresses in their
// 16-byte form.
func IPv6Address(ip net.IP) Address {
	if v6 := ip.To16(); v6 != nil {
		return Address{Type: AddressIPv6, Data: []byte(v6)}
	}
	return Address{}
}

// EtherAddress wraps a hardware address.
func EtherAddress(mac net.HardwareAddr) Address {
	return Address{Type: AddressEther, Data: []byte(mac)}
}

// IP returns the address as a net.IP, or nil for non-IP addresses.
func (a Address) IP() net.IP {
	switch a.Type {
	case AddressIPv4, AddressIPv6:
		return net.IP(a.Data)
	}
	return nil
}

// String returns the numeric (unresolved) form of the address.
func (a Address) String() string {
	switch a.Type {
	case AddressIPv4:
		return net.IP(a.Data).String()
	case AddressIPv6:
		// net.IP prints IPv4-mapped addresses in dotted form.
		if ip, ok := netip.AddrFromSlice(a.Data); ok {
			return ip.String()
		}
		return net.IP(a.Data).String()
	case AddressEther:
		return net.HardwareAddr(a.Data).String()
	case AddressNone:
		return ""
	}
	return hex.EncodeToString(a.Data)
}

// EndpointType is the transport (or lack of one) a record was keyed on.
type EndpointType uint8

const (
	EndpointOther EndpointType = iota
	EndpointTCP
	EndpointUDP
)

func (e EndpointType) String() string {
	switch e {
	case EndpointTCP:
		return "tcp"
	case EndpointUDP:
		return "udp"
	}
	return "other"
}

// Conversation holds the raw counters of one bidirectional flow.
// Tx counters are A->B, Rx counters are B->A.
type Conversation struct {
	SrcAddress   Address      `json:"src_address"`
	SrcPort      uint32       `json:"src_port"`
	DstAddress   Address      `json:"dst_address"`
	DstPort      uint32       `json:"dst_port"`
	EndpointType EndpointType `json:"endpoint_type"`
	ConvID       uint32       `json:"conv_id"`

	TxFrames uint64 `json:"tx_frames"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxFrames uint64 `json:"rx_frames"`
	RxBytes  uint64 `json:"rx_bytes"`

	// StartTime and StopTime are relative to the first packet of the capture.
	StartTime    time.Duration `json:"start_time"`
	StartAbsTime time.Time     `json:"start_abs_time"`
	StopTime     time.Duration `json:"stop_time"`
}

// Key identifies the conversation for uniqueness checks in the backend.
func (c *Conversation) Key() string {
	return fmt.Sprintf("%s:%d-%s:%d/%s", c.SrcAddress, c.SrcPort, c.DstAddress, c.DstPort, c.EndpointType)
}

// GeoLookup is a resolved geolocation/AS record for an address.
// Empty strings and zero numbers mean the field was not present in the database.
type GeoLookup struct {
	Found          bool    `json:"found"`
	HasLocation    bool    `json:"has_location"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Country        string  `json:"country,omitempty"`
	City           string  `json:"city,omitempty"`
	ASNumber       uint32  `json:"as_number,omitempty"`
	ASOrganization string  `json:"as_organization,omitempty"`
	AccuracyRadius uint16  `json:"accuracy_radius,omitempty"`
}

// HasCoords reports whether the lookup can be placed on a map.
func (g *GeoLookup) HasCoords() bool {
	if g == nil || !g.Found || !g.HasLocation {
		return false
	}
	if math.IsNaN(g.Latitude) || math.IsNaN(g.Longitude) {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 && g.Longitude >= -180 && g.Longitude <= 180
}

// Endpoint holds the raw counters of one address (and port, for transport tables).
type Endpoint struct {
	Address      Address      `json:"address"`
	Port         uint32       `json:"port"`
	EndpointType EndpointType `json:"endpoint_type"`

	TxFrames uint64 `json:"tx_frames"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxFrames uint64 `json:"rx_frames"`
	RxBytes  uint64 `json:"rx_bytes"`

	Geo *GeoLookup `json:"geo,omitempty"`
}

// Key identifies the endpoint for uniqueness checks in the backend.
func (e *Endpoint) Key() string {
	return e.Address.String() + ":" + strconv.FormatUint(uint64(e.Port), 10) + "/" + e.EndpointType.String()
}

// PacketInfo holds the metadata extracted from a single packet by the demo backend.
type PacketInfo struct {
	Timestamp time.Time
	// RelTime is the offset from the first packet of the capture.
	RelTime time.Duration
	Length  int
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	// IPVersion is 4 or 6 after the network layer of that version, 0 when
	// the decoder did not record it.
	IPVersion    uint8
	SrcIP        net.IP
	DstIP        net.IP
	SrcPort      uint16
	DstPort      uint16
	EndpointType EndpointType
}

// NetworkVersion returns IPVersion, or infers it from SrcIP when unset.
// It is 0 for packets without a network layer.
func (p *PacketInfo) NetworkVersion() uint8 {
	switch {
	case p.IPVersion != 0:
		return p.IPVersion
	case p.SrcIP == nil:
		return 0
	case p.SrcIP.To4() != nil:
		return 4
	}
	return 6
}

// IPAddresses returns the network-layer pair typed by the layer that
// carried it, so an IPv4-mapped source in an IPv6 header stays IPv6.
func (p *PacketInfo) IPAddresses() (src, dst Address) {
	if p.NetworkVersion() == 6 {
		return IPv6Address(p.SrcIP), IPv6Address(p.DstIP)
	}
	return IPAddress(p.SrcIP), IPAddress(p.DstIP)
}

// Update carries a grown version of a record the table already holds at Index.
type Update[T any] struct {
	Index  int `json:"index"`
	Record T   `json:"record"`
}

// Batch is the set of changes the backend hands over on one redraw: new
// records in arrival order and replacements for records already delivered.
type Batch[T any] struct {
	Appended []T         `json:"appended,omitempty"`
	Updated  []Update[T] `json:"updated,omitempty"`
}

// Empty reports whether the batch carries no change.
func (b Batch[T]) Empty() bool {
	return len(b.Appended) == 0 && len(b.Updated) == 0
}

type (
	ConversationBatch = Batch[Conversation]
	EndpointBatch     = Batch[Endpoint]
)
