package sorting

import "fmt"

// ConversationColumn identifies a column of a conversation table.
type ConversationColumn int

const (
	ConvSrcAddr ConversationColumn = iota
	ConvSrcPort
	ConvDstAddr
	ConvDstPort
	ConvPackets
	ConvBytes
	ConvPacketsAB
	ConvBytesAB
	ConvPacketsBA
	ConvBytesBA
	ConvStart
	ConvDuration
	ConvBpsAB
	ConvBpsBA
	ConvNumColumns
)

var conversationTitles = [ConvNumColumns]string{
	"Address A",
	"Port A",
	"Address B",
	"Port B",
	"Packets",
	"Bytes",
	"Packets A → B",
	"Bytes A → B",
	"Packets B → A",
	"Bytes B → A",
	"Rel Start",
	"Duration",
	"Bits/s A → B",
	"Bits/s B → A",
}

// Title returns the column header. absoluteStart switches the start column
// header to its absolute-time form.
func (c ConversationColumn) Title(absoluteStart bool) string {
	if c < 0 || c >= ConvNumColumns {
		return ""
	}
	if c == ConvStart && absoluteStart {
		return "Abs Start"
	}
	return conversationTitles[c]
}

// IsPort reports whether the column shows a port.
func (c ConversationColumn) IsPort() bool {
	return c == ConvSrcPort || c == ConvDstPort
}

// EndpointColumn identifies a column of an endpoint table. Geo columns only
// exist on IPv4 and IPv6 tables.
type EndpointColumn int

const (
	EndpAddr EndpointColumn = iota
	EndpPort
	EndpPackets
	EndpBytes
	EndpTxPackets
	EndpTxBytes
	EndpRxPackets
	EndpRxBytes
	EndpNumColumns
)

const (
	EndpGeoCountry EndpointColumn = iota + EndpNumColumns
	EndpGeoCity
	EndpGeoASNumber
	EndpGeoASOrg
	EndpNumGeoColumns
)

var endpointTitles = [EndpNumGeoColumns]string{
	"Address",
	"Port",
	"Packets",
	"Bytes",
	"Tx Packets",
	"Tx Bytes",
	"Rx Packets",
	"Rx Bytes",
	"Country",
	"City",
	"AS Number",
	"AS Organization",
}

// Title returns the column header.
func (c EndpointColumn) Title() string {
	if c < 0 || c >= EndpNumGeoColumns {
		return ""
	}
	return endpointTitles[c]
}

// IsGeo reports whether the column is filled from a geolocation lookup.
func (c EndpointColumn) IsGeo() bool {
	return c >= EndpGeoCountry && c < EndpNumGeoColumns
}

var conversationKeys = [ConvNumColumns]string{
	"src_addr", "src_port", "dst_addr", "dst_port",
	"packets", "bytes", "packets_ab", "bytes_ab", "packets_ba", "bytes_ba",
	"start", "duration", "bps_ab", "bps_ba",
}

// Key returns the short name used in configuration and query strings.
func (c ConversationColumn) Key() string {
	if c < 0 || c >= ConvNumColumns {
		return ""
	}
	return conversationKeys[c]
}

// ParseConversationColumn looks a column up by Key.
func ParseConversationColumn(key string) (ConversationColumn, error) {
	for c, k := range conversationKeys {
		if k == key {
			return ConversationColumn(c), nil
		}
	}
	return 0, fmt.Errorf("unknown conversation column %q", key)
}

var endpointKeys = [EndpNumGeoColumns]string{
	"addr", "port", "packets", "bytes", "tx_packets", "tx_bytes", "rx_packets", "rx_bytes",
	"country", "city", "as_number", "as_org",
}

// Key returns the short name used in configuration and query strings.
func (c EndpointColumn) Key() string {
	if c < 0 || c >= EndpNumGeoColumns {
		return ""
	}
	return endpointKeys[c]
}

// ParseEndpointColumn looks a column up by Key.
func ParseEndpointColumn(key string) (EndpointColumn, error) {
	for c, k := range endpointKeys {
		if k == key {
			return EndpointColumn(c), nil
		}
	}
	return 0, fmt.Errorf("unknown endpoint column %q", key)
}
