// Package display renders table cells as text.
package display

import (
	"fmt"
	"strconv"
	"time"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"
	"NetSpectraTables/internal/sorting"

	"github.com/dustin/go-humanize"
)

// NotAvailable is shown for values that cannot be computed or were not resolved.
const NotAvailable = "—"

// Formatter renders the cells of conversation and endpoint rows.
type Formatter struct {
	NanosecondPrecision bool
	AbsoluteStart       bool
	ResolveNames        bool
	Resolver            sorting.NameResolver
	// Location is used for absolute start times. Nil means time.Local.
	Location *time.Location
}

// NewFormatter builds a formatter from the display settings.
func NewFormatter(cfg config.DisplayConfig, resolver sorting.NameResolver) *Formatter {
	if resolver == nil {
		resolver = sorting.NumericResolver{}
	}
	return &Formatter{
		NanosecondPrecision: cfg.NanosecondPrecision,
		AbsoluteStart:       cfg.AbsoluteStart,
		ResolveNames:        cfg.ResolveNames,
		Resolver:            resolver,
	}
}

// Count renders a frame count with thousands separators.
func Count(n uint64) string {
	return humanize.Comma(int64(n))
}

// Bytes renders a byte count with an SI prefix.
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

// Bandwidth renders a bit rate with an SI prefix, or NotAvailable.
func Bandwidth(r metrics.Rate) string {
	if !r.Available {
		return NotAvailable
	}
	return humanize.SIWithDigits(r.BitsPerSecond, 1, "bit/s")
}

func (f *Formatter) address(a model.Address) string {
	if f.ResolveNames && f.Resolver != nil {
		return f.Resolver.AddressName(a)
	}
	return a.String()
}

func (f *Formatter) port(p uint32, et model.EndpointType) string {
	if f.ResolveNames {
		if pn, ok := f.Resolver.(sorting.PortNamer); ok {
			return pn.PortName(p, et)
		}
	}
	return strconv.FormatUint(uint64(p), 10)
}

// Start renders the start column: seconds since the first packet with 9 or 6
// digits, or the wall clock time with nanoseconds or microseconds.
func (f *Formatter) Start(c *model.Conversation) string {
	if f.AbsoluteStart {
		loc := f.Location
		if loc == nil {
			loc = time.Local
		}
		t := c.StartAbsTime.In(loc)
		if f.NanosecondPrecision {
			return fmt.Sprintf("%s.%09d", t.Format("15:04:05"), t.Nanosecond())
		}
		return fmt.Sprintf("%s.%06d", t.Format("15:04:05"), t.Nanosecond()/1000)
	}
	digits := 6
	if f.NanosecondPrecision {
		digits = 9
	}
	return strconv.FormatFloat(metrics.StartSeconds(c), 'f', digits, 64)
}

// Duration renders a duration in seconds with 6 or 4 digits.
func (f *Formatter) Duration(seconds float64) string {
	digits := 4
	if f.NanosecondPrecision {
		digits = 6
	}
	return strconv.FormatFloat(seconds, 'f', digits, 64)
}

// ConversationCell renders one conversation column. m is the result of
// metrics.ForConversation; ok is false when that call failed.
func (f *Formatter) ConversationCell(col sorting.ConversationColumn, c *model.Conversation, m metrics.Conversation, ok bool) string {
	switch col {
	case sorting.ConvSrcAddr:
		return f.address(c.SrcAddress)
	case sorting.ConvSrcPort:
		return f.port(c.SrcPort, c.EndpointType)
	case sorting.ConvDstAddr:
		return f.address(c.DstAddress)
	case sorting.ConvDstPort:
		return f.port(c.DstPort, c.EndpointType)
	case sorting.ConvPackets:
		return Count(m.TotalFrames)
	case sorting.ConvBytes:
		return Bytes(m.TotalBytes)
	case sorting.ConvPacketsAB:
		return Count(c.TxFrames)
	case sorting.ConvBytesAB:
		return Bytes(c.TxBytes)
	case sorting.ConvPacketsBA:
		return Count(c.RxFrames)
	case sorting.ConvBytesBA:
		return Bytes(c.RxBytes)
	case sorting.ConvStart:
		return f.Start(c)
	case sorting.ConvDuration:
		if !ok {
			return NotAvailable
		}
		return f.Duration(m.Duration)
	case sorting.ConvBpsAB:
		return Bandwidth(m.BandwidthAB)
	case sorting.ConvBpsBA:
		return Bandwidth(m.BandwidthBA)
	}
	return ""
}

// ConversationRow renders the given columns of a conversation.
func (f *Formatter) ConversationRow(cols []sorting.ConversationColumn, c *model.Conversation) []string {
	m, err := metrics.ForConversation(c)
	row := make([]string, len(cols))
	for i, col := range cols {
		row[i] = f.ConversationCell(col, c, m, err == nil)
	}
	return row
}

// EndpointCell renders one endpoint column.
func (f *Formatter) EndpointCell(col sorting.EndpointColumn, e *model.Endpoint) string {
	switch col {
	case sorting.EndpAddr:
		return f.address(e.Address)
	case sorting.EndpPort:
		return f.port(e.Port, e.EndpointType)
	case sorting.EndpPackets:
		return Count(e.TxFrames + e.RxFrames)
	case sorting.EndpBytes:
		return Bytes(e.TxBytes + e.RxBytes)
	case sorting.EndpTxPackets:
		return Count(e.TxFrames)
	case sorting.EndpTxBytes:
		return Bytes(e.TxBytes)
	case sorting.EndpRxPackets:
		return Count(e.RxFrames)
	case sorting.EndpRxBytes:
		return Bytes(e.RxBytes)
	case sorting.EndpGeoCountry:
		return orNA(sorting.GeoCountry(e))
	case sorting.EndpGeoCity:
		return orNA(sorting.GeoCity(e))
	case sorting.EndpGeoASNumber:
		if n, ok := sorting.GeoASNumber(e); ok {
			return strconv.FormatUint(uint64(n), 10)
		}
		return NotAvailable
	case sorting.EndpGeoASOrg:
		return orNA(sorting.GeoASOrganization(e))
	}
	return ""
}

// EndpointRow renders the given columns of an endpoint.
func (f *Formatter) EndpointRow(cols []sorting.EndpointColumn, e *model.Endpoint) []string {
	row := make([]string, len(cols))
	for i, col := range cols {
		row[i] = f.EndpointCell(col, e)
	}
	return row
}

func orNA(s string, ok bool) string {
	if !ok {
		return NotAvailable
	}
	return s
}
