// Package sorting orders conversation and endpoint records by any table column.
package sorting

import (
	"bytes"
	"cmp"
	"math"
	"slices"
	"strings"

	"NetSpectraTables/internal/metrics"
	"NetSpectraTables/internal/model"

	"golang.org/x/text/cases"
)

// Ordering is the result of comparing two records.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// NameResolver turns raw addresses into display names. Resolution itself is
// done elsewhere; implementations only look up what is already known.
type NameResolver interface {
	AddressName(addr model.Address) string
}

// PortNamer is implemented by resolvers that also know service names. Port
// columns still sort by number.
type PortNamer interface {
	PortName(port uint32, et model.EndpointType) string
}

// NumericResolver displays every address in numeric form.
type NumericResolver struct{}

// AddressName implements NameResolver.
func (NumericResolver) AddressName(addr model.Address) string {
	return addr.String()
}

type conversationCompareFunc func(resolve bool, a, b *model.Conversation) Ordering

type endpointCompareFunc func(resolve bool, a, b *model.Endpoint) Ordering

// ConversationComparator orders conversation records. It holds no mutable
// state and is safe for concurrent use.
type ConversationComparator struct {
	resolver NameResolver
	columns  [ConvNumColumns]conversationCompareFunc
}

// NewConversationComparator builds the per-column comparison table.
func NewConversationComparator(resolver NameResolver) *ConversationComparator {
	if resolver == nil {
		resolver = NumericResolver{}
	}
	c := &ConversationComparator{resolver: resolver}
	c.columns = [ConvNumColumns]conversationCompareFunc{
		ConvSrcAddr: func(resolve bool, a, b *model.Conversation) Ordering {
			return c.compareAddress(resolve, a.SrcAddress, b.SrcAddress)
		},
		ConvSrcPort: func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.SrcPort, b.SrcPort) },
		ConvDstAddr: func(resolve bool, a, b *model.Conversation) Ordering {
			return c.compareAddress(resolve, a.DstAddress, b.DstAddress)
		},
		ConvDstPort: func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.DstPort, b.DstPort) },
		ConvPackets: func(_ bool, a, b *model.Conversation) Ordering {
			return compareOrdered(a.TxFrames+a.RxFrames, b.TxFrames+b.RxFrames)
		},
		ConvBytes: func(_ bool, a, b *model.Conversation) Ordering {
			return compareOrdered(a.TxBytes+a.RxBytes, b.TxBytes+b.RxBytes)
		},
		ConvPacketsAB: func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.TxFrames, b.TxFrames) },
		ConvBytesAB:   func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.TxBytes, b.TxBytes) },
		ConvPacketsBA: func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.RxFrames, b.RxFrames) },
		ConvBytesBA:   func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.RxBytes, b.RxBytes) },
		ConvStart:     func(_ bool, a, b *model.Conversation) Ordering { return compareOrdered(a.StartTime, b.StartTime) },
		ConvDuration: func(_ bool, a, b *model.Conversation) Ordering {
			return CompareFloat(metrics.RawDuration(a), metrics.RawDuration(b))
		},
		ConvBpsAB: func(_ bool, a, b *model.Conversation) Ordering {
			return CompareFloat(byteRate(a.TxBytes, a), byteRate(b.TxBytes, b))
		},
		ConvBpsBA: func(_ bool, a, b *model.Conversation) Ordering {
			return CompareFloat(byteRate(a.RxBytes, a), byteRate(b.RxBytes, b))
		},
	}
	return c
}

// Compare orders a and b by column. Unknown columns compare Equal.
func (c *ConversationComparator) Compare(col ConversationColumn, resolveNames bool, a, b *model.Conversation) Ordering {
	if col < 0 || col >= ConvNumColumns {
		return Equal
	}
	return c.columns[col](resolveNames, a, b)
}

func (c *ConversationComparator) compareAddress(resolve bool, a, b model.Address) Ordering {
	if resolve {
		return CompareFold(c.resolver.AddressName(a), c.resolver.AddressName(b))
	}
	return CompareAddress(a, b)
}

// byteRate is bytes/duration with no floor, so zero durations give Inf or NaN.
func byteRate(n uint64, c *model.Conversation) float64 {
	return float64(n) / metrics.RawDuration(c)
}

// EndpointComparator orders endpoint records. It holds no mutable state and
// is safe for concurrent use.
type EndpointComparator struct {
	resolver NameResolver
	columns  [EndpNumGeoColumns]endpointCompareFunc
}

// NewEndpointComparator builds the per-column comparison table.
func NewEndpointComparator(resolver NameResolver) *EndpointComparator {
	if resolver == nil {
		resolver = NumericResolver{}
	}
	c := &EndpointComparator{resolver: resolver}
	c.columns = [EndpNumGeoColumns]endpointCompareFunc{
		EndpAddr: func(resolve bool, a, b *model.Endpoint) Ordering {
			if resolve {
				return CompareFold(c.resolver.AddressName(a.Address), c.resolver.AddressName(b.Address))
			}
			return CompareAddress(a.Address, b.Address)
		},
		EndpPort: func(_ bool, a, b *model.Endpoint) Ordering { return compareOrdered(a.Port, b.Port) },
		EndpPackets: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareOrdered(a.TxFrames+a.RxFrames, b.TxFrames+b.RxFrames)
		},
		EndpBytes: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareOrdered(a.TxBytes+a.RxBytes, b.TxBytes+b.RxBytes)
		},
		EndpTxPackets: func(_ bool, a, b *model.Endpoint) Ordering { return compareOrdered(a.TxFrames, b.TxFrames) },
		EndpTxBytes:   func(_ bool, a, b *model.Endpoint) Ordering { return compareOrdered(a.TxBytes, b.TxBytes) },
		EndpRxPackets: func(_ bool, a, b *model.Endpoint) Ordering { return compareOrdered(a.RxFrames, b.RxFrames) },
		EndpRxBytes:   func(_ bool, a, b *model.Endpoint) Ordering { return compareOrdered(a.RxBytes, b.RxBytes) },
		EndpGeoCountry: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareGeoString(GeoCountry, a, b)
		},
		EndpGeoCity: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareGeoString(GeoCity, a, b)
		},
		EndpGeoASNumber: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareOrdered(asNumberKey(a), asNumberKey(b))
		},
		EndpGeoASOrg: func(_ bool, a, b *model.Endpoint) Ordering {
			return compareGeoString(GeoASOrganization, a, b)
		},
	}
	return c
}

// Compare orders a and b by column. Unknown columns compare Equal.
func (c *EndpointComparator) Compare(col EndpointColumn, resolveNames bool, a, b *model.Endpoint) Ordering {
	if col < 0 || col >= EndpNumGeoColumns {
		return Equal
	}
	return c.columns[col](resolveNames, a, b)
}

// GeoCountry returns the resolved country and whether it is present.
func GeoCountry(e *model.Endpoint) (string, bool) {
	if e.Geo == nil || !e.Geo.Found || e.Geo.Country == "" {
		return "", false
	}
	return e.Geo.Country, true
}

// GeoCity returns the resolved city and whether it is present.
func GeoCity(e *model.Endpoint) (string, bool) {
	if e.Geo == nil || !e.Geo.Found || e.Geo.City == "" {
		return "", false
	}
	return e.Geo.City, true
}

// GeoASOrganization returns the resolved AS organization and whether it is present.
func GeoASOrganization(e *model.Endpoint) (string, bool) {
	if e.Geo == nil || !e.Geo.Found || e.Geo.ASOrganization == "" {
		return "", false
	}
	return e.Geo.ASOrganization, true
}

// GeoASNumber returns the resolved AS number and whether it is present.
func GeoASNumber(e *model.Endpoint) (uint32, bool) {
	if e.Geo == nil || !e.Geo.Found || e.Geo.ASNumber == 0 {
		return 0, false
	}
	return e.Geo.ASNumber, true
}

// Unresolved AS numbers sort last.
func asNumberKey(e *model.Endpoint) uint32 {
	if n, ok := GeoASNumber(e); ok {
		return n
	}
	return math.MaxUint32
}

// compareGeoString puts unresolved values after every resolved one.
func compareGeoString(field func(*model.Endpoint) (string, bool), ea, eb *model.Endpoint) Ordering {
	a, aok := field(ea)
	b, bok := field(eb)
	switch {
	case !aok && !bok:
		return Equal
	case !aok:
		return Greater
	case !bok:
		return Less
	}
	return compareOrdered(a, b)
}

func compareOrdered[T cmp.Ordered](a, b T) Ordering {
	return Ordering(cmp.Compare(a, b))
}

// CompareFloat orders floats ascending with NaN after every other value,
// +Inf included. Two NaNs are Equal.
func CompareFloat(a, b float64) Ordering {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return Equal
	case an:
		return Greater
	case bn:
		return Less
	case a < b:
		return Less
	case a > b:
		return Greater
	}
	return Equal
}

// CompareAddress orders raw addresses by type, then length, then bytes.
func CompareAddress(a, b model.Address) Ordering {
	if o := compareOrdered(a.Type, b.Type); o != Equal {
		return o
	}
	if o := compareOrdered(len(a.Data), len(b.Data)); o != Equal {
		return o
	}
	return Ordering(bytes.Compare(a.Data, b.Data))
}

// CompareFold compares strings after Unicode case folding.
func CompareFold(a, b string) Ordering {
	// A Caser keeps state between calls and cannot be shared.
	fold := cases.Fold()
	fa := fold.String(a)
	return Ordering(strings.Compare(fa, fold.String(b)))
}

// SortStable orders handles in place by cmpFn, keeping the arrival order of
// equal rows. descending reverses the comparison, not the ties.
func SortStable[H any](handles []H, cmpFn func(a, b H) Ordering, descending bool) {
	slices.SortStableFunc(handles, func(a, b H) int {
		o := int(cmpFn(a, b))
		if descending {
			return -o
		}
		return o
	})
}
