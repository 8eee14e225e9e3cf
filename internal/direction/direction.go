// Package direction translates filter actions on a conversation row into
// conversation directions and builds display filters for them.
package direction

import (
	"fmt"
	"strings"

	"NetSpectraTables/internal/model"
)

// FilterDirection is the direction a user picked from a filter action menu.
type FilterDirection int

const (
	ActionAToFromB FilterDirection = iota
	ActionAToB
	ActionAFromB
	ActionAToFromAny
	ActionAToAny
	ActionAFromAny
	ActionAnyToFromB
	ActionAnyToB
	ActionAnyFromB
)

var actionKeys = [...]string{
	ActionAToFromB:   "a_to_from_b",
	ActionAToB:       "a_to_b",
	ActionAFromB:     "a_from_b",
	ActionAToFromAny: "a_to_from_any",
	ActionAToAny:     "a_to_any",
	ActionAFromAny:   "a_from_any",
	ActionAnyToFromB: "any_to_from_b",
	ActionAnyToB:     "any_to_b",
	ActionAnyFromB:   "any_from_b",
}

// Key returns the name used in query strings.
func (fd FilterDirection) Key() string {
	if fd < 0 || int(fd) >= len(actionKeys) {
		return ""
	}
	return actionKeys[fd]
}

// ParseFilterDirection looks a direction up by Key.
func ParseFilterDirection(key string) (FilterDirection, error) {
	for fd, k := range actionKeys {
		if k == key {
			return FilterDirection(fd), nil
		}
	}
	return 0, fmt.Errorf("unknown filter direction %q", key)
}

// ConversationDirection is the direction understood by a FilterBuilder.
type ConversationDirection int

const (
	AToFromB ConversationDirection = iota
	AToB
	AFromB
	AToFromAny
	AToAny
	AFromAny
	AnyToFromB
	AnyToB
	AnyFromB
)

var directionNames = [...]string{
	AToFromB:   "A ↔ B",
	AToB:       "A → B",
	AFromB:     "A ← B",
	AToFromAny: "A ↔ Any",
	AToAny:     "A → Any",
	AFromAny:   "A ← Any",
	AnyToFromB: "Any ↔ B",
	AnyToB:     "Any → B",
	AnyFromB:   "Any ← B",
}

func (d ConversationDirection) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// Table maps filter directions to conversation directions. It is built once
// and never modified, so it can be shared freely.
type Table struct {
	m map[FilterDirection]ConversationDirection
}

// NewTable builds the nine-entry translation table.
func NewTable() *Table {
	return &Table{m: map[FilterDirection]ConversationDirection{
		ActionAToFromB:   AToFromB,
		ActionAToB:       AToB,
		ActionAFromB:     AFromB,
		ActionAToFromAny: AToFromAny,
		ActionAToAny:     AToAny,
		ActionAFromAny:   AFromAny,
		ActionAnyToFromB: AnyToFromB,
		ActionAnyToB:     AnyToB,
		ActionAnyFromB:   AnyFromB,
	}}
}

// Lookup returns the conversation direction for fd.
func (t *Table) Lookup(fd FilterDirection) (ConversationDirection, bool) {
	cd, ok := t.m[fd]
	return cd, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.m)
}

// FilterBuilder turns a conversation and a direction into a filter expression.
type FilterBuilder interface {
	ConversationFilter(c *model.Conversation, dir ConversationDirection) (string, error)
}

// DisplayFilterBuilder produces Wireshark-style display filters.
type DisplayFilterBuilder struct{}

type side struct {
	addr, port string
}

// ConversationFilter implements FilterBuilder.
func (DisplayFilterBuilder) ConversationFilter(c *model.Conversation, dir ConversationDirection) (string, error) {
	addrField, err := addressField(c.SrcAddress.Type)
	if err != nil {
		return "", err
	}
	portField := ""
	switch c.EndpointType {
	case model.EndpointTCP:
		portField = "tcp"
	case model.EndpointUDP:
		portField = "udp"
	}

	a := side{addr: c.SrcAddress.String(), port: fmt.Sprint(c.SrcPort)}
	b := side{addr: c.DstAddress.String(), port: fmt.Sprint(c.DstPort)}

	// suffix is "" for either direction, "src" or "dst" otherwise.
	term := func(s side, suffix string) string {
		var parts []string
		parts = append(parts, fmt.Sprintf("%s.%s==%s", addrField, pick(suffix, "addr"), s.addr))
		if portField != "" {
			parts = append(parts, fmt.Sprintf("%s.%s==%s", portField, pick(suffix, "port"), s.port))
		}
		return strings.Join(parts, " && ")
	}

	switch dir {
	case AToFromB:
		return "(" + term(a, "") + ") && (" + term(b, "") + ")", nil
	case AToB:
		return "(" + term(a, "src") + ") && (" + term(b, "dst") + ")", nil
	case AFromB:
		return "(" + term(b, "src") + ") && (" + term(a, "dst") + ")", nil
	case AToFromAny:
		return term(a, ""), nil
	case AToAny:
		return term(a, "src"), nil
	case AFromAny:
		return term(a, "dst"), nil
	case AnyToFromB:
		return term(b, ""), nil
	case AnyToB:
		return term(b, "dst"), nil
	case AnyFromB:
		return term(b, "src"), nil
	}
	return "", fmt.Errorf("unknown conversation direction %d", int(dir))
}

// pick builds "src", "srcport", "addr" or "port" style field names.
func pick(suffix, field string) string {
	if suffix == "" {
		return field
	}
	if field == "addr" {
		return suffix
	}
	return suffix + field
}

func addressField(t model.AddressType) (string, error) {
	switch t {
	case model.AddressEther:
		return "eth", nil
	case model.AddressIPv4:
		return "ip", nil
	case model.AddressIPv6:
		return "ipv6", nil
	}
	return "", fmt.Errorf("no display filter field for address type %d", t)
}
