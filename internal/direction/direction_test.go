package direction

import (
	"net"
	"testing"

	"NetSpectraTables/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, 9, tbl.Len())

	for fd := ActionAToFromB; fd <= ActionAnyFromB; fd++ {
		cd, ok := tbl.Lookup(fd)
		require.True(t, ok)
		assert.Equal(t, int(fd), int(cd))
	}
	_, ok := tbl.Lookup(FilterDirection(42))
	assert.False(t, ok)
	assert.Equal(t, "Any ← B", AnyFromB.String())
}

func TestDisplayFilterBuilder(t *testing.T) {
	c := &model.Conversation{
		SrcAddress:   model.IPAddress(net.ParseIP("10.0.0.1")),
		SrcPort:      51000,
		DstAddress:   model.IPAddress(net.ParseIP("10.0.0.2")),
		DstPort:      443,
		EndpointType: model.EndpointTCP,
	}
	var fb FilterBuilder = DisplayFilterBuilder{}

	tests := []struct {
		dir  ConversationDirection
		want string
	}{
		{AToFromB, "(ip.addr==10.0.0.1 && tcp.port==51000) && (ip.addr==10.0.0.2 && tcp.port==443)"},
		{AToB, "(ip.src==10.0.0.1 && tcp.srcport==51000) && (ip.dst==10.0.0.2 && tcp.dstport==443)"},
		{AFromB, "(ip.src==10.0.0.2 && tcp.srcport==443) && (ip.dst==10.0.0.1 && tcp.dstport==51000)"},
		{AToFromAny, "ip.addr==10.0.0.1 && tcp.port==51000"},
		{AToAny, "ip.src==10.0.0.1 && tcp.srcport==51000"},
		{AFromAny, "ip.dst==10.0.0.1 && tcp.dstport==51000"},
		{AnyToFromB, "ip.addr==10.0.0.2 && tcp.port==443"},
		{AnyToB, "ip.dst==10.0.0.2 && tcp.dstport==443"},
		{AnyFromB, "ip.src==10.0.0.2 && tcp.srcport==443"},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			got, err := fb.ConversationFilter(c, tt.dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := fb.ConversationFilter(c, ConversationDirection(99))
	assert.Error(t, err)
}

func TestDisplayFilterBuilder_AddressOnly(t *testing.T) {
	c := &model.Conversation{
		SrcAddress: model.EtherAddress(net.HardwareAddr{0, 1, 2, 3, 4, 5}),
		DstAddress: model.EtherAddress(net.HardwareAddr{0, 1, 2, 3, 4, 6}),
	}
	got, err := DisplayFilterBuilder{}.ConversationFilter(c, AToB)
	require.NoError(t, err)
	assert.Equal(t, "(eth.src==00:01:02:03:04:05) && (eth.dst==00:01:02:03:04:06)", got)

	_, err = DisplayFilterBuilder{}.ConversationFilter(&model.Conversation{}, AToB)
	assert.Error(t, err)
}

func TestParseFilterDirection(t *testing.T) {
	tbl := NewTable()
	for fd := ActionAToFromB; fd <= ActionAnyFromB; fd++ {
		got, err := ParseFilterDirection(fd.Key())
		require.NoError(t, err)
		assert.Equal(t, fd, got)
		_, ok := tbl.Lookup(got)
		assert.True(t, ok)
	}
	_, err := ParseFilterDirection("sideways")
	assert.Error(t, err)
}
