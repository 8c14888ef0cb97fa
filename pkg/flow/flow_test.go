package flow_test

import (
	"net/netip"
	"testing"

	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, s string, port uint16) flow.Addr {
	t.Helper()
	ip, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return flow.Addr{IP: ip, Port: port}
}

func TestKeyReverse(t *testing.T) {
	k := flow.Key{
		Proto: flow.ProtoTCP,
		Src:   addr(t, "10.0.0.1", 1234),
		Dst:   addr(t, "10.0.0.2", 80),
	}
	r := k.Reverse()
	assert.Equal(t, k.Src, r.Dst)
	assert.Equal(t, k.Dst, r.Src)
	assert.Equal(t, k.Proto, r.Proto)
	assert.Equal(t, k, r.Reverse())
}

func TestCounterRecordAndReset(t *testing.T) {
	c := &flow.Counter{}
	f := &flow.Flow{
		TOS:       0x02,
		Packets:   1,
		Bytes:     64,
		Fragments: 0,
		Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagSYN},
	}
	c.Record(f)
	c.Record(&flow.Flow{TOS: 0x10, Packets: 1, Bytes: 40, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagACK}})

	assert.Equal(t, uint64(2), c.Packets)
	assert.Equal(t, uint64(104), c.Bytes)
	assert.Equal(t, flow.FlagSYN|flow.FlagACK, c.TCPFlags)
	assert.Equal(t, uint8(0x12), c.TOS)
	assert.False(t, c.IsEmpty())

	c.Reset()
	assert.True(t, c.IsEmpty())
	assert.Equal(t, uint8(0), c.TOS)
	assert.Equal(t, flow.TCPFlags(0), c.TCPFlags)
}

func TestClassifyDirection(t *testing.T) {
	iface := [6]byte{1, 2, 3, 4, 5, 6}
	other := [6]byte{6, 5, 4, 3, 2, 1}

	assert.Equal(t, flow.DirIn, flow.ClassifyDirection(iface, flow.Ethernet{Src: other, Dst: iface}))
	assert.Equal(t, flow.DirOut, flow.ClassifyDirection(iface, flow.Ethernet{Src: iface, Dst: other}))
	assert.Equal(t, flow.DirUnknown, flow.ClassifyDirection(iface, flow.Ethernet{Src: other, Dst: other}))
}

func TestWindowEffective(t *testing.T) {
	w := flow.Window{Size: 256, Scale: 3}
	assert.EqualValues(t, 2048, w.Effective())
}
