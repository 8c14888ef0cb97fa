package track_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkKey(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16) flow.Key {
	t.Helper()
	return flow.Key{
		Proto: flow.ProtoTCP,
		Src:   flow.Addr{IP: netip.MustParseAddr(srcIP), Port: srcPort},
		Dst:   flow.Addr{IP: netip.MustParseAddr(dstIP), Port: dstPort},
	}
}

func newDict() *customs.Customs {
	d := customs.New(map[string]customs.ID{
		customs.ConnectionID:        1,
		customs.ClientNWLatency:     2,
		customs.ServerNWLatency:     3,
		customs.FPXLatency:          4,
		customs.RetransmittedOut:    5,
		customs.RepeatedRetransmits: 6,
		customs.OrderIn:             7,
		customs.ReceiveWindow:       8,
		customs.ZeroWindows:         9,
		customs.KernelRetransmits:   10,
		customs.KernelRTT:           11,
		customs.KernelCongWindow:    12,
	})
	return customs.NewCustoms(d)
}

func TestConnectionIDSymmetric(t *testing.T) {
	eth := func(a, b byte) flow.Ethernet { return flow.Ethernet{Src: [6]byte{a}, Dst: [6]byte{b}} }

	out := &flow.Flow{
		Ethernet:  eth(1, 2),
		Key:       mkKey(t, "10.0.0.1", "10.0.0.2", 1234, 80),
		Direction: flow.DirOut,
	}
	in := &flow.Flow{
		Ethernet:  eth(2, 1), // same MAC pair, swapped in the return direction
		Key:       mkKey(t, "10.0.0.2", "10.0.0.1", 80, 1234),
		Direction: flow.DirIn,
	}

	gen := track.NewIDGenerator()
	assert.Equal(t, gen.ID(out), gen.ID(in))
}

func TestTrackerHandshakeRTT(t *testing.T) {
	tr := track.New()
	now := time.Now()

	cliKey := mkKey(t, "10.0.0.1", "10.0.0.2", 1111, 80)
	srvKey := cliKey.Reverse()

	tr.Add(&flow.Flow{Timestamp: now, Key: cliKey, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagSYN, Seq: 100}})
	tr.Add(&flow.Flow{Timestamp: now.Add(10 * time.Millisecond), Key: srvKey, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagSYN | flow.FlagACK, Seq: 500, Ack: 101}})
	tr.Add(&flow.Flow{Timestamp: now.Add(15 * time.Millisecond), Key: cliKey, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagACK, Seq: 101, Ack: 501}})

	c := newDict()
	tr.Append(srvKey, c)
	found := false
	for _, e := range c.Entries() {
		if e.ID == 3 { // ServerNWLatency
			found = true
			assert.LessOrEqual(t, e.U64, uint64(10)+1)
		}
	}
	assert.True(t, found, "expected SERVER_NW_LATENCY to be populated")
}

func TestTrackerRepeatedRetransmits(t *testing.T) {
	tr := track.New()
	now := time.Now()
	k := mkKey(t, "10.0.0.1", "10.0.0.2", 1111, 80)

	tr.Add(&flow.Flow{Timestamp: now, Key: k, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagSYN, Seq: 100}})
	base := now.Add(50 * time.Millisecond)
	tr.Add(&flow.Flow{Timestamp: base, Key: k, Payload: []byte("abcd"), Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagACK, Seq: 101}})

	// Three consecutive retransmits of the same (wrong) seq, spaced out
	// past the reorder window.
	for i := 1; i <= 3; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Millisecond)
		tr.Add(&flow.Flow{Timestamp: ts, Key: k, Payload: []byte("abcd"), Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagACK, Seq: 101}})
	}

	c := newDict()
	tr.Append(k, c)

	var repeated uint64
	for _, e := range c.Entries() {
		if e.ID == 6 {
			repeated = e.U64
		}
	}
	require.EqualValues(t, 1, repeated)
}

func TestTrackerZeroWindow(t *testing.T) {
	tr := track.New()
	now := time.Now()
	k := mkKey(t, "10.0.0.1", "10.0.0.2", 1111, 80)

	tr.Add(&flow.Flow{Timestamp: now, Key: k, Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagSYN, Seq: 100, Window: flow.Window{Size: 100, Scale: 0}}})
	for i := 0; i < 10; i++ {
		tr.Add(&flow.Flow{
			Timestamp: now.Add(time.Duration(i+1) * time.Millisecond),
			Key:       k,
			Transport: flow.Transport{Kind: flow.TransportTCP, Flags: flow.FlagACK, Seq: 101, Window: flow.Window{Size: 0}},
		})
	}

	c := newDict()
	tr.Append(k, c)
	var zw uint64
	for _, e := range c.Entries() {
		if e.ID == 9 {
			zw = e.U64
		}
	}
	assert.EqualValues(t, 10, zw)
}

func TestTrackerAppendMergesKernelStats(t *testing.T) {
	tr := track.New()
	now := time.Now()
	k := mkKey(t, "10.0.0.1", "10.0.0.2", 1111, 80)
	tr.Add(&flow.Flow{Timestamp: now, Key: k, Transport: flow.Transport{Kind: flow.TransportTCP}})

	tr.SetKernelStats(k, track.KernelStats{Retransmits: 3, RTT: 25 * time.Millisecond, CongWindow: 10})

	c := newDict()
	tr.Append(k, c)

	var gotRetrans, gotCwnd uint64
	var gotRTT uint64
	for _, e := range c.Entries() {
		switch e.ID {
		case 10:
			gotRetrans = e.U64
		case 11:
			gotRTT = e.U64
		case 12:
			gotCwnd = e.U64
		}
	}
	assert.EqualValues(t, 3, gotRetrans)
	assert.EqualValues(t, 25, gotRTT)
	assert.EqualValues(t, 10, gotCwnd)
}

func TestTrackerAppendSkipsKernelStatsWhenAbsent(t *testing.T) {
	tr := track.New()
	now := time.Now()
	k := mkKey(t, "10.0.0.1", "10.0.0.2", 1111, 80)
	tr.Add(&flow.Flow{Timestamp: now, Key: k, Transport: flow.Transport{Kind: flow.TransportTCP}})

	c := newDict()
	tr.Append(k, c)

	for _, e := range c.Entries() {
		assert.NotEqual(t, customs.ID(10), e.ID, "no kernel sample set, KernelRetransmits must not appear")
	}
}

func TestTrackerClearEvictsIdle(t *testing.T) {
	tr := track.New()
	now := time.Now()
	k := mkKey(t, "10.0.0.1", "10.0.0.2", 1, 2)
	tr.Add(&flow.Flow{Timestamp: now, Key: k, Transport: flow.Transport{Kind: flow.TransportUDP}})
	require.Equal(t, 1, tr.Len())

	tr.Clear(now.Add(61 * time.Second))
	assert.Equal(t, 0, tr.Len())
}
