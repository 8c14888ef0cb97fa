package postgres

import (
	"net/netip"
	"testing"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pgKey(clientPort uint16) flow.Key {
	client := flow.Addr{IP: netip.MustParseAddr("10.0.0.1"), Port: clientPort}
	server := flow.Addr{IP: netip.MustParseAddr("10.0.0.2"), Port: Port}
	return flow.Key{Proto: flow.ProtoTCP, Src: client, Dst: server}
}

func TestDecodeRoutesFrontendAndBackendByPort(t *testing.T) {
	d := newEnabled()
	now := time.Now()

	fe := &flow.Flow{
		Timestamp: now,
		Key:       pgKey(54321),
		Payload:   msg('Q', cstr("SELECT 1")),
		Transport: flow.Transport{Kind: flow.TransportTCP},
	}
	assert.False(t, d.Decode(fe, nil))
	require.Len(t, d.conns, 1)

	be := &flow.Flow{
		Timestamp: now.Add(2 * time.Millisecond),
		Key:       fe.Key.Reverse(),
		Payload:   msg('Z', []byte{'I'}),
		Transport: flow.Transport{Kind: flow.TransportTCP},
	}
	assert.False(t, d.Decode(be, nil))

	// Both directions resolve to the same connKey (client, server) pair
	// regardless of which one the segment's Key.Src/Dst names.
	require.Len(t, d.conns, 1)
}

func TestDecodeIgnoresNonTCP(t *testing.T) {
	d := newEnabled()
	f := &flow.Flow{
		Timestamp: time.Now(),
		Key:       pgKey(54321),
		Payload:   msg('Q', cstr("SELECT 1")),
		Transport: flow.Transport{Kind: flow.TransportUDP},
	}
	assert.False(t, d.Decode(f, nil))
	assert.Empty(t, d.conns)
}

func TestAppendIsNoOp(t *testing.T) {
	d := newEnabled()
	dict := customs.New(nil)
	c := customs.NewCustoms(dict)
	d.Append(flow.Key{}, c)
	assert.Empty(t, c.Entries())
}

func TestClearEvictsIdleConnections(t *testing.T) {
	d := newEnabled()
	now := time.Now()
	f := &flow.Flow{
		Timestamp: now,
		Key:       pgKey(54321),
		Payload:   msg('Q', cstr("SELECT 1")),
		Transport: flow.Transport{Kind: flow.TransportTCP},
	}
	d.Decode(f, nil)
	require.Len(t, d.conns, 1)

	d.Clear(now.Add(30*time.Second), 0)
	assert.Len(t, d.conns, 1, "still within idleTimeout")

	d.Clear(now.Add(61*time.Second), 0)
	assert.Empty(t, d.conns)
}
