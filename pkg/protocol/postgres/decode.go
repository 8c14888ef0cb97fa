package postgres

import (
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

const (
	idleTimeout = 60 * time.Second

	// Port is the well-known Postgres wire-protocol port.
	Port = 5432
)

type connKey struct {
	client, server flow.Addr
}

// Decoder dispatches frontend/backend bytes on port 5432 to a per-connection
// Connection state machine. It implements protocol.Decoder's shape but is
// never registered: cmd/flowtap's root command registers it only when New
// returns non-nil, which New never does -- matching the
// original's Decoder::new always returning None, it is "retained in the
// core because its state machine pattern is reused", not because it exports
// anything (spec §4.4).
type Decoder struct {
	conns        map[connKey]*Connection
	lastActivity map[connKey]time.Time
}

// New always returns nil: the shadow Postgres decoder is disabled by
// design (spec §4.4, §9).
func New(*customs.Dictionary) *Decoder {
	return nil
}

// newEnabled constructs a usable Decoder for direct testing of the
// correlation state machine, bypassing the disabled New.
func newEnabled() *Decoder {
	return &Decoder{conns: make(map[connKey]*Connection), lastActivity: make(map[connKey]time.Time)}
}

// Decode feeds one TCP segment into the frontend or backend parser
// depending on which side of the (implied) 5432 port it came from. It never
// reports a completed message for export -- completed queries are
// discoverable only via the Connection state machine directly, matching the
// original's "FIXME: WIP ... false" stub.
func (d *Decoder) Decode(f *flow.Flow, _ *customs.Customs) bool {
	if !f.Transport.IsTCP() {
		return false
	}
	switch {
	case f.Key.Dst.Port == Port:
		d.connFor(f.Key.Src, f.Key.Dst, f.Timestamp).FrontendMessage(f.Timestamp, f.Payload)
	case f.Key.Src.Port == Port:
		d.connFor(f.Key.Dst, f.Key.Src, f.Timestamp).BackendMessage(f.Timestamp, f.Payload)
	}
	return false
}

func (d *Decoder) connFor(client, server flow.Addr, ts time.Time) *Connection {
	k := connKey{client: client, server: server}
	d.lastActivity[k] = ts
	c, ok := d.conns[k]
	if !ok {
		c = NewConnection()
		d.conns[k] = c
	}
	return c
}

// Append is a no-op: the shadow decoder has no export-facing fields.
func (d *Decoder) Append(flow.Key, *customs.Customs) {}

// Clear evicts connections idle for longer than idle.
func (d *Decoder) Clear(now time.Time, idle time.Duration) {
	if idle == 0 {
		idle = idleTimeout
	}
	for k, last := range d.lastActivity {
		if now.Sub(last) > idle {
			delete(d.lastActivity, k)
			delete(d.conns, k)
		}
	}
}
