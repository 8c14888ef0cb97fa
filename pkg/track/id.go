package track

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/flowtap/flowtap/pkg/flow"
)

// IDGenerator computes the 32-bit connection id (spec §4.5, §8): a hash
// that is stable across both directions of a bidirectional conversation.
// Ported from original_source/src/track/id.rs's direction-aware field
// ordering, using github.com/zeebo/xxh3 (already a goProbe dependency, used
// there for EPHash-style flow-key hashing) in place of Rust's
// std::collections::hash_map::RandomState.
type IDGenerator struct{}

// NewIDGenerator returns an IDGenerator. It is stateless: xxh3's seeded
// hash is deterministic, so no per-instance randomization is needed the way
// Rust's RandomState requires -- the invariant being preserved is "stable
// within one process run and symmetric across directions", not
// cross-process unpredictability.
func NewIDGenerator() *IDGenerator { return &IDGenerator{} }

// ID computes the connection id for f. Ordering the fields by direction
// ensures both halves of one conversation hash identically: whichever side
// is "Out" contributes (local mac, local addr, remote mac, remote addr) in
// that order, and the peer's packets -- observed as "In" -- contribute the
// same four values in the same order, because dst/src swap along with
// direction.
func (g *IDGenerator) ID(f *flow.Flow) uint32 {
	h := xxh3.New()

	var proto [1]byte
	proto[0] = byte(f.Key.Proto)
	_, _ = h.Write(proto[:])

	if f.Direction == flow.DirOut {
		writeEthernet(h, f.Ethernet.Src)
		writeAddr(h, f.Key.Src)
		writeEthernet(h, f.Ethernet.Dst)
		writeAddr(h, f.Key.Dst)
	} else {
		writeEthernet(h, f.Ethernet.Dst)
		writeAddr(h, f.Key.Dst)
		writeEthernet(h, f.Ethernet.Src)
		writeAddr(h, f.Key.Src)
	}

	var vlan [2]byte
	binary.BigEndian.PutUint16(vlan[:], f.Ethernet.VLAN)
	_, _ = h.Write(vlan[:])

	return uint32(h.Sum64())
}

func writeEthernet(h *xxh3.Hasher, mac [6]byte) {
	_, _ = h.Write(mac[:])
}

func writeAddr(h *xxh3.Hasher, a flow.Addr) {
	if a.IP.IsValid() {
		b := a.IP.As16()
		_, _ = h.Write(b[:])
	}
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], a.Port)
	_, _ = h.Write(port[:])
}
