// Package sample implements the Sampler (spec §4.9): admission control
// deciding, for each Flow, whether the Flow Queue should Export its counter,
// merely Decode and track it, or Ignore it outright.
package sample

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/flowtap/flowtap/pkg/flow"
)

// Decision is the tri-state outcome of a sampling admission check.
type Decision uint8

const (
	// Export admits the flow fully: decode, track, and export its counter.
	Export Decision = iota
	// Decode runs decoders and updates the tracker but never exports the
	// counter (spec §4.9).
	Decode
	// Ignore drops the flow from decoding and tracking entirely.
	Ignore
)

// Sampler is either external (rate passed through unchanged, everything
// admitted) or internal (1-in-N deterministic admission keyed on the
// 5-tuple so both directions of a conversation sample coherently).
type Sampler struct {
	rate uint32 // 1-in-N; 0 or 1 means "admit everything"
}

// NewExternal returns a Sampler that admits every packet (the external sink
// applies its own sampling; the probe does not alter payload counts).
func NewExternal() *Sampler {
	return &Sampler{rate: 1}
}

// NewInternal returns a Sampler that admits 1 flow in every rate,
// deterministically, keyed on the flow's 5-tuple.
func NewInternal(rate uint32) *Sampler {
	if rate == 0 {
		rate = 1
	}
	return &Sampler{rate: rate}
}

// Rate reports the configured sample rate (1 means unsampled).
func (s *Sampler) Rate() uint32 { return s.rate }

// Admit decides Export/Decode/Ignore for f. Sampling never alters
// f.Packets/f.Bytes; it only gates whether the Counter is updated/exported.
func (s *Sampler) Admit(f *flow.Flow) Decision {
	if s.rate <= 1 {
		return Export
	}
	if keyHash(f.Key)%uint64(s.rate) == 0 {
		return Export
	}
	return Ignore
}

func keyHash(k flow.Key) uint64 {
	h := xxh3.New()
	var b [1]byte
	b[0] = byte(k.Proto)
	_, _ = h.Write(b[:])

	// Order the 5-tuple so both directions of one conversation hash the
	// same, keeping a bidirectional flow coherently sampled together.
	a, z := k.Src, k.Dst
	if !addrLess(a, z) {
		a, z = z, a
	}
	writeAddr(h, a)
	writeAddr(h, z)
	return h.Sum64()
}

func addrLess(a, b flow.Addr) bool {
	if a.IP != b.IP {
		return a.IP.Less(b.IP)
	}
	return a.Port < b.Port
}

func writeAddr(h *xxh3.Hasher, a flow.Addr) {
	if a.IP.IsValid() {
		ab := a.IP.As16()
		_, _ = h.Write(ab[:])
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], a.Port)
	_, _ = h.Write(p[:])
}
