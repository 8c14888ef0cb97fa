// Package reassembly implements IPv4 fragment reassembly (spec §4.2),
// ported from the Clark/RFC 815 hole-list algorithm in
// original_source/src/reasm/ipv4.rs into idiomatic Go.
package reassembly

import (
	"net/netip"
	"time"

	"github.com/flowtap/flowtap/pkg/flow"
)

const (
	// maxDatagram is the largest possible reassembled IPv4 datagram.
	maxDatagram = 65535
	// bufferIdle is the eviction timeout for a stalled reassembly buffer.
	bufferIdle = 60 * time.Second
	// flushInterval is how often Flush should be called by the driver.
	flushInterval = 15 * time.Second
)

// Key identifies an in-progress reassembly: (src, dst, IPv4 identification,
// next-header protocol).
type Key struct {
	Src   netip.Addr
	Dst   netip.Addr
	ID    uint16
	Proto flow.Proto
}

// hole is an unfilled byte range within the reassembly scratch buffer,
// inclusive of both ends.
type hole struct {
	first, last int
}

// buffer holds one in-progress datagram's reassembly state.
type buffer struct {
	data  [maxDatagram]byte
	holes []hole

	packets uint64
	frags   uint64
	bytes   uint64
	length  int // highest byte index filled + 1, once known (last fragment seen)
	known   bool

	last time.Time
}

func newBuffer(now time.Time) *buffer {
	return &buffer{
		holes: []hole{{first: 0, last: maxDatagram - 1}},
		last:  now,
	}
}

// Output is the datagram emitted once a reassembly's hole list empties.
type Output struct {
	Data     []byte
	Packets  uint64
	Fragments uint64
	Bytes    uint64
}

// Reassembler tracks in-flight IPv4 fragment buffers keyed by (src, dst, id,
// proto). It is not safe for concurrent use -- like every other pipeline
// component, it is owned by the single capture-processing thread (spec §5).
type Reassembler struct {
	buffers map[Key]*buffer
}

// New creates an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{buffers: make(map[Key]*buffer)}
}

// Fragment describes one IPv4 fragment's offset/MF/payload, as decoded by
// pkg/decode.
type Fragment struct {
	Key           Key
	Offset        uint16 // in 8-byte units
	MoreFragments bool
	HeaderBytes   uint16
	Payload       []byte
}

// Reassemble feeds one fragment into its buffer (creating it if new) and
// returns the completed datagram once every hole has been filled. For a
// non-fragmented packet (offset==0 && !MoreFragments), callers should not
// call Reassemble at all -- the driver short-circuits single-packet
// datagrams directly (see pkg/pipeline), matching spec §4.2 counter
// semantics ("a non-fragmented packet returns packets=1, frags=0").
func (r *Reassembler) Reassemble(now time.Time, f Fragment) (*Output, bool) {
	b, ok := r.buffers[f.Key]
	if !ok {
		b = newBuffer(now)
		r.buffers[f.Key] = b
	}
	b.last = now
	b.packets++
	b.frags++
	b.bytes += uint64(f.HeaderBytes) + uint64(len(f.Payload))

	fragFirst := int(f.Offset) * 8
	fragLast := fragFirst + len(f.Payload) - 1
	if fragLast >= maxDatagram || fragLast < fragFirst {
		// Malformed/oversized fragment: drop just this fragment, keep the
		// buffer (decode-drop semantics apply per-fragment, not per-key).
		return nil, false
	}

	if !f.MoreFragments {
		b.length = fragLast + 1
		b.known = true
	}

	b.fill(fragFirst, fragLast, f.MoreFragments, f.Payload)

	if len(b.holes) == 0 && b.known {
		out := &Output{
			Data:      append([]byte(nil), b.data[:b.length]...),
			Packets:   b.packets,
			Fragments: b.frags,
			Bytes:     b.bytes,
		}
		delete(r.buffers, f.Key)
		return out, true
	}
	return nil, false
}

// fill implements the RFC 815 hole-splitting step for one fragment.
func (b *buffer) fill(fragFirst, fragLast int, moreFragments bool, payload []byte) {
	copy(b.data[fragFirst:fragLast+1], payload)

	kept := b.holes[:0]
	for _, h := range b.holes {
		if fragFirst > h.last || fragLast < h.first {
			kept = append(kept, h)
			continue
		}
		if fragFirst > h.first {
			kept = append(kept, hole{first: h.first, last: fragFirst - 1})
		}
		if fragLast < h.last && moreFragments {
			kept = append(kept, hole{first: fragLast + 1, last: h.last})
		}
	}
	b.holes = kept
}

// Flush evicts buffers that have been idle for more than 60s. Call roughly
// every 15s (spec §4.2 eviction cadence).
func (r *Reassembler) Flush(now time.Time) {
	for k, b := range r.buffers {
		if now.Sub(b.last) > bufferIdle {
			delete(r.buffers, k)
		}
	}
}

// FlushInterval exposes the recommended periodic flush cadence.
func FlushInterval() time.Duration { return flushInterval }

// Len reports the number of in-flight reassembly buffers, for metrics.
func (r *Reassembler) Len() int { return len(r.buffers) }
