// Package track implements the Connection Tracker (spec §4.5): per-flow
// RTT, first-payload latency, retransmit/reorder/zero-window counters and
// the stable connection id, ported from the peer-lookup-by-reversed-key
// pattern in original_source/src/track/mod.rs and extended with the
// retransmit/reorder/window accounting spec.md adds on top of that legacy
// latency-only tracker.
package track

import (
	"sync"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

const (
	// idleTimeout evicts a State after this much inactivity (spec §3
	// lifecycles: "Tracker State: ... evicted after 60s of inactivity").
	idleTimeout = 60 * time.Second

	// reorderWindow is the default "observed RTT" spec §4.5 measures a
	// same-sequence resend against: resends arriving after this interval
	// are retransmits, sooner ones are treated as out-of-order delivery
	// of an already-in-flight segment.
	reorderWindow = 3 * time.Millisecond

	// repeatedRetransmitRun is the number of consecutive same-seq resends
	// that make up one "repeated retransmit" event (spec §8: "exactly
	// three consecutive retransmits of the same seq increment
	// REPEATED_RETRANSMITS by 1").
	repeatedRetransmitRun = 3
)

// rttSide tags which side of a TCP handshake a measured RTT belongs to.
type rttSide uint8

const (
	rttNone rttSide = iota
	rttClient
	rttServer
)

type measuredRTT struct {
	side     rttSide
	duration time.Duration
}

// State is the per-(directional)-Key tracker record (spec §3).
type State struct {
	connID    uint32
	hasConnID bool

	hasInitialSeq bool
	initialSeq    uint32
	window        flow.Window

	hasFirstSYN bool
	firstSYN    time.Time

	hasFirstPayload bool
	firstPayload    time.Time

	hasFIN bool
	finAt  time.Time

	hasExpectedSeq bool
	expectedSeq    uint32

	hasRetransLastSeq bool
	retransLastSeq    uint32
	retransRun        int

	repeatedRetransmits uint32
	retransBytes        uint64
	reorderBytes        uint64
	zeroWindows         uint32

	rtt measuredRTT

	hasFPXLatency bool
	fpxLatency    time.Duration

	lastActivity time.Time
}

// KernelStats is a sample of kernel-reported TCP socket quality (spec §5's
// optional auxiliary sampler), folded into a flow's customs alongside the
// packet-derived tracker fields on export.
type KernelStats struct {
	Retransmits uint8
	RTT         time.Duration
	CongWindow  uint32
}

// Tracker owns every directional State, keyed by flow.Key. The states map
// is thread-local: all mutation happens from the single pipeline-driver
// goroutine (spec §5). kernelSamples is the one piece of Tracker state the
// optional auxiliary netlink sampler goroutine also writes (see
// netlink_linux.go); it is kept as an independent map guarded by its own
// lock rather than folded into states, so the hot, lock-free packet path
// above is untouched by the auxiliary goroutine's existence.
type Tracker struct {
	states map[flow.Key]*State
	idgen  *IDGenerator

	kernelMu      sync.RWMutex
	kernelSamples map[flow.Key]KernelStats
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		states:        make(map[flow.Key]*State),
		idgen:         NewIDGenerator(),
		kernelSamples: make(map[flow.Key]KernelStats),
	}
}

// SetKernelStats records a kernel-reported sample for key. It is safe to
// call concurrently with Add/Append/Clear from the auxiliary netlink
// sampler goroutine (netlink_linux.go).
func (t *Tracker) SetKernelStats(key flow.Key, stats KernelStats) {
	t.kernelMu.Lock()
	t.kernelSamples[key] = stats
	t.kernelMu.Unlock()
}

func (t *Tracker) kernelStats(key flow.Key) (KernelStats, bool) {
	t.kernelMu.RLock()
	ks, ok := t.kernelSamples[key]
	t.kernelMu.RUnlock()
	return ks, ok
}

func (t *Tracker) getOrCreate(k flow.Key) *State {
	st, ok := t.states[k]
	if !ok {
		st = &State{}
		t.states[k] = st
	}
	return st
}

func (t *Tracker) peek(k flow.Key) (*State, bool) {
	st, ok := t.states[k]
	return st, ok
}

// Add folds one packet's observations into the State for f.Key, creating it
// lazily on first sight.
func (t *Tracker) Add(f *flow.Flow) {
	st := t.getOrCreate(f.Key)
	prevActivity := st.lastActivity
	st.lastActivity = f.Timestamp

	if !st.hasConnID {
		st.connID = t.idgen.ID(f)
		st.hasConnID = true
	}

	if len(f.Payload) > 0 && !st.hasFirstPayload {
		st.firstPayload = f.Timestamp
		st.hasFirstPayload = true
		if peer, ok := t.peek(f.Key.Reverse()); ok && peer.hasFirstPayload {
			st.fpxLatency = f.Timestamp.Sub(peer.firstPayload)
			st.hasFPXLatency = true
		}
	}

	if f.Transport.IsTCP() {
		t.addTCP(f, st, prevActivity)
	}
}

func (t *Tracker) addTCP(f *flow.Flow, st *State, prevActivity time.Time) {
	tr := f.Transport
	syn := tr.Flags&flow.FlagSYN != 0
	ack := tr.Flags&flow.FlagACK != 0
	fin := tr.Flags&flow.FlagFIN != 0

	if syn && !ack {
		// Pure SYN: start the handshake clock and seed expected-sequence
		// tracking. Nothing to correlate yet, so return immediately.
		st.hasFirstSYN = true
		st.firstSYN = f.Timestamp
		st.hasInitialSeq = true
		st.initialSeq = tr.Seq
		st.window = tr.Window
		st.expectedSeq = tr.Seq + 1
		st.hasExpectedSeq = true
		return
	}

	// Any ACK-flagged segment completes the handshake RTT measurement if
	// the peer direction recorded a first SYN and this side hasn't
	// measured one yet: the SYN-ACK sender reports "Server", the bare-ACK
	// sender completing the handshake reports "Client" (spec §4.5).
	if ack && st.rtt.side == rttNone {
		if peer, ok := t.peek(f.Key.Reverse()); ok && peer.hasFirstSYN {
			side := rttClient
			if syn {
				side = rttServer
			}
			st.rtt = measuredRTT{side: side, duration: f.Timestamp.Sub(peer.firstSYN)}
		}
	}

	if syn && ack {
		st.hasFirstSYN = true
		st.firstSYN = f.Timestamp
		st.window = tr.Window
	}

	seqSpace := uint32(len(f.Payload))
	if syn {
		seqSpace++
	}
	if fin {
		seqSpace++
	}

	switch {
	case st.hasExpectedSeq && (len(f.Payload) >= 1 || fin || syn) && tr.Seq != st.expectedSeq:
		if prevActivity.IsZero() || f.Timestamp.Sub(prevActivity) >= reorderWindow {
			if st.hasRetransLastSeq && st.retransLastSeq == tr.Seq {
				st.retransRun++
			} else {
				st.retransLastSeq = tr.Seq
				st.hasRetransLastSeq = true
				st.retransRun = 1
			}
			if st.retransRun == repeatedRetransmitRun {
				st.repeatedRetransmits++
				st.retransRun = 0
			}
			st.retransBytes += uint64(len(f.Payload))
		} else {
			st.reorderBytes += uint64(len(f.Payload))
		}
	case st.hasExpectedSeq:
		st.expectedSeq = tr.Seq + seqSpace
	default:
		// First segment observed on this key without a prior SYN (the
		// probe started mid-connection): begin tracking from here.
		st.expectedSeq = tr.Seq + seqSpace
		st.hasExpectedSeq = true
	}

	if ack && !syn && tr.Window.Effective() == 0 {
		st.zeroWindows++
	}

	if fin {
		st.hasFIN = true
		st.finAt = f.Timestamp
		if peer, ok := t.peek(f.Key.Reverse()); ok && peer.hasFIN {
			delete(t.states, f.Key)
			delete(t.states, f.Key.Reverse())
		}
	}
}

// Append emits this flow's tracker-derived custom fields (spec §4.5) and
// resets the per-export counters (retransmits, reorders, zero-windows).
// It is a no-op if no State exists for key.
func (t *Tracker) Append(key flow.Key, c *customs.Customs) {
	st, ok := t.peek(key)
	if !ok {
		return
	}

	if st.hasConnID {
		c.AppendU32(customs.ConnectionID, st.connID)
	}

	switch st.rtt.side {
	case rttClient:
		c.AppendLatency(customs.ClientNWLatency, st.rtt.duration/2)
	case rttServer:
		c.AppendLatency(customs.ServerNWLatency, st.rtt.duration/2)
	}

	if st.hasFPXLatency {
		c.AppendLatency(customs.FPXLatency, st.fpxLatency)
	}

	c.AppendU64(customs.RetransmittedOut, st.retransBytes)
	c.AppendU32(customs.RepeatedRetransmits, st.repeatedRetransmits)
	c.AppendU64(customs.OrderIn, st.reorderBytes)
	if st.hasFirstSYN {
		c.AppendU32(customs.ReceiveWindow, st.window.Effective())
	}
	c.AppendU32(customs.ZeroWindows, st.zeroWindows)

	if ks, ok := t.kernelStats(key); ok {
		c.AppendU32(customs.KernelRetransmits, uint32(ks.Retransmits))
		c.AppendLatency(customs.KernelRTT, ks.RTT)
		c.AppendU32(customs.KernelCongWindow, ks.CongWindow)
	}

	st.retransBytes = 0
	st.reorderBytes = 0
	st.repeatedRetransmits = 0
	st.zeroWindows = 0
}

// Clear evicts States idle for more than 60s (spec §3 lifecycle).
func (t *Tracker) Clear(now time.Time) {
	for k, st := range t.states {
		if now.Sub(st.lastActivity) > idleTimeout {
			delete(t.states, k)
		}
	}
}

// Len reports the number of tracked States, for metrics.
func (t *Tracker) Len() int { return len(t.states) }
