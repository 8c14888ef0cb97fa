// Package pipeline implements the Pipeline Driver (spec §4.8): the
// single-threaded loop that pulls frames off a packet Source, decodes and
// reassembles them, and threads the resulting Flow through the Translator,
// Sampler and Flow Queue.
package pipeline

import (
	"time"

	"github.com/fako1024/gopacket"
)

// Stats mirrors the capture-level counters a Source reports, ported from
// goProbe's pkg/capture.CaptureStats.
type Stats struct {
	PacketsReceived  int
	PacketsDropped   int
	PacketsIfDropped int
}

// Source is the blocking packet iterator the driver pulls frames from
// (spec §6's "packet source"), grounded on
// els0r-goProbe/pkg/capture/source.go's Source interface -- the out-of-scope
// kernel capture library (spec §1) is expected to implement this against a
// real NIC; tests drive the loop against a fake.
type Source interface {
	Init(iface, bpfFilter string, captureLength, bufSize int, promisc bool) error
	// NextPacket blocks until a frame is available, the read-timeout
	// elapses (returned as ErrTimeout), or the source errors out.
	NextPacket() (gopacket.Packet, error)
	Stats() (*Stats, error)
	LinkType() gopacket.Decoder
	Close()
}

// ErrTimeout is returned by a Source's NextPacket when its bounded read
// timeout elapses with no frame available -- the driver treats this as the
// cue to run FlowQueue.Export(now()) even on an idle interface (spec §4.8).
var ErrTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "pipeline: capture read timeout" }
func (errTimeout) Timeout() bool { return true }

// ReadTimeout is the bounded capture-call timeout named in spec §5: ~15s in
// the primary mode, 1s when a side mode (dns-only/radius-only) is active.
func ReadTimeout(sideMode bool) time.Duration {
	if sideMode {
		return time.Second
	}
	return 15 * time.Second
}
