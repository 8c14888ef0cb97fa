package flow

import "time"

// Flow is the short-lived, per-packet (or per-reassembled-datagram) record
// synthesized by the Packet Decoder / Reassembler and consumed by the
// pipeline driver. It never outlives a single call to Queue.Add.
type Flow struct {
	Timestamp time.Time
	Ethernet  Ethernet
	Key       Key
	TOS       uint8
	Transport Transport
	Packets   uint64
	Fragments uint64
	Bytes     uint64
	Direction Direction

	// Export is set by the Sampler; false means "decode and track but
	// never hand this packet's counter to the sink".
	Export bool

	// Payload is the upper-layer payload slice (TCP/UDP), reused from the
	// decoder's scratch buffer; callers must not retain it past Add.
	Payload []byte
}

// DecoderTag identifies which application-layer decoder, if any, is
// responsible for a flow's Key.
type DecoderTag uint8

const (
	DecoderNone DecoderTag = iota
	DecoderHTTP
	DecoderDNS
	DecoderTLS
	DecoderDHCP
	DecoderRADIUS
	DecoderPostgres
)

// Counter is the long-lived per-flow-table-entry aggregate. It survives
// across export cycles; only its volatile fields are zeroed on export.
type Counter struct {
	Ethernet Ethernet
	Direction Direction
	TOS      uint8     // OR-accumulated
	TCPFlags TCPFlags  // OR-accumulated
	Packets  uint64
	Bytes    uint64
	Fragments uint64
	Decoder  DecoderTag

	// ExportDeadline is the wall-clock time at which this entry's
	// counters must next be drained to the sink.
	ExportDeadline time.Time
}

// Reset zeroes the volatile counters while preserving identity fields
// (Ethernet, Direction, Decoder) and the export deadline, which the caller
// advances separately.
func (c *Counter) Reset() {
	c.TOS = 0
	c.TCPFlags = 0
	c.Packets = 0
	c.Bytes = 0
	c.Fragments = 0
}

// Record folds a Flow's observations into the Counter.
func (c *Counter) Record(f *Flow) {
	c.Ethernet = f.Ethernet
	c.Direction = f.Direction
	c.TOS |= f.TOS
	if f.Transport.IsTCP() {
		c.TCPFlags |= f.Transport.Flags
	}
	c.Packets += f.Packets
	c.Bytes += f.Bytes
	c.Fragments += f.Fragments
}

// IsEmpty reports whether the Counter has seen no packets since the last
// export or reset -- exporting such an entry is forbidden (export
// idempotence, spec §8).
func (c *Counter) IsEmpty() bool {
	return c.Packets == 0
}
