// Package protocol implements the application-protocol decoder framework
// (spec §4.4): a shared Decoder contract plus the composite Decoders
// dispatcher that classify.Classifier tags route into.
package protocol

import (
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

// Decoder is the shared contract every application-layer parser implements.
// Decode recognizes a completed application-level message for key's flow
// and returns true when the Flow Queue should export that flow's counter
// immediately. Append attaches steady-state derived fields on timer-driven
// export. Clear evicts per-connection state idle for longer than idle.
type Decoder interface {
	Decode(f *flow.Flow, c *customs.Customs) bool
	Append(key flow.Key, c *customs.Customs)
	Clear(now time.Time, idle time.Duration)
}

// Decoders holds one optional instance per flow.DecoderTag and dispatches by
// tag. A nil slot means that decoder is disabled (construction declined to
// enable it, e.g. because the dictionary lacks its required fields).
type Decoders struct {
	byTag map[flow.DecoderTag]Decoder
}

// New builds an empty dispatcher. Register enables individual decoders.
func New() *Decoders {
	return &Decoders{byTag: make(map[flow.DecoderTag]Decoder)}
}

// Register enables decoder d for tag. Passing a nil d is a no-op, matching
// the "silently disabled" behavior spec §4.4 requires when a decoder's
// required custom fields are unavailable.
func (d *Decoders) Register(tag flow.DecoderTag, dec Decoder) {
	if dec == nil {
		return
	}
	d.byTag[tag] = dec
}

// Decode dispatches to the decoder registered for f's classified tag, if
// any.
func (d *Decoders) Decode(tag flow.DecoderTag, f *flow.Flow, c *customs.Customs) bool {
	dec, ok := d.byTag[tag]
	if !ok {
		return false
	}
	return dec.Decode(f, c)
}

// Append dispatches Append to the decoder registered for tag, if any.
func (d *Decoders) Append(tag flow.DecoderTag, key flow.Key, c *customs.Customs) {
	dec, ok := d.byTag[tag]
	if !ok {
		return
	}
	dec.Append(key, c)
}

// Clear sweeps idle per-connection state out of every registered decoder.
func (d *Decoders) Clear(now time.Time, idle time.Duration) {
	for _, dec := range d.byTag {
		dec.Clear(now, idle)
	}
}
