package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowtap/flowtap/pkg/decode"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/queue"
	"github.com/flowtap/flowtap/pkg/reassembly"
	"github.com/flowtap/flowtap/pkg/sample"
	"github.com/flowtap/flowtap/pkg/translate"
)

// Driver runs the single-threaded capture loop (spec §4.8). It owns no
// locks: every field it touches belongs exclusively to the goroutine that
// calls Run (spec §5).
type Driver struct {
	source      Source
	reassembler *reassembly.Reassembler
	translator  *translate.Translator
	sampler     *sample.Sampler
	queue       *queue.Queue
	ifaceMAC    [6]byte
	logger      *slog.Logger
}

// New builds a Driver. translator/sampler may be nil, matching their
// "optional" status in spec §4.9.
func New(source Source, q *queue.Queue, translator *translate.Translator, sampler *sample.Sampler, ifaceMAC [6]byte, logger *slog.Logger) *Driver {
	if translator == nil {
		translator = translate.New(nil)
	}
	if sampler == nil {
		sampler = sample.NewExternal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		source:      source,
		reassembler: reassembly.New(),
		translator:  translator,
		sampler:     sampler,
		queue:       q,
		ifaceMAC:    ifaceMAC,
		logger:      logger,
	}
}

// Run loops until ctx is cancelled or the Source returns a non-timeout
// error. Every capture-call timeout drives an export cycle so the Flow
// Queue drains even on an idle interface (spec §4.8).
func (d *Driver) Run(ctx context.Context) error {
	var lastFlush time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, err := d.source.NextPacket()
		now := time.Now()

		var timedOut errTimeout
		switch {
		case errors.As(err, &timedOut):
			d.queue.Export(ctx, now)
			continue
		case err != nil:
			return err
		}

		ts := now
		if meta := pkt.Metadata(); meta != nil && !meta.CaptureInfo.Timestamp.IsZero() {
			ts = meta.CaptureInfo.Timestamp
		}

		parsed, err := decode.FromPacket(pkt)
		if err != nil || parsed == nil {
			// decode-drop: malformed or link-layer-only frame, silently
			// ignored per spec §7.
			d.queue.Export(ctx, now)
			continue
		}

		d.handlePacket(ctx, ts, parsed)
		d.queue.Export(ctx, now)

		if now.Sub(lastFlush) >= reassembly.FlushInterval() {
			d.reassembler.Flush(now)
			lastFlush = now
		}
	}
}

func (d *Driver) handlePacket(ctx context.Context, ts time.Time, p *decode.Packet) {
	direction := flow.ClassifyDirection(d.ifaceMAC, p.Ethernet)

	if p.Version == decode.IPv4 && (p.MoreFragments || p.FragOffset != 0) {
		out, ready := d.reassembler.Reassemble(ts, reassembly.Fragment{
			Key: reassembly.Key{
				Src: p.Src, Dst: p.Dst, ID: p.IPID, Proto: p.Proto,
			},
			Offset:        p.FragOffset,
			MoreFragments: p.MoreFragments,
			HeaderBytes:   p.HeaderBytes,
			Payload:       p.Payload,
		})
		if !ready {
			return
		}
		d.synthesize(ctx, ts, p, direction, out.Data, out.Packets, out.Fragments, out.Bytes)
		return
	}

	d.synthesize(ctx, ts, p, direction, p.Payload, 1, 0, uint64(p.HeaderBytes)+uint64(len(p.Payload)))
}

// ReassemblyLen reports the number of in-flight IPv4 reassembly buffers,
// for the status server's metrics (SPEC_FULL.md component #12).
func (d *Driver) ReassemblyLen() int { return d.reassembler.Len() }

func (d *Driver) synthesize(ctx context.Context, ts time.Time, p *decode.Packet, direction flow.Direction, payload []byte, packets, fragments, bytes uint64) {
	transport, ok := decode.ParseTransport(p.Proto, payload)
	if !ok {
		return
	}

	f := &flow.Flow{
		Timestamp: ts,
		Ethernet:  p.Ethernet,
		Key: flow.Key{
			Proto: p.Proto,
			Src:   flow.Addr{IP: p.Src, Port: transport.SrcPort},
			Dst:   flow.Addr{IP: p.Dst, Port: transport.DstPort},
		},
		TOS:       p.TOS,
		Transport: transport.Header,
		Packets:   packets,
		Fragments: fragments,
		Bytes:     bytes,
		Direction: direction,
		Payload:   transport.Payload,
	}

	d.translator.Translate(f)

	switch d.sampler.Admit(f) {
	case sample.Ignore:
		return
	case sample.Export:
		f.Export = true
	case sample.Decode:
		f.Export = false
	}

	d.queue.Add(ctx, f)
}
