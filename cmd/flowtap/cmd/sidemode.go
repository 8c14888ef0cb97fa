package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/decode"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/pipeline"
	"github.com/flowtap/flowtap/pkg/protocol"
	"github.com/flowtap/flowtap/pkg/queue"
	"github.com/flowtap/flowtap/pkg/reassembly"
)

const sideModeClearInterval = 30 * time.Second

// sideModeOpts configures runSideMode's capture loop, independent of the
// primary mode's conf.CaptureConfig since a side mode is typically pointed
// at a narrower BPF filter (spec §6: "filter", "juniper-mirror"/"ports").
type sideModeOpts struct {
	iface         string
	filter        string
	snaplen       int
	promisc       bool
	juniperMirror bool
}

// runSideMode drives a minimal packet -> decoder -> log loop for the dns/
// radius side modes, bypassing the Flow Queue entirely (spec §6). It reuses
// pkg/decode and pkg/reassembly exactly as the primary pipeline does, but
// hands every reassembled datagram straight to dec instead of accumulating
// a Counter.
func runSideMode(ctx context.Context, opts sideModeOpts, tag flow.DecoderTag, dec protocol.Decoder, dict *customs.Dictionary, logger *slog.Logger) error {
	src := &pipeline.SlimcapSource{}
	const bufSize = 1 << 20
	if err := src.Init(opts.iface, opts.filter, opts.snaplen, bufSize, opts.promisc); err != nil {
		return fmt.Errorf("failed to initialize capture on %s: %w", opts.iface, err)
	}
	defer src.Close()

	reassembler := reassembly.New()
	scratch := customs.NewCustoms(dict)
	clearTimer := queue.NewTimer(sideModeClearInterval)
	var lastFlush time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, err := src.NextPacket()
		now := time.Now()

		if errors.Is(err, pipeline.ErrTimeout) {
			if clearTimer.Ready(now) {
				dec.Clear(now, 0)
			}
			continue
		}
		if err != nil {
			return err
		}

		ts := now
		if meta := pkt.Metadata(); meta != nil && !meta.CaptureInfo.Timestamp.IsZero() {
			ts = meta.CaptureInfo.Timestamp
		}

		var parsed *decode.Packet
		if opts.juniperMirror {
			parsed, err = decode.DecodeFromL3(pkt.Data())
		} else {
			parsed, err = decode.FromPacket(pkt)
		}
		if err != nil || parsed == nil {
			continue
		}

		handleSideModePacket(ts, parsed, reassembler, tag, dec, scratch, logger)

		if now.Sub(lastFlush) >= reassembly.FlushInterval() {
			reassembler.Flush(now)
			lastFlush = now
		}
	}
}

func handleSideModePacket(ts time.Time, p *decode.Packet, reassembler *reassembly.Reassembler, tag flow.DecoderTag, dec protocol.Decoder, scratch *customs.Customs, logger *slog.Logger) {
	payload := p.Payload
	if p.Version == decode.IPv4 && (p.MoreFragments || p.FragOffset != 0) {
		out, ready := reassembler.Reassemble(ts, reassembly.Fragment{
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
		payload = out.Data
	}

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
		Export:    true,
		Payload:   transport.Payload,
	}

	if !dec.Decode(f, scratch) {
		scratch.Clear()
		return
	}
	dec.Append(f.Key, scratch)
	logSideModeEntries(logger, tag, f.Key, scratch)
	scratch.Clear()
}

func logSideModeEntries(logger *slog.Logger, tag flow.DecoderTag, key flow.Key, scratch *customs.Customs) {
	args := []any{
		"decoder", tag,
		"src", key.Src.IP.String(), "src_port", key.Src.Port,
		"dst", key.Dst.IP.String(), "dst_port", key.Dst.Port,
		"fields", len(scratch.Entries()),
	}
	logger.Info("side mode decode", args...)
}
