// Package decode implements the Packet Decoder (spec §4.1): Ethernet/VLAN
// stripping and IPv4/IPv6/ICMP/TCP/UDP header parsing, exposing the tuples
// and payload slices the rest of the pipeline needs.
//
// Header parsing is built on github.com/fako1024/gopacket, the same
// capture-oriented gopacket fork goProbe's pkg/capture decodes packets
// with (see GPPacket.go), rather than a hand-rolled byte parser -- the one
// place flowtap diverges from GPPacket.go's approach is that it keeps the
// raw IPv4 fragmentation fields (ID, MF, offset) that GPPacket.go discards,
// since the Reassembler (pkg/reassembly) needs them.
package decode

import (
	"errors"
	"net/netip"

	"github.com/fako1024/gopacket"
	"github.com/fako1024/gopacket/layers"

	"github.com/flowtap/flowtap/pkg/flow"
)

// mirrorHeaderSize is the length of the juniper packet-mirror header
// stripped by DecodeFromL3 before IP parsing.
const mirrorHeaderSize = 8

// IPVersion tags which network-layer header a Packet carries.
type IPVersion uint8

const (
	IPNone IPVersion = iota
	IPv4
	IPv6
)

// Packet is the decoder's output: a fully parsed network-layer header plus
// whatever IPv4 fragmentation metadata was present, and the upper-layer
// payload slice (clamped to the network layer's own declared length, so
// that Ethernet padding never leaks in as payload).
type Packet struct {
	Ethernet flow.Ethernet
	Version  IPVersion
	Proto    flow.Proto
	TOS      uint8
	Src      netip.Addr
	Dst      netip.Addr

	// IPv4 fragmentation fields; zero/false for IPv6 and non-fragmented
	// IPv4 (the pipeline driver hands a packet to the Reassembler only when
	// MoreFragments is set or FragOffset != 0).
	IPID          uint16
	MoreFragments bool
	FragOffset    uint16 // in 8-byte units, per RFC 791

	// Payload is the upper-layer (ICMP/TCP/UDP/other) bytes, trimmed to
	// the network layer's declared length.
	Payload []byte

	// HeaderBytes is the IP header length (IHL*4 for IPv4, the fixed 40
	// bytes for IPv6), added to the payload length for the byte counters
	// (Counter.Bytes).
	HeaderBytes uint16
}

var decodeOpts = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// Decode parses a raw captured frame starting at the Ethernet header.
// Returns (nil, nil) for frames lacking a recognizable network layer (e.g.
// ARP) -- per spec, such frames are silently dropped by the driver, not
// treated as an error.
func Decode(data []byte) (*Packet, error) {
	pkt := gopacket.NewPacket(data, layers.LinkTypeEthernet, decodeOpts)
	return fromGopacket(pkt)
}

// FromPacket adapts an already-parsed gopacket.Packet (as returned by a
// pipeline.Source's NextPacket) without re-decoding its raw bytes.
func FromPacket(pkt gopacket.Packet) (*Packet, error) {
	return fromGopacket(pkt)
}

// DecodeFromL3 is the secondary entry point used by the juniper-mirror DNS
// side mode: it strips an 8-byte mirror header and decodes the remaining
// bytes as a raw L3 (IPv4/IPv6) buffer with no Ethernet header.
func DecodeFromL3(data []byte) (*Packet, error) {
	if len(data) < mirrorHeaderSize {
		return nil, errors.New("decode: buffer shorter than mirror header")
	}
	l3 := data[mirrorHeaderSize:]
	if len(l3) == 0 {
		return nil, errors.New("decode: empty L3 buffer after mirror header")
	}

	version := l3[0] >> 4
	var linkType gopacket.Decoder
	switch version {
	case 4:
		linkType = layers.LayerTypeIPv4
	case 6:
		linkType = layers.LayerTypeIPv6
	default:
		return nil, errors.New("decode: unrecognized raw L3 IP version")
	}

	pkt := gopacket.NewPacket(l3, linkType, decodeOpts)
	return fromGopacket(pkt)
}

func fromGopacket(pkt gopacket.Packet) (*Packet, error) {
	out := &Packet{}

	if eth, ok := pkt.LinkLayer().(*layers.Ethernet); ok {
		copy(out.Ethernet.Src[:], eth.SrcMAC)
		copy(out.Ethernet.Dst[:], eth.DstMAC)
	}
	for _, l := range pkt.Layers() {
		if dot1q, ok := l.(*layers.Dot1Q); ok {
			out.Ethernet.HasVLAN = true
			out.Ethernet.VLAN = dot1q.VLANIdentifier
		}
	}

	nwL := pkt.NetworkLayer()
	if nwL == nil {
		if errL := pkt.ErrorLayer(); errL != nil {
			return nil, nil //nolint:nilerr // decode-drop: malformed header, silently ignored
		}
		return nil, nil
	}

	switch v := nwL.(type) {
	case *layers.IPv4:
		out.Version = IPv4
		out.Proto = flow.Proto(v.Protocol)
		out.TOS = v.TOS
		src, ok1 := netip.AddrFromSlice(v.SrcIP.To4())
		dst, ok2 := netip.AddrFromSlice(v.DstIP.To4())
		if !ok1 || !ok2 {
			return nil, errors.New("decode: malformed IPv4 address")
		}
		out.Src, out.Dst = src, dst
		out.IPID = v.Id
		out.MoreFragments = v.Flags&layers.IPv4MoreFragments != 0
		out.FragOffset = v.FragOffset
		out.HeaderBytes = uint16(v.IHL) * 4

		total := v.Length
		hdr := uint16(v.IHL) * 4
		payloadLen := int(total) - int(hdr)
		if payloadLen < 0 {
			payloadLen = 0
		}
		out.Payload = clamp(v.Payload, payloadLen)
	case *layers.IPv6:
		out.Version = IPv6
		out.Proto = flow.Proto(v.NextHeader)
		out.TOS = v.TrafficClass
		src, ok1 := netip.AddrFromSlice(v.SrcIP.To16())
		dst, ok2 := netip.AddrFromSlice(v.DstIP.To16())
		if !ok1 || !ok2 {
			return nil, errors.New("decode: malformed IPv6 address")
		}
		out.Src, out.Dst = src, dst
		out.HeaderBytes = 40
		out.Payload = clamp(v.Payload, int(v.Length))
	default:
		return nil, nil
	}

	return out, nil
}

// clamp trims b to n bytes, or returns b unmodified if it is already
// shorter (Ethernet padding / truncated capture).
func clamp(b []byte, n int) []byte {
	if n < 0 || n > len(b) {
		return b
	}
	return b[:n]
}

// Transport carries the L4 header fields extracted from a Packet's payload
// plus the remaining application payload.
type Transport struct {
	Header  flow.Transport
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// ParseTransport decodes the ICMP/TCP/UDP header out of p.Payload. ok is
// false when proto is not one the probe tracks ports/flags for (spec:
// Transport ∈ {ICMP, TCP, UDP, Other}).
func ParseTransport(proto flow.Proto, payload []byte) (Transport, bool) {
	switch proto {
	case flow.ProtoTCP:
		return parseTCP(payload)
	case flow.ProtoUDP:
		return parseUDP(payload)
	case flow.ProtoICMP:
		return Transport{Header: flow.Transport{Kind: flow.TransportICMP}}, true
	default:
		return Transport{}, false
	}
}

func parseTCP(b []byte) (Transport, bool) {
	if len(b) < 20 {
		return Transport{}, false
	}
	srcPort := uint16(b[0])<<8 | uint16(b[1])
	dstPort := uint16(b[2])<<8 | uint16(b[3])
	seq := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	ack := uint32(b[8])<<24 | uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])
	dataOffset := (b[12] >> 4) * 4
	tcpFlags := flow.TCPFlags(b[13] & 0x3F)
	window := uint16(b[14])<<8 | uint16(b[15])

	scale := uint8(0)
	if tcpFlags&flow.FlagSYN != 0 && int(dataOffset) <= len(b) {
		scale = parseWScale(b[20:dataOffset])
	}

	if int(dataOffset) > len(b) {
		dataOffset = uint8(len(b))
	}

	return Transport{
		Header: flow.Transport{
			Kind:   flow.TransportTCP,
			Seq:    seq,
			Ack:    ack,
			Flags:  tcpFlags,
			Window: flow.Window{Size: window, Scale: scale},
		},
		SrcPort: srcPort,
		DstPort: dstPort,
		Payload: b[dataOffset:],
	}, true
}

// parseWScale scans TCP options for kind=3 (window scale).
func parseWScale(opts []byte) uint8 {
	for i := 0; i < len(opts); {
		switch opts[i] {
		case 0: // end of options
			return 0
		case 1: // NOP
			i++
		case 3: // window scale
			if i+3 <= len(opts) {
				return opts[i+2]
			}
			return 0
		default:
			if i+1 >= len(opts) {
				return 0
			}
			l := int(opts[i+1])
			if l < 2 {
				return 0
			}
			i += l
		}
	}
	return 0
}

func parseUDP(b []byte) (Transport, bool) {
	if len(b) < 8 {
		return Transport{}, false
	}
	srcPort := uint16(b[0])<<8 | uint16(b[1])
	dstPort := uint16(b[2])<<8 | uint16(b[3])
	length := uint16(b[4])<<8 | uint16(b[5])
	payloadLen := int(length) - 8
	if payloadLen < 0 || 8+payloadLen > len(b) {
		payloadLen = len(b) - 8
	}
	return Transport{
		Header:  flow.Transport{Kind: flow.TransportUDP},
		SrcPort: srcPort,
		DstPort: dstPort,
		Payload: b[8 : 8+payloadLen],
	}, true
}
