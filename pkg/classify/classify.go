// Package classify implements the Classifier (spec §4.3): two dense,
// port-indexed decoder-tag vectors (one for TCP, one for UDP), grounded on
// original_source/src/protocol/classify.rs's Vec<Decoder> approach.
package classify

import "github.com/flowtap/flowtap/pkg/flow"

const numPorts = 1 << 16

// Classifier maps (L4 protocol, port pair) to a decoder tag.
type Classifier struct {
	tcp [numPorts]flow.DecoderTag
	udp [numPorts]flow.DecoderTag
}

// New returns a Classifier with no ports registered.
func New() *Classifier {
	return &Classifier{}
}

// Register binds a port to a decoder tag for the given protocol.
// Registration is additive: a later call silently overwrites an earlier one
// for the same (proto, port).
func (c *Classifier) Register(proto flow.Proto, port uint16, tag flow.DecoderTag) {
	switch proto {
	case flow.ProtoTCP:
		c.tcp[port] = tag
	case flow.ProtoUDP:
		c.udp[port] = tag
	}
}

// Classify returns the decoder tag for a flow's protocol and port pair.
// Lookup tries min(src,dst) first, falling back to the other port; returns
// DecoderNone if neither port is registered, or if proto is not TCP/UDP.
func (c *Classifier) Classify(proto flow.Proto, srcPort, dstPort uint16) flow.DecoderTag {
	var table *[numPorts]flow.DecoderTag
	switch proto {
	case flow.ProtoTCP:
		table = &c.tcp
	case flow.ProtoUDP:
		table = &c.udp
	default:
		return flow.DecoderNone
	}

	first, second := srcPort, dstPort
	if dstPort < srcPort {
		first, second = dstPort, srcPort
	}
	if tag := table[first]; tag != flow.DecoderNone {
		return tag
	}
	return table[second]
}
