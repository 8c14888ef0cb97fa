// Package flow holds the probe's core data model: addresses, keys,
// transport headers and the long- and short-lived structures that carry
// packet and flow-table state through the pipeline.
package flow

import "net/netip"

// Addr is an (IP address, L4 port) pair.
type Addr struct {
	IP   netip.Addr
	Port uint16
}

// Proto identifies the L4 protocol carried by a Key.
type Proto uint8

const (
	ProtoOther Proto = 0
	ProtoICMP  Proto = 1
	ProtoTCP   Proto = 6
	ProtoUDP   Proto = 17
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "Other"
	}
}

// Key identifies a directional flow: (L4 protocol, src Addr, dst Addr). The
// reverse tuple is a distinct Key, so the flow table is inherently
// direction-sensitive.
type Key struct {
	Proto Proto
	Src   Addr
	Dst   Addr
}

// Reverse returns the Key for the opposite direction of the same
// conversation.
func (k Key) Reverse() Key {
	return Key{Proto: k.Proto, Src: k.Dst, Dst: k.Src}
}

// Ethernet carries the link-layer addressing observed for a packet.
type Ethernet struct {
	Src     [6]byte
	Dst     [6]byte
	VLAN    uint16
	HasVLAN bool
}

// Direction classifies a packet relative to the capturing interface's own
// MAC address.
type Direction uint8

const (
	DirUnknown Direction = iota
	DirIn
	DirOut
)

// ClassifyDirection derives Direction by comparing the interface MAC against
// the Ethernet source/destination.
func ClassifyDirection(ifaceMAC [6]byte, eth Ethernet) Direction {
	switch {
	case eth.Dst == ifaceMAC:
		return DirIn
	case eth.Src == ifaceMAC:
		return DirOut
	default:
		return DirUnknown
	}
}
