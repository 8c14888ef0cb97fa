// Package dhcp implements the DHCP decoder (spec §4.4 "DHCP decoder"):
// keyless per-message parsing correlated by hash(chaddr, xid) across a
// request/response pair.
package dhcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

// ServerPort and ClientPort are the canonical UDP ports the Classifier
// registers a DHCP decoder against (spec §4.3's canonical-port registration).
const (
	ServerPort = 67
	ClientPort = 68
)

const (
	idleTimeout = 60 * time.Second

	opBootRequest = 1
	opBootReply   = 2

	optEnd      = 255
	optPad      = 0
	optHost     = 12
	optDomain   = 15
	optLease    = 51
	optMsgType  = 53
)

type pending struct {
	ts time.Time
}

// Decoder implements protocol.Decoder for DHCPv4 over UDP.
type Decoder struct {
	dict    *customs.Dictionary
	pending map[string]pending
	lastSweep time.Time
}

// New constructs the DHCP decoder, or nil if the dictionary lacks DHCP_OP or
// DHCP_MSG_TYPE.
func New(dict *customs.Dictionary) *Decoder {
	if !dict.Has(customs.DHCPOp, customs.DHCPMsgType) {
		return nil
	}
	return &Decoder{dict: dict, pending: make(map[string]pending)}
}

// Decode parses one DHCPv4 message. Requests are recorded for latency
// correlation; responses look up the matching request by (chaddr, xid).
func (d *Decoder) Decode(f *flow.Flow, c *customs.Customs) bool {
	if !f.Transport.IsUDP() || len(f.Payload) < 240 {
		return false
	}
	msg := f.Payload

	op := msg[0]
	xid := binary.BigEndian.Uint32(msg[4:8])
	ciaddr := msg[12:16]
	yiaddr := msg[16:20]
	siaddr := msg[20:24]
	chaddr := msg[28:34]

	opts, ok := parseOptions(msg)
	if !ok {
		return false
	}
	msgType, ok := opts[optMsgType]
	if !ok || len(msgType) != 1 {
		return false
	}

	key := corrKey(chaddr, xid)

	c.AppendU8(customs.DHCPOp, op)
	c.AppendU8(customs.DHCPMsgType, msgType[0])
	c.AppendStr(customs.DHCPCHAddr, formatMAC(chaddr))
	c.AppendAddr(customs.DHCPCIAddr, addrFromV4(ciaddr))
	c.AppendAddr(customs.DHCPYIAddr, addrFromV4(yiaddr))
	c.AppendAddr(customs.DHCPSIAddr, addrFromV4(siaddr))
	if host, ok := opts[optHost]; ok {
		c.AppendStr(customs.DHCPHostname, string(host))
	}
	if domain, ok := opts[optDomain]; ok {
		c.AppendStr(customs.DHCPDomain, string(domain))
	}
	if lease, ok := opts[optLease]; ok && len(lease) == 4 {
		c.AppendU32(customs.DHCPLease, binary.BigEndian.Uint32(lease))
	}
	c.AppendAppProtocolTag(customs.TagDHCP)

	if op == opBootRequest {
		d.pending[key] = pending{ts: f.Timestamp}
		return false
	}

	// op == opBootReply: a server response completes the transaction if a
	// matching request was seen.
	if p, ok := d.pending[key]; ok {
		delete(d.pending, key)
		c.AppendLatency(customs.AppLatency, f.Timestamp.Sub(p.ts))
		return true
	}
	return false
}

func corrKey(chaddr []byte, xid uint32) string {
	return fmt.Sprintf("%x/%d", chaddr, xid)
}

func formatMAC(b []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

func addrFromV4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// parseOptions scans the DHCP options area (after the fixed 236-byte header
// and 4-byte magic cookie) into a map of option code to raw value bytes.
func parseOptions(msg []byte) (map[byte][]byte, bool) {
	if len(msg) < 240 {
		return nil, false
	}
	if msg[236] != 99 || msg[237] != 130 || msg[238] != 83 || msg[239] != 99 {
		return nil, false // missing DHCP magic cookie
	}
	opts := make(map[byte][]byte)
	i := 240
	for i < len(msg) {
		code := msg[i]
		if code == optEnd {
			break
		}
		if code == optPad {
			i++
			continue
		}
		if i+1 >= len(msg) {
			break
		}
		l := int(msg[i+1])
		if i+2+l > len(msg) {
			break
		}
		opts[code] = msg[i+2 : i+2+l]
		i += 2 + l
	}
	return opts, true
}

// Append is a no-op: every DHCP field is emitted at Decode time.
func (d *Decoder) Append(flow.Key, *customs.Customs) {}

// Clear evicts unanswered pending requests older than idle.
func (d *Decoder) Clear(now time.Time, idle time.Duration) {
	if idle == 0 {
		idle = idleTimeout
	}
	for k, p := range d.pending {
		if now.Sub(p.ts) > idle {
			delete(d.pending, k)
		}
	}
}
