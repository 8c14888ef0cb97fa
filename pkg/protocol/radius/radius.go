// Package radius implements the RADIUS decoder (spec §4.4 "RADIUS
// decoder"): attribute-TLV parsing with an in-memory Request/Response
// correlation table keyed by (src, dst, identifier).
package radius

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

// AuthPort and AcctPort are the canonical ports the Classifier registers a
// RADIUS decoder against, applied to both TCP and UDP (spec §6: "defaults
// for RADIUS are 1812, 1813").
const (
	AuthPort = 1812
	AcctPort = 1813
)

const (
	idleTimeout = 60 * time.Second

	codeAccessRequest      = 1
	codeAccessAccept       = 2
	codeAccountingRequest  = 4
	codeAccountingResponse = 5

	attrUserName      = 1
	attrFramedIPAddr  = 8
	attrFramedIPMask  = 9
	attrServiceType   = 6
	attrFramedProto   = 7
	attrAcctStatus    = 40
	attrAcctSessionID = 44
)

type pending struct {
	ts time.Time
}

// Decoder implements protocol.Decoder for RADIUS over UDP.
type Decoder struct {
	dict    *customs.Dictionary
	pending map[string]pending
}

// New constructs the RADIUS decoder, or nil if the dictionary lacks
// RADIUS_CODE.
func New(dict *customs.Dictionary) *Decoder {
	if !dict.Has(customs.RadiusCode) {
		return nil
	}
	return &Decoder{dict: dict, pending: make(map[string]pending)}
}

// Decode parses one RADIUS packet's attribute TLVs.
func (d *Decoder) Decode(f *flow.Flow, c *customs.Customs) bool {
	if !f.Transport.IsUDP() || len(f.Payload) < 20 {
		return false
	}
	msg := f.Payload
	code := msg[0]
	identifier := msg[1]
	length := int(msg[2])<<8 | int(msg[3])
	if length > len(msg) {
		return false
	}
	attrs := msg[20:length]

	c.AppendU8(customs.RadiusCode, code)
	for _, a := range parseAttrs(attrs) {
		switch a.typ {
		case attrUserName:
			c.AppendStr(customs.RadiusUserName, string(a.value))
		case attrServiceType:
			if len(a.value) == 4 {
				c.AppendU32(customs.RadiusServiceType, be32(a.value))
			}
		case attrFramedIPAddr:
			if len(a.value) == 4 {
				c.AppendAddr(customs.RadiusFramedIPAddr, netip.AddrFrom4([4]byte(a.value)))
			}
		case attrFramedIPMask:
			if len(a.value) == 4 {
				c.AppendAddr(customs.RadiusFramedIPMask, netip.AddrFrom4([4]byte(a.value)))
			}
		case attrFramedProto:
			if len(a.value) == 4 {
				c.AppendU32(customs.RadiusFramedProto, be32(a.value))
			}
		case attrAcctSessionID:
			c.AppendStr(customs.RadiusAcctSessionID, string(a.value))
		case attrAcctStatus:
			if len(a.value) == 4 {
				c.AppendU32(customs.RadiusAcctStatus, be32(a.value))
			}
		}
	}
	c.AppendAppProtocolTag(customs.TagRADIUS)

	key := corrKey(f.Key, identifier)
	switch code {
	case codeAccessRequest, codeAccountingRequest:
		d.pending[key] = pending{ts: f.Timestamp}
		return false
	case codeAccessAccept, codeAccountingResponse:
		reverseKey := corrKey(f.Key.Reverse(), identifier)
		if p, ok := d.pending[reverseKey]; ok {
			delete(d.pending, reverseKey)
			c.AppendLatency(customs.AppLatency, f.Timestamp.Sub(p.ts))
			return true
		}
		return false
	default:
		return false
	}
}

type attr struct {
	typ   byte
	value []byte
}

func parseAttrs(data []byte) []attr {
	var out []attr
	i := 0
	for i+2 <= len(data) {
		typ := data[i]
		l := int(data[i+1])
		if l < 2 || i+l > len(data) {
			break
		}
		out = append(out, attr{typ: typ, value: data[i+2 : i+l]})
		i += l
	}
	return out
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func corrKey(k flow.Key, identifier byte) string {
	return fmt.Sprintf("%s-%d:%s-%d/%d", k.Src.IP, k.Src.Port, k.Dst.IP, k.Dst.Port, identifier)
}

// Append is a no-op: every RADIUS field is emitted at Decode time.
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
