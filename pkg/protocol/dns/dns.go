// Package dns implements the DNS decoder (spec §4.4 "DNS decoder"): stateless
// per-message parsing correlated by DNS transaction id within a
// (client, server) address pair.
package dns

import (
	"net/netip"
	"strings"
	"time"

	"github.com/fako1024/gopacket"
	"github.com/fako1024/gopacket/layers"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

const idleTimeout = 60 * time.Second

// Port is the canonical UDP port the Classifier registers a DNS decoder
// against (spec §6: "DNS defaults to UDP/53").
const Port = 53

type connKey struct {
	a, b netip.Addr
}

func normalize(k flow.Key) connKey {
	if k.Src.IP.Less(k.Dst.IP) {
		return connKey{k.Src.IP, k.Dst.IP}
	}
	return connKey{k.Dst.IP, k.Src.IP}
}

type conn struct {
	pending      map[uint16]time.Time
	lastActivity time.Time
}

// Decoder implements protocol.Decoder for DNS over UDP.
type Decoder struct {
	dict  *customs.Dictionary
	conns map[connKey]*conn
}

// New constructs the DNS decoder, or returns nil if the dictionary lacks the
// fields it needs to be useful at all (spec §4.4 "active only if every
// required custom field name is present").
func New(dict *customs.Dictionary) *Decoder {
	if !dict.Has(customs.DNSQueryName, customs.DNSQueryType) {
		return nil
	}
	return &Decoder{dict: dict, conns: make(map[connKey]*conn)}
}

func (d *Decoder) connFor(k flow.Key, now time.Time) *conn {
	ck := normalize(k)
	c, ok := d.conns[ck]
	if !ok {
		c = &conn{pending: make(map[uint16]time.Time)}
		d.conns[ck] = c
	}
	c.lastActivity = now
	return c
}

// Decode parses one DNS datagram. A query is recorded for later correlation;
// a reply with a matching pending query and a non-empty answer list both
// emits fields and reports the message complete.
func (d *Decoder) Decode(f *flow.Flow, c *customs.Customs) bool {
	if !f.Transport.IsUDP() || len(f.Payload) == 0 {
		return false
	}

	msg := &layers.DNS{}
	if err := msg.DecodeFromBytes(f.Payload, gopacket.NilDecodeFeedback); err != nil {
		return false
	}
	if msg.OpCode != layers.DNSOpCodeQuery || len(msg.Questions) == 0 {
		return false
	}

	cn := d.connFor(f.Key, f.Timestamp)
	q := msg.Questions[0]

	if !msg.QR {
		cn.pending[msg.ID] = f.Timestamp
		c.AppendStr(customs.DNSQueryName, string(q.Name))
		c.AppendU16(customs.DNSQueryType, uint16(q.Type))
		c.AppendAppProtocolTag(customs.TagDNS)
		return false
	}

	// Reply: require a matching pending query and a non-empty answer list
	// (spec's open-question resolution: zero answers + nonzero RCODE emits
	// nothing, matching the legacy decoder's stated precondition).
	queriedAt, ok := cn.pending[msg.ID]
	if !ok || len(msg.Answers) == 0 {
		return false
	}
	delete(cn.pending, msg.ID)

	c.AppendStr(customs.DNSQueryName, string(q.Name))
	c.AppendU16(customs.DNSQueryType, uint16(q.Type))
	c.AppendU8(customs.DNSReplyCode, uint8(msg.ResponseCode))
	c.AppendStr(customs.DNSReplyData, formatAnswers(msg.Answers))
	c.AppendLatency(customs.AppLatency, f.Timestamp.Sub(queriedAt))
	c.AppendAppProtocolTag(customs.TagDNS)
	return true
}

// Append is a no-op: the DNS decoder has no steady-state fields, everything
// is emitted at Decode time.
func (d *Decoder) Append(flow.Key, *customs.Customs) {}

// Clear evicts (client, server) buckets idle for longer than idle.
func (d *Decoder) Clear(now time.Time, idle time.Duration) {
	if idle == 0 {
		idle = idleTimeout
	}
	for k, cn := range d.conns {
		if now.Sub(cn.lastActivity) > idle {
			delete(d.conns, k)
		}
	}
}

func formatAnswers(rrs []layers.DNSResourceRecord) string {
	parts := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if v := formatAnswer(rr); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ";")
}

func formatAnswer(rr layers.DNSResourceRecord) string {
	switch rr.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		if rr.IP == nil {
			return ""
		}
		return rr.IP.String() + "/" + rr.Type.String()
	case layers.DNSTypeCNAME:
		return string(rr.CNAME) + "/" + rr.Type.String()
	case layers.DNSTypePTR:
		return string(rr.PTR) + "/" + rr.Type.String()
	case layers.DNSTypeNS:
		return string(rr.NS) + "/" + rr.Type.String()
	case layers.DNSTypeMX:
		return string(rr.MX.Name) + "/" + rr.Type.String()
	case layers.DNSTypeTXT:
		if len(rr.TXTs) == 0 {
			return ""
		}
		return string(rr.TXTs[0]) + "/" + rr.Type.String()
	default:
		// SOA and unknown types produce no rendered value (spec §4.4).
		return ""
	}
}
