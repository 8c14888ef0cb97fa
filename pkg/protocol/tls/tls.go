// Package tls implements the TLS decoder (spec §4.4 "TLS decoder"): a
// bounded plaintext-record parser that stops consuming bytes once the
// handshake parameters of interest have been observed.
package tls

import (
	"encoding/binary"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/protocol"
)

// Port is the canonical TCP port the Classifier registers a TLS decoder
// against (spec §4.3's canonical-port registration).
const Port = 443

const (
	recordLimit = 4096
	idleTimeout = 60 * time.Second

	contentTypeHandshake = 22

	handshakeClientHello       = 1
	handshakeServerHello       = 2
	handshakeServerHelloDone   = 14

	extensionServerName = 0
)

type connKey struct {
	a, b flow.Addr
}

func normalize(k flow.Key) connKey {
	if k.Src.Port < k.Dst.Port {
		return connKey{k.Src, k.Dst}
	}
	return connKey{k.Dst, k.Src}
}

type conn struct {
	buf    *protocol.Buffer
	done   bool
	active bool

	clientVersion uint16
	serverVersion uint16
	cipherSuite   uint16
	serverName    string

	lastActivity time.Time
}

// Decoder implements protocol.Decoder for TLS handshakes over TCP.
type Decoder struct {
	dict  *customs.Dictionary
	conns map[connKey]*conn
}

// New constructs the TLS decoder, or nil if the dictionary lacks
// TLS_SERVER_NAME.
func New(dict *customs.Dictionary) *Decoder {
	if !dict.Has(customs.TLSServerName) {
		return nil
	}
	return &Decoder{dict: dict, conns: make(map[connKey]*conn)}
}

// Decode buffers one TCP segment's worth of TLS record data and extracts
// handshake parameters, stopping once ServerHelloDone is seen.
func (d *Decoder) Decode(f *flow.Flow, c *customs.Customs) bool {
	if !f.Transport.IsTCP() {
		return false
	}
	key := normalize(f.Key)
	syn := f.Transport.Flags&flow.FlagSYN != 0 && f.Transport.Flags&flow.FlagACK == 0
	fin := f.Transport.Flags&flow.FlagFIN != 0

	if syn {
		d.conns[key] = &conn{buf: protocol.NewBuffer(recordLimit), active: true, lastActivity: f.Timestamp}
		return false
	}

	cn, ok := d.conns[key]
	if !ok || !cn.active || cn.done {
		if ok && fin {
			delete(d.conns, key)
		}
		return false
	}
	cn.lastActivity = f.Timestamp

	if fin {
		delete(d.conns, key)
		return false
	}
	if len(f.Payload) == 0 {
		return false
	}

	if !cn.buf.Write(f.Payload) {
		// Grown past the bound without finishing the handshake: this
		// isn't TLS, or isn't one we can parse. Give up quietly.
		cn.done = true
		return false
	}

	parseRecords(cn)
	return false
}

func parseRecords(cn *conn) {
	data := cn.buf.Bytes()
	consumed := 0
	for {
		remaining := data[consumed:]
		if len(remaining) < 5 {
			break
		}
		contentType := remaining[0]
		version := binary.BigEndian.Uint16(remaining[1:3])
		length := int(binary.BigEndian.Uint16(remaining[3:5]))
		if len(remaining) < 5+length {
			break
		}
		body := remaining[5 : 5+length]
		consumed += 5 + length

		if contentType == contentTypeHandshake {
			if cn.clientVersion == 0 {
				cn.clientVersion = version
			}
			parseHandshake(cn, body)
		}
		if cn.done {
			break
		}
	}
	cn.buf.Discard(consumed)
}

func parseHandshake(cn *conn, body []byte) {
	off := 0
	for off+4 <= len(body) {
		msgType := body[off]
		msgLen := int(body[off+1])<<16 | int(body[off+2])<<8 | int(body[off+3])
		off += 4
		if off+msgLen > len(body) {
			return
		}
		msg := body[off : off+msgLen]
		off += msgLen

		switch msgType {
		case handshakeClientHello:
			parseClientHello(cn, msg)
		case handshakeServerHello:
			parseServerHello(cn, msg)
		case handshakeServerHelloDone:
			cn.done = true
			return
		}
	}
}

func parseClientHello(cn *conn, msg []byte) {
	if len(msg) < 2 {
		return
	}
	pos := 2 // version
	pos += 32 // random
	if pos >= len(msg) {
		return
	}
	sessionIDLen := int(msg[pos])
	pos += 1 + sessionIDLen
	if pos+2 > len(msg) {
		return
	}
	cipherSuitesLen := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2 + cipherSuitesLen
	if pos >= len(msg) {
		return
	}
	compLen := int(msg[pos])
	pos += 1 + compLen
	if pos+2 > len(msg) {
		return
	}
	extTotalLen := int(binary.BigEndian.Uint16(msg[pos : pos+2]))
	pos += 2
	if pos+extTotalLen > len(msg) {
		return
	}
	extensions := msg[pos : pos+extTotalLen]

	eoff := 0
	for eoff+4 <= len(extensions) {
		extType := binary.BigEndian.Uint16(extensions[eoff : eoff+2])
		extLen := int(binary.BigEndian.Uint16(extensions[eoff+2 : eoff+4]))
		eoff += 4
		if eoff+extLen > len(extensions) {
			return
		}
		extBody := extensions[eoff : eoff+extLen]
		eoff += extLen

		if extType == extensionServerName {
			cn.serverName = parseServerNameExtension(extBody)
		}
	}
}

func parseServerNameExtension(body []byte) string {
	if len(body) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(body[0:2]))
	pos := 2
	if pos+listLen > len(body) {
		return ""
	}
	for pos+3 <= 2+listLen {
		nameType := body[pos]
		nameLen := int(binary.BigEndian.Uint16(body[pos+1 : pos+3]))
		pos += 3
		if pos+nameLen > len(body) {
			return ""
		}
		if nameType == 0 {
			return string(body[pos : pos+nameLen])
		}
		pos += nameLen
	}
	return ""
}

func parseServerHello(cn *conn, msg []byte) {
	if len(msg) < 2 {
		return
	}
	cn.serverVersion = binary.BigEndian.Uint16(msg[0:2])
	pos := 2 + 32 // version + random
	if pos >= len(msg) {
		return
	}
	sessionIDLen := int(msg[pos])
	pos += 1 + sessionIDLen
	if pos+2 > len(msg) {
		return
	}
	cn.cipherSuite = binary.BigEndian.Uint16(msg[pos : pos+2])
}

// Append emits the handshake fields extracted so far. Further traffic on an
// already-parsed connection adds nothing new (spec §8 scenario 3).
func (d *Decoder) Append(key flow.Key, c *customs.Customs) {
	cn, ok := d.conns[normalize(key)]
	if !ok {
		return
	}
	if cn.serverName != "" {
		c.AppendStr(customs.TLSServerName, cn.serverName)
	}
	if cn.serverVersion != 0 {
		c.AppendU16(customs.TLSServerVersion, cn.serverVersion)
	}
	if cn.cipherSuite != 0 {
		c.AppendU16(customs.TLSCipherSuite, cn.cipherSuite)
	}
	if cn.serverName != "" || cn.serverVersion != 0 {
		c.AppendAppProtocolTag(customs.TagTLS)
	}
}

// Clear evicts connections idle for longer than idle.
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
