// Package http implements the HTTP decoder (spec §4.4 "HTTP decoder"): a
// per-connection half-duplex request/response parser correlated by a FIFO
// of pending requests.
//
// Wire parsing uses net/http's ReadRequest/ReadResponse: no example repo in
// the retrieval pack ships an HTTP/1.1 wire-format parser distinct from the
// standard library's (the pack's HTTP usage is all client/server framework
// code, not raw message parsing), so this is the one place flowtap leans on
// net/http directly rather than a pack dependency -- see DESIGN.md.
package http

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/protocol"
)

const (
	idleTimeout = 60 * time.Second
	bufferLimit = 16 * 1024
)

// Port is the canonical TCP port the Classifier registers an HTTP decoder
// against; --http-port adds further ports on top of it (spec §6).
const Port = 80

type connKey struct {
	a, b flow.Addr
}

func normalize(k flow.Key) connKey {
	if k.Src.Port < k.Dst.Port || (k.Src.Port == k.Dst.Port && k.Src.IP.Less(k.Dst.IP)) {
		return connKey{k.Src, k.Dst}
	}
	return connKey{k.Dst, k.Src}
}

type pendingRequest struct {
	ts      time.Time
	url     string
	host    string
	referer string
	ua      string
}

type conn struct {
	hasServerPort bool
	serverPort    uint16

	reqBuf  *protocol.Buffer
	respBuf *protocol.Buffer
	reqTS   time.Time

	pending []pendingRequest

	lastActivity time.Time
}

// Decoder implements protocol.Decoder for HTTP/1.1 over TCP.
type Decoder struct {
	dict  *customs.Dictionary
	conns map[connKey]*conn
}

// New constructs the HTTP decoder, or nil if the dictionary can't resolve
// HTTP_URL or HTTP_STATUS.
func New(dict *customs.Dictionary) *Decoder {
	if !dict.Has(customs.HTTPURL, customs.HTTPStatus) {
		return nil
	}
	return &Decoder{dict: dict, conns: make(map[connKey]*conn)}
}

// Decode folds one TCP segment of an HTTP connection into the appropriate
// half-duplex parser. Returns true once a request/response pair completes.
func (d *Decoder) Decode(f *flow.Flow, c *customs.Customs) bool {
	if !f.Transport.IsTCP() {
		return false
	}

	key := normalize(f.Key)
	syn := f.Transport.Flags&flow.FlagSYN != 0 && f.Transport.Flags&flow.FlagACK == 0
	fin := f.Transport.Flags&flow.FlagFIN != 0

	if syn {
		d.conns[key] = &conn{
			hasServerPort: true,
			serverPort:    f.Key.Dst.Port,
			reqBuf:        protocol.NewBuffer(bufferLimit),
			respBuf:       protocol.NewBuffer(bufferLimit),
			lastActivity:  f.Timestamp,
		}
		return false
	}

	cn, ok := d.conns[key]
	if !ok || !cn.hasServerPort {
		// SYN was missed (probe started mid-connection): skip this
		// connection entirely rather than guess direction (spec §9).
		return false
	}
	cn.lastActivity = f.Timestamp

	isResponse := f.Key.Src.Port == cn.serverPort
	buf := cn.reqBuf
	if isResponse {
		buf = cn.respBuf
	}

	if !isResponse && buf.Len() == 0 && len(f.Payload) > 0 {
		cn.reqTS = f.Timestamp
	}

	if len(f.Payload) > 0 && !buf.Write(f.Payload) {
		buf.Reset()
		cn.pending = cn.pending[:0]
		return false
	}

	if buf.Len() == 0 && !fin {
		return false
	}

	if isResponse {
		return d.tryResponse(cn, buf, f.Timestamp, fin, c)
	}
	return d.tryRequest(cn, buf)
}

func (d *Decoder) tryRequest(cn *conn, buf *protocol.Buffer) bool {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf.Bytes())))
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return false // parse-partial: wait for more bytes
		}
		buf.Reset()
		cn.pending = cn.pending[:0]
		return false
	}

	cn.pending = append(cn.pending, pendingRequest{
		ts:      cn.reqTS,
		url:     req.URL.String(),
		host:    firstHeader(req.Header, "Host", req.Host),
		referer: firstHeader(req.Header, "Referer", ""),
		ua:      firstHeader(req.Header, "User-Agent", ""),
	})
	buf.Reset()
	return false
}

func (d *Decoder) tryResponse(cn *conn, buf *protocol.Buffer, ts time.Time, fin bool, c *customs.Customs) bool {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(buf.Bytes())), nil)
	if err != nil {
		if !fin && (err == io.ErrUnexpectedEOF || err == io.EOF) {
			return false // parse-partial
		}
		if !fin {
			buf.Reset()
			cn.pending = cn.pending[:0]
			return false
		}
		// FIN with no further bytes coming: the body was delimited by
		// connection close rather than Content-Length, which is exactly
		// the unexpected-EOF case net/http reports. Treat what we have
		// as complete (spec §4.4 "final decode attempt with empty
		// payload to flush a response implicitly delimited by close").
		if err != io.ErrUnexpectedEOF {
			buf.Reset()
			return false
		}
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}()

	if len(cn.pending) == 0 {
		buf.Reset()
		return false
	}
	pr := cn.pending[0]
	cn.pending = cn.pending[1:]
	buf.Reset()

	c.AppendStr(customs.HTTPURL, pr.url)
	c.AppendStr(customs.HTTPHost, pr.host)
	c.AppendStr(customs.HTTPReferer, pr.referer)
	c.AppendStr(customs.HTTPUA, pr.ua)
	if resp != nil {
		c.AppendU16(customs.HTTPStatus, uint16(resp.StatusCode))
	}
	c.AppendLatency(customs.AppLatency, ts.Sub(pr.ts))
	c.AppendAppProtocolTag(customs.TagHTTP)
	return true
}

func firstHeader(h map[string][]string, key, fallback string) string {
	if vs, ok := h[http.CanonicalHeaderKey(key)]; ok && len(vs) > 0 {
		return vs[0]
	}
	return fallback
}

// Append is a no-op: every HTTP field is emitted at Decode time.
func (d *Decoder) Append(flow.Key, *customs.Customs) {}

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

