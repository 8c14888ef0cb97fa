package customs

import (
	"net/netip"
	"time"
)

// Kind tags the typed union held by an Entry.
type Kind uint8

const (
	KindStr Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindInet
)

// Entry is one typed key/value slot in a Customs export vector. Only the
// field matching Kind is meaningful.
type Entry struct {
	ID   ID
	Kind Kind
	Str  string
	U64  uint64
	I64  int64
	F32  float32
	F64  float64
	// Inet is a tagged 17-byte blob: Inet[0] is 4 or 6, the remaining 16
	// bytes hold the address (left-aligned for IPv4).
	Inet [17]byte
}

const (
	minLatency = time.Millisecond
	maxLatency = 20 * time.Second
)

// Customs is the single-owner, per-flow scratch vector protocol decoders
// and the connection tracker append typed fields to. It MUST be emptied via
// Clear before every decode() and export() call (spec §3 invariants).
type Customs struct {
	dict    *Dictionary
	entries []Entry
}

// NewCustoms creates a Customs scratch vector bound to dict.
func NewCustoms(dict *Dictionary) *Customs {
	return &Customs{dict: dict}
}

// Clear empties the scratch vector without releasing its backing array.
func (c *Customs) Clear() { c.entries = c.entries[:0] }

// Entries returns the appended entries since the last Clear.
func (c *Customs) Entries() []Entry { return c.entries }

// Dictionary returns the bound Dictionary, so decoders can check
// availability of optional fields before doing expensive parsing.
func (c *Customs) Dictionary() *Dictionary { return c.dict }

func (c *Customs) resolve(name string) (ID, bool) {
	id, err := c.dict.Get(name)
	return id, err == nil
}

// AppendStr appends a string-valued field, a no-op if name isn't resolvable.
func (c *Customs) AppendStr(name, v string) {
	if id, ok := c.resolve(name); ok {
		c.entries = append(c.entries, Entry{ID: id, Kind: KindStr, Str: v})
	}
}

func (c *Customs) AppendU8(name string, v uint8)   { c.appendUint(name, KindU8, uint64(v)) }
func (c *Customs) AppendU16(name string, v uint16) { c.appendUint(name, KindU16, uint64(v)) }
func (c *Customs) AppendU32(name string, v uint32) { c.appendUint(name, KindU32, uint64(v)) }
func (c *Customs) AppendU64(name string, v uint64) { c.appendUint(name, KindU64, v) }

func (c *Customs) AppendI8(name string, v int8)   { c.appendInt(name, KindI8, int64(v)) }
func (c *Customs) AppendI16(name string, v int16) { c.appendInt(name, KindI16, int64(v)) }
func (c *Customs) AppendI32(name string, v int32) { c.appendInt(name, KindI32, int64(v)) }
func (c *Customs) AppendI64(name string, v int64) { c.appendInt(name, KindI64, v) }

func (c *Customs) AppendF32(name string, v float32) {
	if id, ok := c.resolve(name); ok {
		c.entries = append(c.entries, Entry{ID: id, Kind: KindF32, F32: v})
	}
}

func (c *Customs) AppendF64(name string, v float64) {
	if id, ok := c.resolve(name); ok {
		c.entries = append(c.entries, Entry{ID: id, Kind: KindF64, F64: v})
	}
}

func (c *Customs) appendUint(name string, k Kind, v uint64) {
	if id, ok := c.resolve(name); ok {
		c.entries = append(c.entries, Entry{ID: id, Kind: k, U64: v})
	}
}

func (c *Customs) appendInt(name string, k Kind, v int64) {
	if id, ok := c.resolve(name); ok {
		c.entries = append(c.entries, Entry{ID: id, Kind: k, I64: v})
	}
}

// AppendAddr appends an IPv4 or IPv6 address as a tagged 17-byte blob.
func (c *Customs) AppendAddr(name string, addr netip.Addr) {
	id, ok := c.resolve(name)
	if !ok {
		return
	}
	var blob [17]byte
	if addr.Is4() {
		blob[0] = 4
		b := addr.As4()
		copy(blob[1:5], b[:])
	} else {
		blob[0] = 6
		b := addr.As16()
		copy(blob[1:], b[:])
	}
	c.entries = append(c.entries, Entry{ID: id, Kind: KindInet, Inet: blob})
}

// AppendLatency appends a duration-valued field in milliseconds, clamped to
// [1ms, 20s] per original_source/src/custom.rs's add_latency.
func (c *Customs) AppendLatency(name string, d time.Duration) {
	if d < minLatency {
		d = minLatency
	} else if d > maxLatency {
		d = maxLatency
	}
	c.AppendU32(name, uint32(d.Milliseconds()))
}

// AppendAppProtocolTag appends the APP_PROTOCOL discriminator used by
// alias-mode dictionaries to disambiguate which decoder populated the
// shared generic slots.
func (c *Customs) AppendAppProtocolTag(tag uint8) {
	c.AppendU8(AppProtocol, tag)
}
