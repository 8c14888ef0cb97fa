package flow

// TCPFlags mirrors the 6 "classic" TCP control bits as a bitmask, suitable
// for OR-accumulation across a Counter's export window.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Window carries the raw advertised TCP window and the scale factor
// captured from the SYN's WSCALE option (0 if the option was absent or this
// is not a SYN).
type Window struct {
	Size  uint16
	Scale uint8
}

// Effective returns the scaled receive window in bytes.
func (w Window) Effective() uint32 {
	return uint32(w.Size) << w.Scale
}

// TransportKind tags the union held by Transport.
type TransportKind uint8

const (
	TransportOther TransportKind = iota
	TransportICMP
	TransportTCP
	TransportUDP
)

// Transport is the tagged union of L4 headers the decoder understands.
// Only the fields relevant to Kind are populated.
type Transport struct {
	Kind   TransportKind
	Seq    uint32
	Ack    uint32
	Flags  TCPFlags
	Window Window
}

func (t Transport) IsTCP() bool { return t.Kind == TransportTCP }
func (t Transport) IsUDP() bool { return t.Kind == TransportUDP }
