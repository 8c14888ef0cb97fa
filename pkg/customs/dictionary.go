// Package customs implements the Custom Dictionary (spec §4.6): a stable
// name→id binding supplied by the sink at startup, and the per-export
// scratch `Customs` vector that protocol decoders and the tracker append
// typed values to.
package customs

import "fmt"

// ID is the numeric column id the sink assigns to a custom field name.
type ID uint32

// aliasTable remaps logical field names onto a small set of generic,
// protocol-shared slots when the sink advertises the APP_PROTOCOL sentinel
// (spec §4.6). Slots are reused across decoders since at most one
// application decoder is ever active for a given flow.
var aliasTable = map[string]string{
	DNSQueryName:  "STR00",
	HTTPURL:       "STR00",
	TLSServerName: "STR00",
	DHCPHostname:  "STR00",
	RadiusUserName: "STR00",

	HTTPHost:   "STR01",
	DHCPDomain: "STR01",

	HTTPReferer: "STR02",
	HTTPUA:      "STR03",
	DNSReplyData: "STR04",
	DHCPCHAddr:   "STR05",

	DNSQueryType:     "INT00",
	HTTPStatus:       "INT00",
	TLSServerVersion: "INT00",
	DHCPMsgType:      "INT00",
	RadiusCode:       "INT00",

	DNSReplyCode:      "INT01",
	TLSCipherSuite:    "INT01",
	DHCPLease:         "INT01",
	RadiusServiceType: "INT01",

	DHCPOp:            "INT02",
	RadiusFramedProto: "INT02",

	RadiusAcctStatus: "INT03",

	DHCPCIAddr:         "INET_00",
	RadiusFramedIPAddr: "INET_00",
	DHCPYIAddr:         "INET_01",
	RadiusFramedIPMask: "INET_01",
	DHCPSIAddr:         "INET_02",
}

// Dictionary resolves a stable field name to the numeric id the sink wants
// it tagged with, optionally through the APP_PROTOCOL alias table.
type Dictionary struct {
	ids       map[string]ID
	aliasMode bool
}

// New builds a Dictionary from the (name, id) pairs returned by the sink's
// configure() call. If the sink advertised the AppProtocol sentinel field,
// the Dictionary switches into alias mode.
func New(sinkFields map[string]ID) *Dictionary {
	_, alias := sinkFields[AppProtocol]
	return &Dictionary{ids: sinkFields, aliasMode: alias}
}

// Get resolves name to its sink-assigned id. Returns an error if the field
// (or, in alias mode, its backing slot) is absent -- callers use this to
// silently disable decoders lacking required fields (spec §4.4/§4.6). In
// alias mode APP_PROTOCOL itself resolves to the sentinel's own id.
func (d *Dictionary) Get(name string) (ID, error) {
	lookup := name
	if d.aliasMode && name != AppProtocol {
		slot, ok := aliasTable[name]
		if !ok {
			return 0, fmt.Errorf("customs: field %q has no alias slot", name)
		}
		lookup = slot
	}
	id, ok := d.ids[lookup]
	if !ok {
		return 0, fmt.Errorf("customs: field %q not provided by sink", name)
	}
	return id, nil
}

// Has reports whether every one of the given field names can be resolved,
// used by decoders to decide whether to activate at all.
func (d *Dictionary) Has(names ...string) bool {
	for _, n := range names {
		if _, err := d.Get(n); err != nil {
			return false
		}
	}
	return true
}

// AliasMode reports whether the dictionary is operating in APP_PROTOCOL
// sentinel mode.
func (d *Dictionary) AliasMode() bool { return d.aliasMode }
