package postgres

import (
	"bytes"
	"encoding/binary"
)

// messageKind tags a parsed frontend/backend wire message. Only the kinds
// the correlation state machine (conn.go) cares about are distinguished;
// everything else collapses into kindOther.
type messageKind byte

const (
	kindOther messageKind = 0

	// frontend
	kindQuery   messageKind = 'Q'
	kindParse   messageKind = 'P'
	kindBind    messageKind = 'B'
	kindExecute messageKind = 'E'
	kindClose   messageKind = 'C'
	kindSync    messageKind = 'S'
	kindFlush   messageKind = 'H'

	// backend
	kindParseComplete  messageKind = '1'
	kindBindComplete   messageKind = '2'
	kindCommandComplete messageKind = 'c' // remapped, see below
	kindReadyForQuery  messageKind = 'Z'
	kindErrorResponse  messageKind = 'e' // remapped, see below
	kindEmptyQuery     messageKind = 'I'
)

// message is one decoded frontend or backend protocol message.
type message struct {
	kind messageKind

	// Query/Parse
	statement string
	query     string

	// Bind/Execute/Close
	portal string
	what   byte
	name   string
}

// readMessages splits buf into complete (tag, length-prefixed) messages,
// returning the parsed messages and the number of leading bytes consumed;
// the caller keeps the remainder for the next call (Postgres's simple
// message framing: 1-byte tag + int32 length, length counts itself but not
// the tag).
func readMessages(buf []byte, backend bool) ([]message, int) {
	var msgs []message
	pos := 0
	for pos+5 <= len(buf) {
		tag := buf[pos]
		length := int(binary.BigEndian.Uint32(buf[pos+1 : pos+5]))
		if length < 4 || pos+1+length > len(buf) {
			break
		}
		body := buf[pos+5 : pos+1+length]
		msgs = append(msgs, parseMessage(tag, body, backend))
		pos += 1 + length
	}
	return msgs, pos
}

func cString(b []byte) (string, []byte) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i]), b[i+1:]
	}
	return string(b), nil
}

func parseMessage(tag byte, body []byte, backend bool) message {
	if !backend {
		switch tag {
		case 'Q':
			q, _ := cString(body)
			return message{kind: kindQuery, query: q}
		case 'P':
			stmt, rest := cString(body)
			q, _ := cString(rest)
			return message{kind: kindParse, statement: stmt, query: q}
		case 'B':
			portal, rest := cString(body)
			stmt, _ := cString(rest)
			return message{kind: kindBind, portal: portal, statement: stmt}
		case 'E':
			portal, _ := cString(body)
			return message{kind: kindExecute, portal: portal}
		case 'C':
			if len(body) < 1 {
				return message{kind: kindOther}
			}
			name, _ := cString(body[1:])
			return message{kind: kindClose, what: body[0], name: name}
		case 'S':
			return message{kind: kindSync}
		case 'H':
			return message{kind: kindFlush}
		}
		return message{kind: kindOther}
	}

	switch tag {
	case '1':
		return message{kind: kindParseComplete}
	case '2':
		return message{kind: kindBindComplete}
	case 'C':
		return message{kind: kindCommandComplete}
	case 'Z':
		return message{kind: kindReadyForQuery}
	case 'E':
		return message{kind: kindErrorResponse}
	case 'I':
		return message{kind: kindEmptyQuery}
	}
	return message{kind: kindOther}
}
