// Package postgres is the shadow Postgres decoder (spec §4.4 "Postgres
// decoder (shadow)"): a frontend/backend message-stream parser that
// extracts completed SQL statements with duration. Ported from
// original_source/src/protocol/postgres/{conn,decode}.rs. It is retained as
// a reference implementation of the extended-query-protocol correlation
// pattern (statement/portal maps, a pending-command queue matched against
// backend acknowledgements) but, matching the original, is never wired into
// the export path -- New always returns nil. See DESIGN.md.
package postgres

import (
	"time"
)

// CompletedQuery is one SQL statement observed to completion, with its
// round-trip duration.
type CompletedQuery struct {
	Query    string
	Duration time.Duration
}

type command struct {
	kind      messageKind // kindQuery, kindParse, kindBind, or kindExecute
	query     string
	statement string
	portal    string
	start     time.Time
}

// Connection tracks one (frontend, backend) byte stream pair's in-flight
// statements, prepared statements, and bound portals.
type Connection struct {
	bufFE, bufBE []byte

	statements map[string]string // name -> query
	portals    map[string]string // name -> statement name
	executing  []command
}

// NewConnection creates an empty per-connection state machine.
func NewConnection() *Connection {
	return &Connection{
		statements: make(map[string]string),
		portals:    make(map[string]string),
	}
}

// FrontendMessage folds bytes observed on the client->server direction and
// returns any statements that completed as a result.
func (c *Connection) FrontendMessage(ts time.Time, data []byte) []CompletedQuery {
	c.bufFE = append(c.bufFE, data...)
	msgs, consumed := readMessages(c.bufFE, false)
	c.bufFE = append(c.bufFE[:0], c.bufFE[consumed:]...)

	var out []CompletedQuery
	for _, m := range msgs {
		if cq := c.next(ts, m); cq != nil {
			out = append(out, *cq)
		}
	}
	return out
}

// BackendMessage folds bytes observed on the server->client direction.
func (c *Connection) BackendMessage(ts time.Time, data []byte) []CompletedQuery {
	c.bufBE = append(c.bufBE, data...)
	msgs, consumed := readMessages(c.bufBE, true)
	c.bufBE = append(c.bufBE[:0], c.bufBE[consumed:]...)

	var out []CompletedQuery
	for _, m := range msgs {
		if cq := c.next(ts, m); cq != nil {
			out = append(out, *cq)
		}
	}
	return out
}

func (c *Connection) next(ts time.Time, m message) *CompletedQuery {
	switch m.kind {
	case kindQuery:
		c.executing = append(c.executing, command{kind: kindQuery, query: m.query, start: ts})
		return nil
	case kindParse:
		c.executing = append(c.executing, command{kind: kindParse, statement: m.statement, query: m.query})
		return nil
	case kindBind:
		c.executing = append(c.executing, command{kind: kindBind, portal: m.portal, statement: m.statement})
		return nil
	case kindExecute:
		c.executing = append(c.executing, command{kind: kindExecute, portal: m.portal, start: ts})
		return nil
	case kindClose:
		switch m.what {
		case 'S':
			delete(c.statements, m.name)
		case 'P':
			delete(c.portals, m.name)
		}
		return nil
	case kindReadyForQuery, kindParseComplete, kindBindComplete, kindCommandComplete, kindErrorResponse, kindEmptyQuery:
		return c.resolve(ts, m)
	default:
		return nil
	}
}

func (c *Connection) resolve(ts time.Time, m message) *CompletedQuery {
	if len(c.executing) == 0 {
		return nil
	}
	pending := c.executing[0]
	c.executing = c.executing[1:]

	switch {
	case pending.kind == kindQuery && m.kind == kindReadyForQuery:
		return &CompletedQuery{Query: pending.query, Duration: ts.Sub(pending.start)}
	case pending.kind == kindQuery && m.kind == kindCommandComplete:
		c.executing = append([]command{pending}, c.executing...)
		return nil
	case pending.kind == kindQuery && m.kind == kindErrorResponse:
		return nil
	case pending.kind == kindParse && m.kind == kindParseComplete:
		c.statements[pending.statement] = pending.query
		return nil
	case pending.kind == kindParse && m.kind == kindErrorResponse:
		return nil
	case pending.kind == kindBind && m.kind == kindBindComplete:
		c.portals[pending.portal] = pending.statement
		return nil
	case pending.kind == kindBind && m.kind == kindErrorResponse:
		return nil
	case pending.kind == kindExecute && (m.kind == kindCommandComplete || m.kind == kindEmptyQuery):
		statement, ok := c.portals[pending.portal]
		if !ok {
			return nil
		}
		query, ok := c.statements[statement]
		if !ok {
			return nil
		}
		return &CompletedQuery{Query: query, Duration: ts.Sub(pending.start)}
	case pending.kind == kindExecute && m.kind == kindErrorResponse:
		return nil
	default:
		// Not the ack this pending command was waiting for: put it back
		// and wait for the next backend message.
		c.executing = append([]command{pending}, c.executing...)
		return nil
	}
}

