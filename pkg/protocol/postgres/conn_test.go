package postgres

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(tag byte, body []byte) []byte {
	out := make([]byte, 5, 5+len(body))
	out[0] = tag
	binary.BigEndian.PutUint32(out[1:5], uint32(4+len(body)))
	return append(out, body...)
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func TestSimpleQueryRoundTrip(t *testing.T) {
	c := NewConnection()
	now := time.Now()

	fe := msg('Q', cstr("SELECT 1"))
	completed := c.FrontendMessage(now, fe)
	assert.Empty(t, completed)

	be := msg('Z', []byte{'I'})
	completed = c.BackendMessage(now.Add(5*time.Millisecond), be)
	require.Len(t, completed, 1)
	assert.Equal(t, "SELECT 1", completed[0].Query)
	assert.Equal(t, 5*time.Millisecond, completed[0].Duration)
}

func TestExtendedQueryProtocol(t *testing.T) {
	c := NewConnection()
	now := time.Now()

	parseBody := append(cstr("stmt1"), cstr("SELECT $1")...)
	parseBody = append(parseBody, 0, 0) // zero parameter types
	c.FrontendMessage(now, msg('P', parseBody))
	c.BackendMessage(now, msg('1', nil)) // ParseComplete

	bindBody := append(cstr("portal1"), cstr("stmt1")...)
	c.FrontendMessage(now, msg('B', bindBody))
	c.BackendMessage(now, msg('2', nil)) // BindComplete

	c.FrontendMessage(now, msg('E', cstr("portal1")))
	completed := c.BackendMessage(now.Add(3*time.Millisecond), msg('C', cstr("SELECT 1")))

	require.Len(t, completed, 1)
	assert.Equal(t, "SELECT $1", completed[0].Query)
	assert.Equal(t, 3*time.Millisecond, completed[0].Duration)
}

func TestQueryErrorProducesNoCompletion(t *testing.T) {
	c := NewConnection()
	now := time.Now()
	c.FrontendMessage(now, msg('Q', cstr("SELECT bogus")))
	completed := c.BackendMessage(now, msg('E', []byte("some error")))
	assert.Empty(t, completed)
}
