package status_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtap/flowtap/pkg/status"
)

// The metrics middleware registers its collectors with the process-global
// prometheus registerer exactly once, so both endpoints are exercised
// against a single shared Server rather than one constructed per test.
var testServer = status.New("127.0.0.1:0", true, func() status.Snapshot {
	return status.Snapshot{FlowTableEntries: 7, TrackedConnections: 2, ReassemblyBuffers: 1, ExportedFlows: 42}
})

func TestStatusEndpointReportsSnapshot(t *testing.T) {
	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	testServer.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var got status.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 7, got.FlowTableEntries)
	assert.EqualValues(t, 42, got.ExportedFlows)
}

func TestMetricsEndpointExposesGauges(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	testServer.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowtap_flow_table_entries 7")
}
