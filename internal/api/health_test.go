package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleHealthzReportsOkAndUptime(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.True(t, body.CatalogueLoaded)
	require.GreaterOrEqual(t, body.UptimeSeconds, 0.0)
}
