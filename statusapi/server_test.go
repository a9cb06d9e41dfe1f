package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littledino2112/universal-clipboard/clipboard"
	"github.com/littledino2112/universal-clipboard/controller"
	"github.com/littledino2112/universal-clipboard/crypto"
	"github.com/littledino2112/universal-clipboard/session"
	"github.com/littledino2112/universal-clipboard/store"
)

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return controller.New(identity, "test-device", clipboard.NewMemoryClipboard(), st, &session.Bus{})
}

func TestHealthzReportsDisconnectedByDefault(t *testing.T) {
	ctrl := newTestController(t)
	bus := &session.Bus{}
	metrics := NewMetrics()
	srv := New(ctrl, metrics, bus)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "Disconnected", body.ConnectionState)
	assert.NotEmpty(t, body.InstanceID)
}

func TestMetricsEndpointExposesRegisteredCollectors(t *testing.T) {
	ctrl := newTestController(t)
	bus := &session.Bus{}
	metrics := NewMetrics()
	metrics.BytesSent.Add(42)
	srv := New(ctrl, metrics, bus)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uclip_bytes_sent_total")
}
