package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reality-mesh/internal/api"
	"reality-mesh/internal/mesh"
	"reality-mesh/internal/nodestore"
	"reality-mesh/internal/storage/memory"
	syncsvc "reality-mesh/internal/sync"
)

func newRawServer(t *testing.T, origins []string) *httptest.Server {
	t.Helper()
	svc := syncsvc.New("server-A", nodestore.New(memory.New()), mesh.NewCoordinator("server-A", nil), nil)
	return httptest.NewServer(api.NewRawServer(svc, origins).Routes())
}

func TestRawServerUpdateThenSync(t *testing.T) {
	srv := newRawServer(t, []string{"*"})
	defer srv.Close()

	updateBody, _ := json.Marshal(syncsvc.NodeUpdateRequest{Key: "posts", Hash: "abc"})
	resp, err := http.Post(srv.URL+"/update", "application/json", bytes.NewReader(updateBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updateResp syncsvc.NodeUpdateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updateResp))
	assert.EqualValues(t, 1, updateResp.Version)
	assert.NotEmpty(t, resp.Header.Get("X-Reality-Server"))
	assert.NotEmpty(t, resp.Header.Get("X-Reality-Gossip"))

	syncBody, _ := json.Marshal(syncsvc.SyncRequest{Known: map[string]int64{"posts": 0}, ClientID: uuid.NewString()})
	syncResp, err := http.Post(srv.URL+"/sync", "application/json", bytes.NewReader(syncBody))
	require.NoError(t, err)
	defer syncResp.Body.Close()

	var out syncsvc.SyncResponse
	require.NoError(t, json.NewDecoder(syncResp.Body).Decode(&out))
	assert.Equal(t, int64(1), out.Changed["posts"].Version)
}

func TestRawServerUnknownPathIs404(t *testing.T) {
	srv := newRawServer(t, []string{"*"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Error)
}

func TestRawServerWrongMethodIs405(t *testing.T) {
	srv := newRawServer(t, []string{"*"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	var envelope struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Error)
}

func TestRawServerOptionsPreflightIsNoContent(t *testing.T) {
	srv := newRawServer(t, []string{"https://app.example.com"})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/sync", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRawServerRejectsDisallowedOrigin(t *testing.T) {
	srv := newRawServer(t, []string{"https://app.example.com"})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRawServerInvalidateReturns400OnEmptyKeys(t *testing.T) {
	srv := newRawServer(t, []string{"*"})
	defer srv.Close()

	body, _ := json.Marshal(syncsvc.InvalidationRequest{Keys: nil})
	resp, err := http.Post(srv.URL+"/invalidate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRawServerHealthReportsStatus(t *testing.T) {
	srv := newRawServer(t, []string{"*"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health syncsvc.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, syncsvc.StatusHealthy, health.Status)
	assert.Equal(t, "server-A", health.ServerID)
}
