package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reality-mesh/internal/api"
	"reality-mesh/internal/mesh"
	"reality-mesh/internal/nodestore"
	"reality-mesh/internal/storage/memory"
	syncsvc "reality-mesh/internal/sync"
)

func newGinServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := syncsvc.New("server-A", nodestore.New(memory.New()), mesh.NewCoordinator("server-A", nil), nil)

	router := gin.New()
	router.Use(api.Logger("server-A"), api.Recovery(), api.CORS([]string{"*"}, false))
	api.NewHandler(svc).Register(router)
	return httptest.NewServer(router)
}

func TestGinHandlerUpdateThenVersions(t *testing.T) {
	srv := newGinServer(t)
	defer srv.Close()

	body, _ := json.Marshal(syncsvc.NodeUpdateRequest{Key: "posts", Hash: "abc"})
	resp, err := http.Post(srv.URL+"/update", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	versionsResp, err := http.Get(srv.URL + "/versions?since=0")
	require.NoError(t, err)
	defer versionsResp.Body.Close()

	var out syncsvc.VersionsResponse
	require.NoError(t, json.NewDecoder(versionsResp.Body).Decode(&out))
	require.Len(t, out.Changed, 1)
	assert.Equal(t, "posts", out.Changed[0].Key)
}

func TestGinHandlerInvalidSyncBodyIs400(t *testing.T) {
	srv := newGinServer(t)
	defer srv.Close()

	body, _ := json.Marshal(syncsvc.SyncRequest{Known: map[string]int64{"posts": 0}, ClientID: "not-a-uuid"})
	resp, err := http.Post(srv.URL+"/sync", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGinHandlerWrongMethodIs405WithEnvelope(t *testing.T) {
	srv := newGinServer(t)
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

func TestGinHandlerUnknownRouteIs404WithEnvelope(t *testing.T) {
	srv := newGinServer(t)
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

func TestGinHandlerPanicRecoversAs500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGinHandlerSyncRoundTrip(t *testing.T) {
	srv := newGinServer(t)
	defer srv.Close()

	updateBody, _ := json.Marshal(syncsvc.NodeUpdateRequest{Key: "comments", Hash: "h1"})
	_, err := http.Post(srv.URL+"/update", "application/json", bytes.NewReader(updateBody))
	require.NoError(t, err)

	syncBody, _ := json.Marshal(syncsvc.SyncRequest{
		Known:    map[string]int64{"comments": 0},
		ClientID: uuid.NewString(),
	})
	resp, err := http.Post(srv.URL+"/sync", "application/json", bytes.NewReader(syncBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out syncsvc.SyncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(1), out.Changed["comments"].Version)
	assert.Equal(t, "h1", out.Changed["comments"].Hash)
}
