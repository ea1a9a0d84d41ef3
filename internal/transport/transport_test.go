package transport_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"reality-mesh/internal/transport"
)

func TestJSONBuildsOKResponse(t *testing.T) {
	resp := transport.JSON(map[string]string{"ok": "yes"})
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, map[string]string{"ok": "yes"}, resp.Body)
}

func TestJSONStatusUsesGivenStatus(t *testing.T) {
	resp := transport.JSONStatus(http.StatusNotFound, map[string]string{"error": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestNoContentHasNoBody(t *testing.T) {
	resp := transport.NoContent()
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Nil(t, resp.Body)
}

func TestWithHeaderDoesNotMutateOriginal(t *testing.T) {
	base := transport.JSON(nil)
	withHeader := base.WithHeader("X-Reality-Server", "server-A")

	assert.Empty(t, base.Headers["X-Reality-Server"])
	assert.Equal(t, "server-A", withHeader.Headers["X-Reality-Server"])
}

func TestRequestHeaderLooksUpByName(t *testing.T) {
	req := transport.Request{Headers: map[string]string{"X-Reality-Gossip": `{"serverId":"a"}`}}
	assert.Equal(t, `{"serverId":"a"}`, req.Header("X-Reality-Gossip"))
	assert.Equal(t, "", req.Header("Missing"))
}
