// Package api is the HTTP surface of spec.md §4.5: route dispatch, CORS,
// and response framing on top of internal/sync's transport-agnostic
// Service. Handler mirrors the teacher's api.Handler/Register split —
// a struct holding the service plus a Register method that wires routes
// onto a *gin.Engine — generalized from the teacher's Put/Get/Delete/
// cluster routes to the sync/invalidate/update/versions/health protocol.
//
// handler.go holds the Gin adapter; nethttp.go holds a second, raw
// net/http.Handler adapter exercising the same Service, grounded on the
// Chinzzii leader-replication-go example's ServeMux-based Routes(). Both
// adapters translate their native request/response types to/from
// internal/transport's framework-agnostic Request/Response at the edge
// and delegate the actual routing to Handler.Dispatch (dispatch.go), so
// the protocol logic itself never touches Gin or net/http directly.
package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"reality-mesh/internal/apierr"
	syncsvc "reality-mesh/internal/sync"
	"reality-mesh/internal/transport"
)

// Handler binds a *syncsvc.Service to HTTP.
type Handler struct {
	Service *syncsvc.Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *syncsvc.Service) *Handler {
	return &Handler{Service: svc}
}

// Register mounts every route from spec.md §4.4 onto r at the engine
// root; no base path prefix is applied, here or in cmd/realityd.
//
// HandleMethodNotAllowed defaults to false in Gin, which would let a
// wrong-method request against a registered path (e.g. GET /sync) fall
// through to the default 404 instead of the 405 spec.md §4.5 requires;
// NoRoute/NoMethod are wired to the same {"error": "..."} envelope
// every other error path uses, instead of Gin's plain-text defaults.
func (h *Handler) Register(r *gin.Engine) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) { writeError(c, apierr.MethodNotAllowed("method not allowed")) })
	r.NoRoute(func(c *gin.Context) { writeError(c, apierr.NotFound("route not found")) })

	r.POST("/sync", h.handleDispatch)
	r.POST("/invalidate", h.handleDispatch)
	r.POST("/update", h.handleDispatch)
	r.GET("/versions", h.handleDispatch)
	r.GET("/health", h.handleDispatch)
}

// handleDispatch translates c into a transport.Request, delegates to
// Handler.Dispatch, and writes the resulting transport.Response back
// through Gin.
func (h *Handler) handleDispatch(c *gin.Context) {
	req, err := requestFromGin(c)
	if err != nil {
		writeError(c, apierr.Validation("malformed request body"))
		return
	}

	resp := h.Dispatch(c.Request.Context(), req)
	writeGinResponse(c, resp)
}

func requestFromGin(c *gin.Context) (transport.Request, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return transport.Request{}, err
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}
	query := make(map[string]string, len(c.Request.URL.Query()))
	for k := range c.Request.URL.Query() {
		query[k] = c.Request.URL.Query().Get(k)
	}

	return transport.Request{
		Method:  c.Request.Method,
		URL:     c.Request.URL.Path,
		Headers: headers,
		Body:    body,
		Params:  map[string]string{},
		Query:   query,
	}, nil
}

func writeGinResponse(c *gin.Context, resp transport.Response) {
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	if resp.Status == http.StatusNoContent {
		c.Status(resp.Status)
		return
	}
	c.JSON(resp.Status, resp.Body)
}

func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apierr.Status(err), apierr.Body(err))
}
