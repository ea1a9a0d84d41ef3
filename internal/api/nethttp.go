package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"reality-mesh/internal/apierr"
	syncsvc "reality-mesh/internal/sync"
	"reality-mesh/internal/transport"
)

// RawServer is a second HTTP surface for the same Service, built
// directly on net/http.ServeMux instead of Gin — grounded on the
// Chinzzii leader-replication-go example's Routes()/respondJSON shape —
// so the protocol logic in internal/sync is demonstrably framework-
// agnostic rather than accidentally coupled to Gin. Like the Gin
// adapter, it translates to/from internal/transport's Request/Response
// at the edge and delegates routing to Handler.Dispatch.
type RawServer struct {
	Handler *Handler
	Origins []string
}

// NewRawServer constructs a RawServer.
func NewRawServer(svc *syncsvc.Service, origins []string) *RawServer {
	return &RawServer{Handler: NewHandler(svc), Origins: origins}
}

// Routes builds the dispatch table: any unmatched path returns 404,
// unmatched method on a known path returns 405, exactly as spec.md
// §4.5 requires. The "/" pattern is ServeMux's catch-all for any path
// that doesn't match a more specific registration, so it stands in for
// http.NotFoundHandler — which would otherwise write a plain-text body
// instead of the {"error": "..."} envelope every other error path uses.
func (s *RawServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.withMethod(http.MethodPost, s.handleDispatch))
	mux.HandleFunc("/invalidate", s.withMethod(http.MethodPost, s.handleDispatch))
	mux.HandleFunc("/update", s.withMethod(http.MethodPost, s.handleDispatch))
	mux.HandleFunc("/versions", s.withMethod(http.MethodGet, s.handleDispatch))
	mux.HandleFunc("/health", s.withMethod(http.MethodGet, s.handleDispatch))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, apierr.NotFound("route not found"))
	})
	return s.withCORS(mux)
}

// withMethod enforces the single allowed method for a route. OPTIONS
// never reaches here: withCORS answers every preflight before the mux
// dispatches by path.
func (s *RawServer) withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			respondError(w, apierr.MethodNotAllowed("method not allowed"))
			return
		}
		next(w, r)
	}
}

func (s *RawServer) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.Origins))
	wildcard := false
	for _, o := range s.Origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Reality-Server, X-Reality-Gossip")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Tag every request with a request id for log correlation, the
		// same idiom the Chinzzii example uses around its broadcast
		// replication calls.
		r = r.WithContext(withRequestID(r.Context(), uuid.NewString()))
		next.ServeHTTP(w, r)
	})
}

// handleDispatch translates r into a transport.Request, delegates to
// Handler.Dispatch, and writes the resulting transport.Response back
// through net/http.
func (s *RawServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromHTTP(r)
	if err != nil {
		respondError(w, apierr.Validation("malformed request body"))
		return
	}

	resp := s.Handler.Dispatch(r.Context(), req)
	respondTransport(w, resp)
}

func requestFromHTTP(r *http.Request) (transport.Request, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return transport.Request{}, err
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	return transport.Request{
		Method:  r.Method,
		URL:     r.URL.Path,
		Headers: headers,
		Body:    body,
		Params:  map[string]string{},
		Query:   query,
	}, nil
}

func respondTransport(w http.ResponseWriter, resp transport.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.Status == http.StatusNoContent {
		w.WriteHeader(resp.Status)
		return
	}
	respondJSON(w, resp.Status, resp.Body)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, apierr.Status(err), apierr.Body(err))
}

type requestIDKey struct{}

// withRequestID stashes a per-request correlation id in ctx, retrievable
// with RequestID(ctx) from deep inside Service calls for logging.
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stashed by withRequestID, or "" if
// none is present (e.g. requests served through the Gin adapter, which
// doesn't set one).
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
