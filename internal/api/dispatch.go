package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"reality-mesh/internal/apierr"
	syncsvc "reality-mesh/internal/sync"
	"reality-mesh/internal/transport"
)

// validate runs the same "binding"-tagged struct validation Gin's
// ShouldBindJSON performs, read under the same tag name so the request
// types in internal/sync only declare their constraints once. Using it
// here (rather than leaning on Gin) is what lets Dispatch enforce
// spec.md §6's request constraints identically for both adapters.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Dispatch routes a framework-agnostic transport.Request to the
// matching Service method and returns a framework-agnostic
// transport.Response, attaching gossip headers on the write paths.
// Both the Gin adapter (nethttp's sibling, gin.go-equivalent handler.go)
// and the raw net/http adapter translate their native request/response
// types to/from these at the edge and delegate here, so the dispatch
// table spec.md §4.5 describes as framework-agnostic actually is.
func (h *Handler) Dispatch(ctx context.Context, req transport.Request) transport.Response {
	switch req.URL {
	case "/sync":
		return h.dispatchSync(ctx, req)
	case "/invalidate":
		return h.dispatchInvalidate(ctx, req)
	case "/update":
		return h.dispatchUpdate(ctx, req)
	case "/versions":
		return h.dispatchVersions(ctx, req)
	case "/health":
		return h.dispatchHealth(ctx)
	default:
		return errorResponse(apierr.NotFound("route not found"))
	}
}

func decodeAndValidate(body json.RawMessage, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func (h *Handler) dispatchSync(ctx context.Context, req transport.Request) transport.Response {
	var body syncsvc.SyncRequest
	if err := decodeAndValidate(req.Body, &body); err != nil {
		return errorResponse(apierr.Validation(err.Error()))
	}
	resp, err := h.Service.Sync(ctx, body)
	if err != nil {
		return errorResponse(err)
	}
	return h.withGossip(transport.JSON(resp))
}

func (h *Handler) dispatchInvalidate(ctx context.Context, req transport.Request) transport.Response {
	var body syncsvc.InvalidationRequest
	if err := decodeAndValidate(req.Body, &body); err != nil {
		return errorResponse(apierr.Validation(err.Error()))
	}
	resp, err := h.Service.Invalidate(ctx, body)
	if err != nil {
		return errorResponse(err)
	}
	return h.withGossip(transport.JSON(resp))
}

func (h *Handler) dispatchUpdate(ctx context.Context, req transport.Request) transport.Response {
	var body syncsvc.NodeUpdateRequest
	if err := decodeAndValidate(req.Body, &body); err != nil {
		return errorResponse(apierr.Validation(err.Error()))
	}
	resp, err := h.Service.Update(ctx, body)
	if err != nil {
		return errorResponse(err)
	}
	return h.withGossip(transport.JSON(resp))
}

func (h *Handler) dispatchVersions(ctx context.Context, req transport.Request) transport.Response {
	since := int64(0)
	if raw := req.Query["since"]; raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errorResponse(apierr.Validation("since must be an integer"))
		}
		since = v
	}
	resp, err := h.Service.Versions(ctx, since)
	if err != nil {
		return errorResponse(err)
	}
	return transport.JSON(resp)
}

func (h *Handler) dispatchHealth(ctx context.Context) transport.Response {
	resp := h.Service.Health(ctx)
	status := http.StatusOK
	if resp.Status == syncsvc.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return transport.JSONStatus(status, resp)
}

// withGossip attaches X-Reality-Server and X-Reality-Gossip to
// write-path responses, per spec.md §4.5.
func (h *Handler) withGossip(resp transport.Response) transport.Response {
	resp = resp.WithHeader("X-Reality-Server", h.Service.SelfID)
	if gossip, err := json.Marshal(h.Service.Gossip()); err == nil {
		resp = resp.WithHeader("X-Reality-Gossip", string(gossip))
	}
	return resp
}

func errorResponse(err error) transport.Response {
	return transport.JSONStatus(apierr.Status(err), apierr.Body(err))
}
