// Package syncsvc implements the sync protocol of spec.md §4.4: /sync,
// /invalidate, /update, /versions, and /health. It is named syncsvc
// rather than sync to avoid colliding with the standard library package
// of that name.
//
// Every method here is transport-agnostic: it takes and returns plain
// values, leaving header/status/framework concerns to internal/api.
// This mirrors the teacher's internal/api/handlers.go split between
// Handler (protocol logic) and Register (routing), generalized one level
// further so the same Service backs both the Gin adapter and the raw
// net/http adapter.
package syncsvc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reality-mesh/internal/accelerator"
	"reality-mesh/internal/apierr"
	"reality-mesh/internal/mesh"
	"reality-mesh/internal/nodestore"
)

// inlinePayloadThreshold is the Open Question (a) freeze from
// spec.md §9: payloads are inlined only when the byte length returned by
// the PayloadFetcher is below this many bytes.
const inlinePayloadThreshold = 1024

// PayloadFetcher is the pluggable hook spec.md §1 calls out as the only
// contact point with the application's own payload database. It is
// optional: a nil PayloadFetcher means changed entries never carry an
// inlined payload.
type PayloadFetcher interface {
	FetchPayload(ctx context.Context, key string) ([]byte, bool)
}

// PayloadFetcherFunc adapts a plain function to PayloadFetcher.
type PayloadFetcherFunc func(ctx context.Context, key string) ([]byte, bool)

func (f PayloadFetcherFunc) FetchPayload(ctx context.Context, key string) ([]byte, bool) {
	return f(ctx, key)
}

// Mode and Hint are the SyncRequest metadata fields from spec.md §3: they
// affect instrumentation and optional optimizations only, never
// correctness.
type Mode string

const (
	ModeNative       Mode = "native"
	ModeSSECompat    Mode = "sse-compat"
	ModePollingCompat Mode = "polling-compat"
)

type Hint string

const (
	HintInteraction Hint = "interaction"
	HintFocus       Hint = "focus"
	HintIdle        Hint = "idle"
	HintMutation    Hint = "mutation"
	HintMount       Hint = "mount"
	HintReconnect   Hint = "reconnect"
)

// SyncRequest is the client-facing request of spec.md §3 / §6.
type SyncRequest struct {
	Known     map[string]int64 `json:"known" binding:"required,dive,min=0"`
	ClientID  string           `json:"clientId" binding:"required,uuid"`
	Mode      Mode             `json:"mode" binding:"omitempty,oneof=native sse-compat polling-compat"`
	Hint      Hint             `json:"hint" binding:"omitempty,oneof=interaction focus idle mutation mount reconnect"`
	Timestamp *int64           `json:"timestamp,omitempty"`
}

// ChangedEntry is one entry of SyncResponse.changed.
type ChangedEntry struct {
	Version int64  `json:"version"`
	Hash    string `json:"hash"`
	Source  string `json:"source,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// MeshSnapshot is the {peers, serverVersion} sub-object of SyncResponse.
type MeshSnapshot struct {
	Peers         map[string]mesh.Health `json:"peers"`
	ServerVersion int64                  `json:"serverVersion,omitempty"`
}

// SyncResponse is the response of spec.md §4.4.1 / §6.
type SyncResponse struct {
	Changed    map[string]ChangedEntry `json:"changed"`
	Mesh       MeshSnapshot            `json:"mesh"`
	ServerTime int64                   `json:"serverTime"`
}

// InvalidationRequest is the body of POST /invalidate (spec.md §6).
type InvalidationRequest struct {
	Keys      []string `json:"keys" binding:"required,min=1"`
	Source    string   `json:"source,omitempty"`
	Timestamp *int64   `json:"timestamp,omitempty"`
}

// InvalidationResponse is the response of spec.md §4.4.2 / §6.
type InvalidationResponse struct {
	Invalidated []string         `json:"invalidated"`
	Versions    map[string]int64 `json:"versions"`
}

// NodeUpdateRequest is the body of POST /update (spec.md §6).
type NodeUpdateRequest struct {
	Key  string `json:"key" binding:"required"`
	Hash string `json:"hash" binding:"required"`
}

// NodeUpdateResponse is the response of spec.md §4.4.3 / §6.
type NodeUpdateResponse struct {
	Key       string `json:"key"`
	Version   int64  `json:"version"`
	Hash      string `json:"hash"`
	UpdatedAt int64  `json:"updatedAt"`
}

// VersionsResponse is the response of GET /versions (spec.md §4.4.4).
type VersionsResponse struct {
	Gossip  mesh.GossipPayload       `json:"gossip"`
	Changed []VersionsChangedEntry   `json:"changed"`
}

type VersionsChangedEntry struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Hash    string `json:"hash"`
}

// HealthStatus is the overall server status reported by /health.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the response of GET /health (spec.md §4.4.5).
type HealthResponse struct {
	Status   HealthStatus     `json:"status"`
	ServerID string           `json:"serverId"`
	Version  int64            `json:"version"`
	UptimeMs int64            `json:"uptime"`
	Mesh     HealthMesh       `json:"mesh"`
	Storage  HealthStorage    `json:"storage"`
	Redis    *HealthRedis     `json:"redis,omitempty"`
}

type HealthMesh struct {
	PeerCount    int `json:"peerCount"`
	HealthyPeers int `json:"healthyPeers"`
}

type HealthStorage struct {
	Healthy    bool  `json:"healthy"`
	MaxVersion int64 `json:"maxVersion"`
}

type HealthRedis struct {
	Enabled bool `json:"enabled"`
}

// Service ties the node store, mesh coordinator, and accelerator
// together behind the five protocol operations. It holds no framework
// dependency: internal/api adapts it to Gin and to raw net/http.
type Service struct {
	SelfID          string
	Store           *nodestore.Store
	Mesh            *mesh.Coordinator
	Accelerator     *accelerator.Accelerator
	PayloadFetcher  PayloadFetcher
	InvalidationOff bool // config.InvalidationNone: /invalidate accepted but never propagated

	startedAt time.Time
}

// New constructs a Service. startedAt defaults to the time New is called.
func New(selfID string, store *nodestore.Store, coord *mesh.Coordinator, accel *accelerator.Accelerator) *Service {
	return &Service{SelfID: selfID, Store: store, Mesh: coord, Accelerator: accel, startedAt: time.Now()}
}

// Gossip builds the mesh gossip snapshot to attach to a response.
func (s *Service) Gossip() mesh.GossipPayload { return s.Mesh.Gossip() }

// Sync implements spec.md §4.4.1.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (SyncResponse, error) {
	keys := make([]string, 0, len(req.Known))
	for k := range req.Known {
		keys = append(keys, k)
	}

	nodes, err := s.Store.GetNodes(ctx, keys)
	if err != nil {
		return SyncResponse{}, apierr.Internal(err)
	}

	changed := make(map[string]ChangedEntry)
	for key, clientVersion := range req.Known {
		node, ok := nodes[key]
		if !ok {
			changed[key] = ChangedEntry{Version: 0, Hash: ""}
			continue
		}
		if node.Version > clientVersion {
			entry := ChangedEntry{Version: node.Version, Hash: node.Hash, Source: s.SelfID}
			s.maybeInlinePayload(ctx, key, &entry)
			changed[key] = entry
		}
	}

	maxVersion, err := s.Store.GetMaxVersion(ctx)
	if err != nil {
		return SyncResponse{}, apierr.Internal(err)
	}
	s.Mesh.ObserveMaxVersion(maxVersion)

	return SyncResponse{
		Changed:    changed,
		Mesh:       MeshSnapshot{Peers: s.Mesh.Peers(), ServerVersion: maxVersion},
		ServerTime: time.Now().UnixMilli(),
	}, nil
}

// maybeInlinePayload attempts to inline a payload for entry if a
// PayloadFetcher is configured and the serialized result fits under
// inlinePayloadThreshold. Any failure — fetcher error, missing payload,
// oversize payload — simply leaves entry.Payload unset, per spec.md
// §4.4.1 step 4.
func (s *Service) maybeInlinePayload(ctx context.Context, key string, entry *ChangedEntry) {
	if s.PayloadFetcher == nil {
		return
	}
	raw, ok := s.PayloadFetcher.FetchPayload(ctx, key)
	if !ok || raw == nil {
		return
	}
	if len(raw) >= inlinePayloadThreshold {
		return
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Not valid JSON — inline as a raw string rather than dropping it,
		// but still respect the byte threshold measured on raw.
		entry.Payload = string(raw)
		return
	}
	entry.Payload = decoded
}

// Invalidate implements spec.md §4.4.2: reports current versions without
// bumping them, and propagates to the mesh when source != selfId.
func (s *Service) Invalidate(ctx context.Context, req InvalidationRequest) (InvalidationResponse, error) {
	versions := make(map[string]int64, len(req.Keys))
	nodes, err := s.Store.GetNodes(ctx, req.Keys)
	if err != nil {
		return InvalidationResponse{}, apierr.Internal(err)
	}
	for _, k := range req.Keys {
		if n, ok := nodes[k]; ok {
			versions[k] = n.Version
		} else {
			versions[k] = 0
		}
	}

	s.Accelerator.PublishInvalidation(ctx, req.Keys)

	if !s.InvalidationOff && req.Source != s.SelfID {
		go s.Mesh.PropagateInvalidation(context.Background(), req.Keys, s.SelfID, req.Source)
	}

	return InvalidationResponse{Invalidated: req.Keys, Versions: versions}, nil
}

// Update implements spec.md §4.4.3: the single entry point that advances
// a key's version.
func (s *Service) Update(ctx context.Context, req NodeUpdateRequest) (NodeUpdateResponse, error) {
	meta, err := s.Store.IncrementVersion(ctx, req.Key, req.Hash)
	if err != nil {
		return NodeUpdateResponse{}, apierr.Internal(err)
	}

	s.Mesh.ObserveMaxVersion(meta.Version)
	s.Accelerator.CacheNode(ctx, meta)
	s.Accelerator.PublishInvalidation(ctx, []string{req.Key})

	// Propagation must never block the write path (spec.md §4.2): fire
	// it from a detached context so a client disconnect right after the
	// response is written doesn't cancel an in-flight fan-out.
	go s.Mesh.PropagateInvalidation(context.Background(), []string{req.Key}, s.SelfID, "")

	return NodeUpdateResponse{Key: meta.Key, Version: meta.Version, Hash: meta.Hash, UpdatedAt: meta.UpdatedAt}, nil
}

// Versions implements spec.md §4.4.4.
func (s *Service) Versions(ctx context.Context, since int64) (VersionsResponse, error) {
	nodes, err := s.Store.ListChangedSince(ctx, since)
	if err != nil {
		return VersionsResponse{}, apierr.Internal(err)
	}

	changed := make([]VersionsChangedEntry, 0, len(nodes))
	for _, n := range nodes {
		changed = append(changed, VersionsChangedEntry{Key: n.Key, Version: n.Version, Hash: n.Hash})
	}

	return VersionsResponse{Gossip: s.Gossip(), Changed: changed}, nil
}

// Health implements spec.md §4.4.5.
func (s *Service) Health(ctx context.Context) HealthResponse {
	storageHealthy := s.Store.IsHealthy(ctx)
	maxVersion, err := s.Store.GetMaxVersion(ctx)
	if err != nil {
		maxVersion = 0
	}

	peerCount, healthyPeers := s.Mesh.HealthyPeerCount()

	status := StatusHealthy
	switch {
	case !storageHealthy:
		status = StatusUnhealthy
	case peerCount > 0 && healthyPeers == 0:
		status = StatusDegraded
	}

	resp := HealthResponse{
		Status:   status,
		ServerID: s.SelfID,
		Version:  maxVersion,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Mesh:     HealthMesh{PeerCount: peerCount, HealthyPeers: healthyPeers},
		Storage:  HealthStorage{Healthy: storageHealthy, MaxVersion: maxVersion},
	}
	if s.Accelerator.IsEnabled() {
		resp.Redis = &HealthRedis{Enabled: true}
	}
	return resp
}

// ErrUnhealthy is returned by callers that want to translate an
// unhealthy Health() result into a 503 at the transport layer.
var ErrUnhealthy = errors.New("syncsvc: server unhealthy")
