// Package mesh tracks peer health, propagates local invalidations
// outward, and builds/ingests gossip snapshots — spec.md §4.2.
//
// Grounded on the teacher's cluster.Replicator (concurrent per-peer
// fan-out, bounded timeouts, exponential-backoff retries) and
// cluster.Membership (mutex-guarded peer map), generalized from a
// quorum replica set to a gossip/health-tracked peer set.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	// degradedLatencyThreshold is the default per-exchange latency above
	// which two consecutive slow exchanges demote a peer to degraded.
	degradedLatencyThreshold = 500 * time.Millisecond

	// unhealthyAfterFailures is N in "transition to unhealthy after N
	// consecutive failures" (spec.md §4.2 default).
	unhealthyAfterFailures = 3

	// stalenessWindow is how long a peer can go unheard-from before it
	// starts decaying healthy -> degraded -> unknown.
	stalenessWindow = 90 * time.Second

	// propagationConcurrency bounds how many peers are contacted at once
	// for a single invalidation fan-out.
	propagationConcurrency = 8

	peerCallTimeout = 3 * time.Second
)

// Coordinator is the mesh coordinator for one server.
type Coordinator struct {
	selfID string

	mu         sync.RWMutex
	peers      map[string]*PeerInfo
	maxVersion int64

	httpClient       *http.Client
	latencyThreshold time.Duration
}

// NewCoordinator creates a Coordinator for selfID with the given initial
// peer URLs (all start in HealthUnknown until the first exchange).
func NewCoordinator(selfID string, peerURLs []string) *Coordinator {
	c := &Coordinator{
		selfID:           selfID,
		peers:            make(map[string]*PeerInfo),
		httpClient:       &http.Client{Timeout: peerCallTimeout},
		latencyThreshold: degradedLatencyThreshold,
	}
	for _, url := range peerURLs {
		c.peers[url] = &PeerInfo{URL: url, Health: HealthUnknown}
	}
	return c
}

// SelfID returns this coordinator's server id.
func (c *Coordinator) SelfID() string { return c.selfID }

// AddPeer registers a new peer URL, starting in HealthUnknown.
func (c *Coordinator) AddPeer(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[url]; !ok {
		c.peers[url] = &PeerInfo{URL: url, Health: HealthUnknown}
	}
}

// RemovePeer drops a peer from the mesh entirely.
func (c *Coordinator) RemovePeer(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, url)
}

// Peers returns a snapshot of url -> health, suitable for
// SyncResponse.mesh.peers.
func (c *Coordinator) Peers() map[string]Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Health, len(c.peers))
	for url, p := range c.peers {
		out[url] = p.Health
	}
	return out
}

// HealthyPeerCount returns how many peers are currently healthy or
// degraded — used by the /health endpoint's mesh summary.
func (c *Coordinator) HealthyPeerCount() (total, healthy int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total = len(c.peers)
	for _, p := range c.peers {
		if p.Health == HealthHealthy || p.Health == HealthDegraded {
			healthy++
		}
	}
	return total, healthy
}

// ObserveMaxVersion records this server's own max version, used when
// building the gossip payload (mesh.serverVersion / gossip.maxVersion).
func (c *Coordinator) ObserveMaxVersion(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v > c.maxVersion {
		c.maxVersion = v
	}
}

// ─── Health state machine ──────────────────────────────────────────────

func (c *Coordinator) recordSuccess(url string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[url]
	if !ok {
		p = &PeerInfo{URL: url}
		c.peers[url] = p
	}

	p.LastSeen = time.Now()
	p.LastLatency = latency
	p.consecutiveFailures = 0
	p.backoffUntil = time.Time{}

	if latency > c.latencyThreshold {
		p.consecutiveSlow++
		if p.consecutiveSlow >= 2 && p.Health == HealthHealthy {
			p.Health = HealthDegraded
			return
		}
	} else {
		p.consecutiveSlow = 0
	}

	// Any successful exchange promotes back to healthy, per spec.md §4.2,
	// unless the latency check above just demoted it.
	if p.Health != HealthDegraded || p.consecutiveSlow < 2 {
		p.Health = HealthHealthy
	}
}

func (c *Coordinator) recordFailure(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[url]
	if !ok {
		p = &PeerInfo{URL: url}
		c.peers[url] = p
	}

	wasHealthy := p.Health == HealthHealthy
	p.consecutiveFailures++

	switch {
	case p.consecutiveFailures >= unhealthyAfterFailures:
		p.Health = HealthUnhealthy
		backoff := 2 * time.Second
		for i := unhealthyAfterFailures; i < p.consecutiveFailures && backoff < 2*time.Minute; i++ {
			backoff *= 2
		}
		if backoff > 2*time.Minute {
			backoff = 2 * time.Minute
		}
		p.backoffUntil = time.Now().Add(backoff)
	case wasHealthy:
		p.Health = HealthDegraded
	}
}

// DecayStale demotes peers that haven't been heard from within the
// staleness window: healthy -> degraded -> unknown. Intended to be
// called periodically by a background ticker.
func (c *Coordinator) DecayStale(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.peers {
		if p.LastSeen.IsZero() || now.Sub(p.LastSeen) < stalenessWindow {
			continue
		}
		switch p.Health {
		case HealthHealthy:
			p.Health = HealthDegraded
		case HealthDegraded:
			p.Health = HealthUnknown
		}
	}
}

// ─── Invalidation propagation ──────────────────────────────────────────

// invalidateWireRequest is the body sent to a peer's /invalidate endpoint.
type invalidateWireRequest struct {
	Keys      []string `json:"keys"`
	Source    string   `json:"source"`
	Timestamp int64    `json:"timestamp"`
}

// PropagateInvalidation fans keys out to every healthy, degraded, or
// not-yet-contacted (unknown) peer, plus unhealthy peers whose backoff
// has expired, tagging the outbound push with source (per spec.md §4.2, always this
// server's own id — self-loop prevention lives in the /invalidate
// handler, which checks an *incoming* request's source against its own
// id before ever calling this method; see invariant P7).
//
// excludeServerID, when non-empty, drops the peer whose known ServerID
// matches from the fan-out: when this propagation was triggered by
// receiving an invalidate from that very peer, echoing it straight back
// is pointless and scenario S6 requires it not happen. Local-write-
// triggered propagation (via /update) passes "" — there is no peer to
// exclude, every configured peer is a legitimate target.
//
// It uses a bounded per-peer concurrency limit and returns only after
// every send has finished; failures flip the peer's health state and are
// never returned. syncsvc runs it on its own goroutine so the write path
// does not wait for it.
func (c *Coordinator) PropagateInvalidation(ctx context.Context, keys []string, source string, excludeServerID string) {
	targets := c.propagationTargets(excludeServerID)
	if len(targets) == 0 {
		return
	}

	sem := make(chan struct{}, propagationConcurrency)
	var wg sync.WaitGroup
	for _, url := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(peerURL string) {
			defer wg.Done()
			defer func() { <-sem }()
			c.sendInvalidate(ctx, peerURL, keys, source)
		}(url)
	}

	// Detach from the caller: propagation must survive a client
	// disconnect triggering ctx cancellation on the *next* write, but
	// must not block this one. We still wait here because callers invoke
	// this from a goroutine themselves (see syncsvc); the bound below
	// keeps worst case latency to one peerCallTimeout.
	wg.Wait()
}

func (c *Coordinator) propagationTargets(excludeServerID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var urls []string
	for url, p := range c.peers {
		if excludeServerID != "" && p.ServerID == excludeServerID {
			continue
		}
		if p.Health == HealthUnhealthy {
			if !p.backoffUntil.IsZero() && time.Now().Before(p.backoffUntil) {
				continue
			}
		}
		if p.Health == HealthHealthy || p.Health == HealthDegraded || p.Health == HealthUnhealthy {
			urls = append(urls, url)
		} else {
			// Unknown peers still get probed opportunistically so the
			// mesh can discover they're alive.
			urls = append(urls, url)
		}
	}
	return urls
}

func (c *Coordinator) sendInvalidate(ctx context.Context, peerURL string, keys []string, source string) {
	body, err := json.Marshal(invalidateWireRequest{Keys: keys, Source: source, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, peerCallTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/invalidate", bytes.NewReader(body))
	if err != nil {
		c.recordFailure(peerURL)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(peerURL)
		return
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	if resp.StatusCode >= 300 {
		c.recordFailure(peerURL)
		return
	}
	c.recordSuccess(peerURL, latency)
}

// ─── Gossip ─────────────────────────────────────────────────────────────

// Gossip builds this server's current gossip snapshot: its own max
// version plus the top-K most-recently-seen peer summaries.
func (c *Coordinator) Gossip() GossipPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]PeerSummary, 0, len(c.peers))
	for _, p := range c.peers {
		summaries = append(summaries, p.summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].LastSeen > summaries[j].LastSeen })
	if len(summaries) > maxPeerSummaries {
		summaries = summaries[:maxPeerSummaries]
	}

	return GossipPayload{
		ServerID:      c.selfID,
		MaxVersion:    c.maxVersion,
		PeerSummaries: summaries,
		Timestamp:     time.Now().UnixMilli(),
	}
}

// IngestGossip merges a received GossipPayload into this coordinator's
// peer map. Recipients apply last-writer-wins keyed by (url, lastSeen)
// and must never let a peer summary lower their own direct observation
// of that peer's health — spec.md §4.2.
func (c *Coordinator) IngestGossip(payload GossipPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range payload.PeerSummaries {
		if s.URL == "" || s.URL == c.selfURLPlaceholder() {
			continue
		}
		existing, ok := c.peers[s.URL]
		if !ok {
			c.peers[s.URL] = &PeerInfo{
				URL:      s.URL,
				ServerID: s.ServerID,
				Health:   s.Health,
				LastSeen: millisToTime(s.LastSeen),
			}
			continue
		}

		incomingSeen := millisToTime(s.LastSeen)
		if incomingSeen.Before(existing.LastSeen) {
			continue // stale gossip, last-writer-wins keeps the newer record
		}

		// Never let gossip lower our own direct observation of health —
		// only raise it, or apply it when we have no fresher direct read.
		if healthRank(s.Health) < healthRank(existing.Health) && time.Since(existing.LastSeen) < stalenessWindow {
			existing.ServerID = s.ServerID
			continue
		}

		existing.Health = s.Health
		existing.ServerID = s.ServerID
		existing.LastSeen = incomingSeen
	}

	// Record the sender's own reported max version on its PeerInfo, once
	// its ServerID is known.
	for _, p := range c.peers {
		if p.ServerID != "" && p.ServerID == payload.ServerID && payload.MaxVersion > p.MaxVersionSeen {
			p.MaxVersionSeen = payload.MaxVersion
		}
	}
}

// selfURLPlaceholder exists so IngestGossip can skip a summary that
// happens to describe this server itself; callers key peers by URL, and
// this coordinator has no URL of its own to compare against, so this is
// always empty and the check above is effectively "skip blank URLs".
func (c *Coordinator) selfURLPlaceholder() string { return "" }

func healthRank(h Health) int {
	switch h {
	case HealthHealthy:
		return 3
	case HealthDegraded:
		return 2
	case HealthUnknown:
		return 1
	case HealthUnhealthy:
		return 0
	default:
		return 1
	}
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RecordExchange lets callers outside this package report the outcome of
// a direct exchange with a peer without going through
// PropagateInvalidation.
func (c *Coordinator) RecordExchange(url string, latency time.Duration, ok bool) {
	if ok {
		c.recordSuccess(url, latency)
	} else {
		c.recordFailure(url)
	}
}

// String is used in logging.
func (c *Coordinator) String() string {
	total, healthy := c.HealthyPeerCount()
	return fmt.Sprintf("mesh(self=%s peers=%d healthy=%d)", c.selfID, total, healthy)
}
