// Package accelerator is the optional Redis-backed accelerator described
// in spec.md §4.3: a best-effort node-metadata cache plus pub/sub
// invalidation hints. Correctness never depends on it — every method is
// nil-safe and every failure is swallowed (logged, not returned) so a
// Redis outage degrades latency, never correctness.
//
// Grounded on the Izumiko-mochi redis storage adapter's Config/Connect
// shape (cluster or single-node dialing behind redis.UniversalClient,
// ping on connect).
package accelerator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v8"

	"reality-mesh/internal/storage"
)

const invalidationChannel = "reality-mesh:invalidate"

// Config configures the Redis accelerator. A zero-value Config with
// Addresses empty means "disabled" — Connect returns a nil *Accelerator in
// that case, and every method on *Accelerator tolerates a nil receiver.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	DB        int
	Cluster   bool
	TTL       time.Duration
}

// Accelerator wraps a redis.UniversalClient. All methods are safe to
// call on a nil *Accelerator (the no-op/disabled case).
type Accelerator struct {
	client redis.UniversalClient
	ttl    time.Duration
	selfID string
}

// Connect dials Redis per cfg. If cfg has no addresses, it returns
// (nil, nil): accelerator disabled, not an error.
func Connect(ctx context.Context, cfg Config, selfID string) (*Accelerator, error) {
	if len(cfg.Addresses) == 0 {
		return nil, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	var client redis.UniversalClient
	if cfg.Cluster {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addresses,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addresses[0],
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Accelerator{client: client, ttl: ttl, selfID: selfID}, nil
}

// Close releases the underlying Redis connection pool.
func (a *Accelerator) Close() error {
	if a == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Accelerator) cacheKey(key string) string { return "reality-mesh:node:" + key }

// CacheNode best-effort writes meta to the accelerator cache. Errors are
// logged, never returned: a cache write failure must never fail the
// caller's actual write path.
func (a *Accelerator) CacheNode(ctx context.Context, meta storage.NodeMeta) {
	if a == nil {
		return
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := a.client.Set(ctx, a.cacheKey(meta.Key), payload, a.ttl).Err(); err != nil {
		log.Printf("accelerator: cache write failed for %q: %v", meta.Key, err)
	}
}

// LookupNode returns (meta, true) on a cache hit, (zero, false)
// otherwise — including on any Redis error, which is treated identically
// to a miss so callers fall through to the authoritative store.
func (a *Accelerator) LookupNode(ctx context.Context, key string) (storage.NodeMeta, bool) {
	if a == nil {
		return storage.NodeMeta{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	raw, err := a.client.Get(ctx, a.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.NodeMeta{}, false
	}
	if err != nil {
		log.Printf("accelerator: cache read failed for %q: %v", key, err)
		return storage.NodeMeta{}, false
	}

	var meta storage.NodeMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return storage.NodeMeta{}, false
	}
	return meta, true
}

// InvalidateHint is the payload published on the pub/sub invalidation
// channel — purely a latency hint for other servers' local caches, never
// the mechanism invalidation correctness relies on (that's
// mesh.Coordinator.PropagateInvalidation over HTTP).
type InvalidateHint struct {
	Keys      []string `json:"keys"`
	Source    string    `json:"source"`
	Timestamp int64     `json:"timestamp"`
}

// PublishInvalidation best-effort publishes a hint that keys changed.
func (a *Accelerator) PublishInvalidation(ctx context.Context, keys []string) {
	if a == nil {
		return
	}
	hint := InvalidateHint{Keys: keys, Source: a.selfID, Timestamp: time.Now().UnixMilli()}
	payload, err := json.Marshal(hint)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := a.client.Publish(ctx, invalidationChannel, payload).Err(); err != nil {
		log.Printf("accelerator: publish failed: %v", err)
	}
}

// Subscribe starts a background goroutine delivering invalidation hints
// to onHint until ctx is cancelled. It's purely advisory: a hint means
// "probably consider this key's local cache stale", not a correctness
// guarantee, since pub/sub messages can be dropped.
func (a *Accelerator) Subscribe(ctx context.Context, onHint func(InvalidateHint)) {
	if a == nil {
		return
	}
	sub := a.client.Subscribe(ctx, invalidationChannel)
	ch := sub.Channel()

	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var hint InvalidateHint
				if err := json.Unmarshal([]byte(msg.Payload), &hint); err != nil {
					continue
				}
				if hint.Source == a.selfID {
					continue
				}
				onHint(hint)
			}
		}
	}()
}

// Evict best-effort removes a key from the cache, used when a node is
// deleted outright rather than updated.
func (a *Accelerator) Evict(ctx context.Context, key string) {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := a.client.Del(ctx, a.cacheKey(key)).Err(); err != nil {
		log.Printf("accelerator: evict failed for %q: %v", key, err)
	}
}

// IsEnabled reports whether a non-nil, connected accelerator is in use.
func (a *Accelerator) IsEnabled() bool { return a != nil }
