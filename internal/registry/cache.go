package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedSnapshot is the serializable projection of a Snapshot that gets
// published to Redis. Entry.Execute/RunFunc are function values and
// can't cross a process boundary, so only the declarative NodeSpec and
// the active/inactive type maps are cached — enough for a read-only
// front-end process to answer "what node types exist" without touching
// the plugin directory tree itself.
type cachedSnapshot struct {
	Active   map[string]NodeSpec `json:"active"`
	Inactive map[string]string   `json:"inactive"`
}

// SnapshotCache publishes Registry snapshots to Redis so that multiple
// front-end processes can read plugin availability without each
// re-walking the plugin directory tree.
type SnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotCache returns a cache keyed by key (typically
// "edgeflow:registry:snapshot"), with entries expiring after ttl.
func NewSnapshotCache(client *redis.Client, key string, ttl time.Duration) *SnapshotCache {
	if key == "" {
		key = "edgeflow:registry:snapshot"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{client: client, key: key, ttl: ttl}
}

// Publish stores snap's projection in Redis, refreshing its TTL.
func (c *SnapshotCache) Publish(ctx context.Context, snap Snapshot) error {
	cached := cachedSnapshot{
		Active:   make(map[string]NodeSpec, len(snap.active)),
		Inactive: snap.inactive,
	}
	for t, e := range snap.active {
		cached.Active[t] = e.Spec
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal registry snapshot: %w", err)
	}

	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("publish registry snapshot: %w", err)
	}
	return nil
}

// NodeTypes returns the cached active-type specs and inactive-type
// ownership map, or an error if nothing has been published (or it
// expired).
func (c *SnapshotCache) NodeTypes(ctx context.Context) (map[string]NodeSpec, map[string]string, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil, nil, fmt.Errorf("no registry snapshot cached at %s", c.key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read cached registry snapshot: %w", err)
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil, fmt.Errorf("unmarshal cached registry snapshot: %w", err)
	}
	return cached.Active, cached.Inactive, nil
}
