package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisResumer satisfies Options.Resume by subscribing to a per-node
// Redis Pub/Sub channel, so an external process (the out-of-scope
// transport layer fronting this engine) can resume a breakpointed node
// by publishing to it without the executor depending on that transport
// directly.
type RedisResumer struct {
	client      *redis.Client
	executionID string

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// NewRedisResumer builds a resumer bound to one execution's channel
// namespace: edgeflow:resume:<executionID>:<nodeID>.
func NewRedisResumer(client *redis.Client, executionID string) *RedisResumer {
	return &RedisResumer{client: client, executionID: executionID, subs: make(map[string]*redis.PubSub)}
}

// Resume returns a channel that closes once a message is published on
// this node's resume topic. Matches Options.Resume's signature.
func (r *RedisResumer) Resume(nodeID string) <-chan struct{} {
	done := make(chan struct{})
	topic := r.topic(nodeID)

	sub := r.client.Subscribe(context.Background(), topic)
	r.mu.Lock()
	r.subs[nodeID] = sub
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer sub.Close()
		<-sub.Channel()
	}()

	return done
}

// Publish resumes nodeID from an external caller; mirrors what a UI or
// CLI would do in response to a node_breakpoint event.
func (r *RedisResumer) Publish(ctx context.Context, nodeID string) error {
	if err := r.client.Publish(ctx, r.topic(nodeID), "resume").Err(); err != nil {
		return fmt.Errorf("publish resume for node %s: %w", nodeID, err)
	}
	return nil
}

// Close releases any outstanding subscriptions that were never resumed
// (e.g. the run was cancelled before the breakpoint fired).
func (r *RedisResumer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = map[string]*redis.PubSub{}
}

func (r *RedisResumer) topic(nodeID string) string {
	return fmt.Sprintf("edgeflow:resume:%s:%s", r.executionID, nodeID)
}
