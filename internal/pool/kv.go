package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/instrumentation"
	"github.com/giantswarm/dbfleet/internal/logging"
)

// Key-value client tuning. Fan-out scans iterate for a long time, so retry
// backoff is generous rather than aggressive.
const (
	kvMinRetryBackoff = 500 * time.Millisecond
	kvMaxRetryBackoff = 30 * time.Second
	kvDialTimeout     = 10 * time.Second
	kvBreakerOpenFor  = 30 * time.Second
)

// Node is one primary of a key-value cloud, addressable directly.
type Node struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// kvHandle pairs a lazy cluster client with its circuit breaker.
type kvHandle struct {
	cloud    string
	client   redis.UniversalClient
	breaker  *gobreaker.CircuitBreaker
	errCount int
}

func (h *kvHandle) close() {
	if h.client != nil {
		_ = h.client.Close()
	}
}

// kvHandleFor returns the cached handle for a key-value cloud, building it
// on first use. The client dials lazily on the first command.
func (r *Registry) kvHandleFor(cloud string) (*kvHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.kvClients[cloud]; ok {
		return h, nil
	}

	cc := r.cfg.KVCloud(cloud)
	if cc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCloud, cloud)
	}

	h := &kvHandle{
		cloud: cloud,
		client: redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:           []string{kvAddr(cc)},
			MinRetryBackoff: kvMinRetryBackoff,
			MaxRetryBackoff: kvMaxRetryBackoff,
			DialTimeout:     kvDialTimeout,
		}),
	}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kv:" + cloud,
		Timeout: kvBreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= kvBreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				go r.evictKV(cloud)
			}
		},
	})
	r.kvClients[cloud] = h
	instrumentation.SetPoolHandles("kv", len(r.kvClients))
	return h, nil
}

// KVClient returns the shared client for a key-value cloud.
func (r *Registry) KVClient(cloud string) (redis.UniversalClient, error) {
	h, err := r.kvHandleFor(cloud)
	if err != nil {
		return nil, err
	}
	return h.client, nil
}

// KVMasters discovers the primary nodes of a key-value cloud. SCAN has to
// visit every primary individually; replicas and offline shards are skipped.
func (r *Registry) KVMasters(ctx context.Context, cloud string) ([]Node, error) {
	h, err := r.kvHandleFor(cloud)
	if err != nil {
		return nil, err
	}

	res, err := h.breaker.Execute(func() (interface{}, error) {
		return h.client.ClusterShards(ctx).Result()
	})
	if err != nil {
		r.logKVError(h, err)
		return nil, fmt.Errorf("failed to discover topology for cloud %q: %w", cloud, err)
	}
	r.mu.Lock()
	h.errCount = 0
	r.mu.Unlock()

	shards := res.([]redis.ClusterShard)
	var masters []Node
	for _, shard := range shards {
		for _, node := range shard.Nodes {
			if node.Role != "master" || node.Health != "online" {
				continue
			}
			masters = append(masters, Node{
				ID:   node.ID,
				Addr: fmt.Sprintf("%s:%d", node.Endpoint, node.Port),
			})
		}
	}
	if len(masters) == 0 {
		return nil, fmt.Errorf("no online masters found for cloud %q", cloud)
	}
	return masters, nil
}

// DialNode opens a direct client to a single node. Callers own the client
// and must close it; per-node SCAN traffic must not ride the cluster client,
// which follows redirects.
func (r *Registry) DialNode(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            addr,
		MinRetryBackoff: kvMinRetryBackoff,
		MaxRetryBackoff: kvMaxRetryBackoff,
		DialTimeout:     kvDialTimeout,
	})
}

func (r *Registry) logKVError(h *kvHandle, err error) {
	r.mu.Lock()
	h.errCount++
	count := h.errCount
	r.mu.Unlock()
	if count == 1 || count%errorLogEvery == 0 {
		r.logger.Error("KV handle error",
			logging.Cloud(h.cloud),
			slog.Int("consecutive", count),
			logging.SanitizedErr(err))
	}
}

func kvAddr(cc *config.KVCloud) string {
	return fmt.Sprintf("%s:%d", cc.Host, cc.Port)
}
