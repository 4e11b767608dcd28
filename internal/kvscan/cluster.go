package kvscan

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/dbfleet/internal/pool"
)

// NodeClient is a direct session to one master node. SCAN cursors are
// node-local, so the same session must serve a whole cursor walk.
type NodeClient interface {
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, next uint64, err error)
	Close() error
}

// Cluster abstracts topology discovery, per-node scanning and cluster-routed
// deletion so tests can substitute fakes for live clusters.
type Cluster interface {
	Masters(ctx context.Context, cloud string) ([]pool.Node, error)
	DialNode(addr string) NodeClient
	Unlink(ctx context.Context, cloud string, keys []string) (int64, error)
}

// RegistryCluster adapts the pool registry to the Cluster interface.
type RegistryCluster struct {
	Registry *pool.Registry
}

// Masters implements Cluster.
func (c *RegistryCluster) Masters(ctx context.Context, cloud string) ([]pool.Node, error) {
	return c.Registry.KVMasters(ctx, cloud)
}

// DialNode implements Cluster.
func (c *RegistryCluster) DialNode(addr string) NodeClient {
	return &redisNodeClient{client: c.Registry.DialNode(addr)}
}

// Unlink implements Cluster. The shared cluster client routes each key to
// its slot owner.
func (c *RegistryCluster) Unlink(ctx context.Context, cloud string, keys []string) (int64, error) {
	client, err := c.Registry.KVClient(cloud)
	if err != nil {
		return 0, err
	}
	return client.Unlink(ctx, keys...).Result()
}

type redisNodeClient struct {
	client *redis.Client
}

func (n *redisNodeClient) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	return n.client.Scan(ctx, cursor, pattern, count).Result()
}

func (n *redisNodeClient) Close() error {
	return n.client.Close()
}
