package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/instrumentation"
	"github.com/giantswarm/dbfleet/internal/logging"
)

// Sentinel errors for handle resolution.
var (
	// ErrUnknownCloud indicates the cloud is not declared in configuration.
	ErrUnknownCloud = errors.New("unknown cloud")

	// ErrUnknownDatabase indicates the database is not declared for the cloud.
	ErrUnknownDatabase = errors.New("unknown database")
)

// Breaker thresholds: how many consecutive failures evict a handle.
const (
	sqlBreakerMaxFailures = 5
	kvBreakerMaxFailures  = 10
)

// errorLogEvery throttles repeated handle errors: the first failure is
// logged, then every Nth.
const errorLogEvery = 10

// HandleKey identifies a connection pool: (cloud, database) for SQL, just
// the cloud for key-value handles.
func HandleKey(cloud, database string) string {
	if database == "" {
		return cloud
	}
	return cloud + ":" + database
}

// SplitHandleKey reverses HandleKey.
func SplitHandleKey(key string) (cloud, database string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// Registry is the process-global handle store. The zero value is not usable;
// construct via NewRegistry. Safe for concurrent use; lazy initialisation of
// individual handles is serialised per key.
type Registry struct {
	cfg    *config.CloudConfig
	logger *slog.Logger

	mu        sync.Mutex
	sqlPools  map[string]*sqlHandle
	kvClients map[string]*kvHandle
}

// NewRegistry creates a registry over the declared cloud topology.
func NewRegistry(cfg *config.CloudConfig, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		logger:    logging.WithOperation(logger, "pool"),
		sqlPools:  make(map[string]*sqlHandle),
		kvClients: make(map[string]*kvHandle),
	}
}

// Config returns the declared cloud topology for downstream validation.
func (r *Registry) Config() *config.CloudConfig {
	return r.cfg
}

// Close releases every live handle. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, h := range r.sqlPools {
		h.close()
		delete(r.sqlPools, key)
	}
	for key, h := range r.kvClients {
		h.close()
		delete(r.kvClients, key)
	}
	instrumentation.SetPoolHandles("sql", 0)
	instrumentation.SetPoolHandles("kv", 0)
}

// resolveSQLCloud validates the (cloud, database) pair against configuration.
func (r *Registry) resolveSQLCloud(cloud, database string) (*config.SQLCloud, error) {
	cc := r.cfg.SQLCloud(cloud)
	if cc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCloud, cloud)
	}
	if !cc.HasDatabase(database) {
		return nil, fmt.Errorf("%w: %q on cloud %q", ErrUnknownDatabase, database, cloud)
	}
	return cc, nil
}

// evictSQL drops a handle so the next use rebuilds it.
func (r *Registry) evictSQL(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.sqlPools[key]; ok {
		h.close()
		delete(r.sqlPools, key)
		instrumentation.SetPoolHandles("sql", len(r.sqlPools))
		r.logger.Warn("evicted SQL pool handle", slog.String("handle", key))
	}
}

// evictKV drops a key-value handle so the next use rebuilds it.
func (r *Registry) evictKV(cloud string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.kvClients[cloud]; ok {
		h.close()
		delete(r.kvClients, cloud)
		instrumentation.SetPoolHandles("kv", len(r.kvClients))
		r.logger.Warn("evicted KV client handle", logging.Cloud(cloud))
	}
}
