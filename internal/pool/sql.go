package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/instrumentation"
	"github.com/giantswarm/dbfleet/internal/logging"
)

// SQL pool sizing. One pool exists per (cloud, database); statements get
// their own wall-clock timeout at the executor level.
const (
	sqlPoolMinConns       = 2
	sqlPoolMaxConns       = 20
	sqlPoolIdleTimeout    = 30 * time.Second
	sqlPoolConnectTimeout = 10 * time.Second
	sqlBreakerOpenFor     = 30 * time.Second
)

// sqlHandle pairs a lazy pgx pool with its circuit breaker and error-log
// throttle state.
type sqlHandle struct {
	key      string
	pool     *pgxpool.Pool
	breaker  *gobreaker.CircuitBreaker
	errCount int
}

func (h *sqlHandle) close() {
	if h.pool != nil {
		h.pool.Close()
	}
}

// sqlHandleFor returns the cached handle for (cloud, database), building it
// on first use. Building a handle does not dial; pgx connects lazily on the
// first acquire.
func (r *Registry) sqlHandleFor(cloud, database string) (*sqlHandle, error) {
	key := HandleKey(cloud, database)

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.sqlPools[key]; ok {
		return h, nil
	}

	cc, err := r.resolveSQLCloud(cloud, database)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(sqlConnString(cc, database))
	if err != nil {
		return nil, fmt.Errorf("failed to build pool config for %s: %w", key, err)
	}
	poolCfg.MinConns = sqlPoolMinConns
	poolCfg.MaxConns = sqlPoolMaxConns
	poolCfg.MaxConnIdleTime = sqlPoolIdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = sqlPoolConnectTimeout

	pgPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for %s: %w", key, err)
	}

	h := &sqlHandle{key: key, pool: pgPool}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sql:" + key,
		Timeout: sqlBreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= sqlBreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				// The handle is poisoned; drop it so the next use rebuilds.
				go r.evictSQL(key)
			}
		},
	})
	r.sqlPools[key] = h
	instrumentation.SetPoolHandles("sql", len(r.sqlPools))
	return h, nil
}

// SQLPool returns the connection pool for (cloud, database). Fails if the
// pair is not declared in configuration.
func (r *Registry) SQLPool(cloud, database string) (*pgxpool.Pool, error) {
	h, err := r.sqlHandleFor(cloud, database)
	if err != nil {
		return nil, err
	}
	return h.pool, nil
}

// AcquireSQL checks a dedicated client out of the (cloud, database) pool.
// Acquisition failures count against the handle's breaker; a handle that
// keeps failing is evicted and rebuilt on the next use.
func (r *Registry) AcquireSQL(ctx context.Context, cloud, database string) (*pgxpool.Conn, error) {
	h, err := r.sqlHandleFor(cloud, database)
	if err != nil {
		return nil, err
	}

	conn, err := h.breaker.Execute(func() (interface{}, error) {
		return h.pool.Acquire(ctx)
	})
	if err != nil {
		r.logHandleError(h, err)
		return nil, fmt.Errorf("failed to acquire client for %s: %w", h.key, err)
	}
	r.mu.Lock()
	h.errCount = 0
	r.mu.Unlock()
	return conn.(*pgxpool.Conn), nil
}

// CancelBackend issues an engine-level cancellation of the given backend
// session. It runs on an administrative client acquired separately from the
// session being cancelled.
func (r *Registry) CancelBackend(ctx context.Context, cloud, database string, pid uint32) error {
	pgPool, err := r.SQLPool(cloud, database)
	if err != nil {
		return err
	}
	if _, err := pgPool.Exec(ctx, "SELECT pg_cancel_backend($1)", int32(pid)); err != nil {
		return fmt.Errorf("failed to cancel backend %d on %s: %w", pid, HandleKey(cloud, database), err)
	}
	return nil
}

// logHandleError logs the first failure of a handle and every Nth after, so
// a flapping cluster cannot flood the logs.
func (r *Registry) logHandleError(h *sqlHandle, err error) {
	r.mu.Lock()
	h.errCount++
	count := h.errCount
	r.mu.Unlock()
	if count == 1 || count%errorLogEvery == 0 {
		r.logger.Error("SQL handle error",
			slog.String("handle", h.key),
			slog.Int("consecutive", count),
			logging.SanitizedErr(err))
	}
}

// sqlConnString builds the connection string for a logical database on a
// cloud. The cloud-level credentials apply to every database it declares.
func sqlConnString(cc *config.SQLCloud, database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(cc.User),
		url.QueryEscape(cc.Password),
		cc.Host, cc.Port,
		url.PathEscape(database))
}
