package sqlexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/pool"
)

// fakeClient scripts per-statement outcomes and records everything that ran.
type fakeClient struct {
	mu       sync.Mutex
	pid      uint32
	released bool
	executed []string
	fail     map[string]string // statement -> error text
	delay    time.Duration
}

func (c *fakeClient) BackendPID() uint32 { return c.pid }

func (c *fakeClient) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *fakeClient) Run(ctx context.Context, sql string) (*StatementOutput, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	c.executed = append(c.executed, sql)
	c.mu.Unlock()
	if msg, ok := c.fail[sql]; ok {
		return nil, errors.New(msg)
	}
	verb := strings.ToUpper(strings.Fields(sql)[0])
	out := &StatementOutput{Command: verb}
	if verb == "SELECT" {
		out.Fields = []Field{{Name: "id", DataTypeID: 23}}
		out.Rows = []map[string]any{{"id": int64(1)}}
		out.RowCount = 1
	} else if verb == "UPDATE" || verb == "INSERT" || verb == "DELETE" {
		out.RowCount = 1
	}
	return out, nil
}

func (c *fakeClient) ranStatements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// fakeProvider hands out scripted clients per handle key.
type fakeProvider struct {
	mu         sync.Mutex
	clients    map[string]*fakeClient
	acquireErr map[string]error
	cancelled  []uint32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		clients:    make(map[string]*fakeClient),
		acquireErr: make(map[string]error),
	}
}

func (p *fakeProvider) client(key string) *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}
	c := &fakeClient{pid: uint32(1000 + len(p.clients)), fail: map[string]string{}}
	p.clients[key] = c
	return c
}

func (p *fakeProvider) Acquire(ctx context.Context, cloud, database string) (Client, error) {
	key := pool.HandleKey(cloud, database)
	p.mu.Lock()
	err := p.acquireErr[key]
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.client(key), nil
}

func (p *fakeProvider) CancelBackend(ctx context.Context, cloud, database string, pid uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, pid)
	return nil
}

func testSettings() config.Settings {
	return config.Settings{
		StatementTimeout: config.DefaultStatementTimeout,
		MaxQueryTimeout:  config.DefaultMaxQueryTimeout,
	}
}

func newTestExecutor(t *testing.T, provider ClientProvider) (*Executor, *execstore.MemoryStore) {
	t.Helper()
	cfg := &config.CloudConfig{
		Primary: config.SQLCloud{
			CloudName: "aws-primary",
			Databases: []config.DatabaseConfig{{Name: "app"}},
		},
		Secondaries: []config.SQLCloud{
			{CloudName: "gcp-secondary", Databases: []config.DatabaseConfig{{Name: "app"}}},
		},
	}
	store := execstore.NewMemoryStore()
	t.Cleanup(store.Close)
	return NewExecutor(provider, cfg, store, execstore.NewActiveClients(), testSettings(), slog.Default()), store
}

func responseFor(t *testing.T, store execstore.Store, id string) *Response {
	t.Helper()
	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.Result)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Result, &resp))
	return &resp
}

func TestTargetsBothAndSingle(t *testing.T) {
	e, _ := newTestExecutor(t, newFakeProvider())

	assert.Equal(t, []string{"aws-primary", "gcp-secondary"},
		e.Targets(Request{Mode: ModeBoth}))
	assert.Equal(t, []string{"gcp-secondary"},
		e.Targets(Request{Mode: "gcp-secondary"}))
}

func TestExecuteSingleStatementBothClouds(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	e, store := newTestExecutor(t, provider)

	require.NoError(t, store.Init(ctx, "exec-1", "alice"))
	e.Execute(ctx, "exec-1", Request{Query: "SELECT * FROM t", Database: "app", Mode: ModeBoth})

	resp := responseFor(t, store, "exec-1")
	assert.True(t, resp.Success)
	require.Len(t, resp.Targets, 2)
	for _, cloud := range []string{"aws-primary", "gcp-secondary"} {
		target := resp.Targets[cloud]
		assert.True(t, target.Success)
		require.Len(t, target.Results, 1)
		sr := target.Results[0]
		assert.True(t, sr.Success)
		assert.Equal(t, "SELECT", sr.Command)
		assert.Equal(t, int64(1), sr.RowCount)
		require.Len(t, sr.Fields, 1)
		assert.Equal(t, "id", sr.Fields[0].Name)
		assert.Equal(t, uint32(23), sr.Fields[0].DataTypeID)
	}

	rec, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusCompleted, rec.Status)
	assert.NotZero(t, rec.EndTime)
}

func TestExecuteAutoRollbackStopsOnError(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")
	client.fail["INVALID_SQL"] = `syntax error at or near "INVALID_SQL"`

	e, store := newTestExecutor(t, provider)
	require.NoError(t, store.Init(ctx, "exec-2", "alice"))
	e.Execute(ctx, "exec-2", Request{
		Query:    "BEGIN; UPDATE t SET x=1 WHERE id=1; INVALID_SQL; INSERT INTO t VALUES(2)",
		Database: "app",
		Mode:     "aws-primary",
	})

	resp := responseFor(t, store, "exec-2")
	assert.False(t, resp.Success)
	target := resp.Targets["aws-primary"]
	assert.False(t, target.Success)

	require.Len(t, target.Results, 4)
	assert.True(t, target.Results[0].Success)
	assert.Equal(t, "BEGIN", target.Results[0].Statement)
	assert.True(t, target.Results[1].Success)
	assert.False(t, target.Results[2].Success)
	assert.Contains(t, target.Results[2].Error, "syntax error")
	assert.Equal(t, "ROLLBACK (auto)", target.Results[3].Statement)
	assert.True(t, target.Results[3].Success)

	// The statement after the failure never ran.
	for _, ran := range client.ranStatements() {
		assert.NotContains(t, ran, "INSERT")
	}
	assert.True(t, client.released)
}

func TestExecuteContinueOnError(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")
	client.fail["INVALID_SQL"] = "syntax error"

	e, store := newTestExecutor(t, provider)
	require.NoError(t, store.Init(ctx, "exec-3", "alice"))
	e.Execute(ctx, "exec-3", Request{
		Query:           "BEGIN; UPDATE t SET x=1 WHERE id=1; INVALID_SQL; INSERT INTO t VALUES(2)",
		Database:        "app",
		Mode:            "aws-primary",
		ContinueOnError: true,
	})

	resp := responseFor(t, store, "exec-3")
	assert.False(t, resp.Success, "any failed statement fails the batch")
	target := resp.Targets["aws-primary"]

	require.Len(t, target.Results, 5)
	assert.Equal(t, "ROLLBACK (auto)", target.Results[3].Statement)
	assert.True(t, target.Results[4].Success)
	assert.Equal(t, "INSERT INTO t VALUES(2)", target.Results[4].Statement)
}

func TestExecuteAcquireFailureIsPerTarget(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.acquireErr["gcp-secondary:app"] = errors.New("dial tcp 10.0.0.9:5432: connect: connection refused")

	e, store := newTestExecutor(t, provider)
	require.NoError(t, store.Init(ctx, "exec-4", "alice"))
	e.Execute(ctx, "exec-4", Request{
		Query:    "SELECT 1; SELECT 2",
		Database: "app",
		Mode:     ModeBoth,
	})

	resp := responseFor(t, store, "exec-4")
	assert.False(t, resp.Success)
	assert.True(t, resp.Targets["aws-primary"].Success, "healthy target is unaffected")

	failed := resp.Targets["gcp-secondary"]
	assert.False(t, failed.Success)
	assert.NotContains(t, failed.Error, "10.0.0.9", "endpoint addresses are redacted")
	// Multi-statement connect failure reports every statement uniformly.
	require.Len(t, failed.Results, 2)
	assert.Equal(t, failed.Results[0].Error, failed.Results[1].Error)
}

func TestExecuteInvalidSchemaFailsFast(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")

	e, store := newTestExecutor(t, provider)
	require.NoError(t, store.Init(ctx, "exec-5", "alice"))
	e.Execute(ctx, "exec-5", Request{
		Query:    "SELECT 1",
		Database: "app",
		Mode:     "aws-primary",
		PGSchema: "public; DROP TABLE x",
	})

	resp := responseFor(t, store, "exec-5")
	target := resp.Targets["aws-primary"]
	assert.False(t, target.Success)
	assert.NotEmpty(t, target.Error)
	assert.Empty(t, client.ranStatements(), "nothing reaches the engine")
	assert.True(t, client.released)
}

func TestExecuteStatementTimeoutMessage(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")
	client.delay = 50 * time.Millisecond

	e, store := newTestExecutor(t, provider)
	e.settings.StatementTimeout = 10 * time.Millisecond
	e.settings.MaxQueryTimeout = 10 * time.Millisecond

	require.NoError(t, store.Init(ctx, "exec-6", "alice"))
	e.Execute(ctx, "exec-6", Request{Query: "SELECT pg_sleep(10)", Database: "app", Mode: "aws-primary"})

	resp := responseFor(t, store, "exec-6")
	target := resp.Targets["aws-primary"]
	require.Len(t, target.Results, 1)
	assert.False(t, target.Results[0].Success)
	assert.Equal(t, "Statement timeout after 10ms", target.Results[0].Error)
}

func TestExecuteCancellationHaltsBetweenStatements(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")

	e, store := newTestExecutor(t, provider)
	require.NoError(t, store.Init(ctx, "exec-7", "alice"))
	require.NoError(t, store.MarkCancelled(ctx, "exec-7"))

	e.Execute(ctx, "exec-7", Request{Query: "SELECT 1; SELECT 2", Database: "app", Mode: "aws-primary"})

	rec, err := store.Get(ctx, "exec-7")
	require.NoError(t, err)
	assert.Equal(t, execstore.StatusCancelled, rec.Status, "cancelled sticks through completion")
	assert.Empty(t, client.ranStatements())
}

func TestCancelIssuesEngineCancel(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	e, store := newTestExecutor(t, provider)

	require.NoError(t, store.Init(ctx, "exec-8", "alice"))
	e.active.Register("exec-8", "aws-primary:app", nil, 4242)

	require.NoError(t, e.Cancel(ctx, "exec-8"))
	assert.Equal(t, []uint32{4242}, provider.cancelled)
	assert.True(t, store.IsCancelled(ctx, "exec-8"))

	// Idempotent.
	require.NoError(t, e.Cancel(ctx, "exec-8"))
}

func TestStatementTimeoutBounds(t *testing.T) {
	e, _ := newTestExecutor(t, newFakeProvider())
	e.settings.StatementTimeout = 5 * time.Second
	e.settings.MaxQueryTimeout = 60 * time.Second

	assert.Equal(t, 5*time.Second, e.statementTimeout(Request{}))
	assert.Equal(t, 30*time.Second, e.statementTimeout(Request{TimeoutMs: 30_000}))
	assert.Equal(t, 60*time.Second, e.statementTimeout(Request{TimeoutMs: 600_000}), "request timeout is capped")
}

func TestTransactionBoundary(t *testing.T) {
	tests := []struct {
		sql  string
		want int
	}{
		{"BEGIN", txEnter},
		{"START TRANSACTION", txEnter},
		{"COMMIT", txLeave},
		{"ROLLBACK", txLeave},
		{"rollback to savepoint s1", txLeave},
		{"SELECT 1", txNone},
		{"UPDATE t SET x=1", txNone},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, transactionBoundary(tt.sql))
		})
	}
}

func TestCommandWord(t *testing.T) {
	assert.Equal(t, "INSERT", commandWord("INSERT 0 1"))
	assert.Equal(t, "SELECT", commandWord("SELECT 5"))
	assert.Equal(t, "BEGIN", commandWord("BEGIN"))
}

func TestExecutePublishesProgress(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	e, store := newTestExecutor(t, provider)

	require.NoError(t, store.Init(ctx, "exec-9", "alice"))
	e.Execute(ctx, "exec-9", Request{Query: "SELECT 1; SELECT 2; SELECT 3", Database: "app", Mode: "aws-primary"})

	rec, err := store.Get(ctx, "exec-9")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Progress.TotalStatements)
	assert.Equal(t, 3, rec.Progress.CurrentStatement)
}

func TestRunStatementErrorText(t *testing.T) {
	provider := newFakeProvider()
	client := provider.client("aws-primary:app")
	client.fail["DELETE FROM t"] = fmt.Sprintf("relation %q does not exist", "t")

	e, _ := newTestExecutor(t, provider)
	sr := e.runStatement(context.Background(), client, "DELETE FROM t", time.Second)
	assert.False(t, sr.Success)
	assert.Contains(t, sr.Error, "does not exist")
}
