package kvscan

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/instrumentation"
	"github.com/giantswarm/dbfleet/internal/logging"
)

// Scan actions.
const (
	ActionPreview = "preview"
	ActionDelete  = "delete"
)

// CloudAll fans the scan out to every configured key-value cloud.
const CloudAll = "all"

// Per-cloud scan statuses.
const (
	StatusScanning  = "scanning"
	StatusDeleting  = "deleting"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Tuning constants for the scan loop.
const (
	// PreviewCap bounds the keys kept in the visible preview per cloud.
	// Keys beyond the cap still count toward keysFound and are deleted.
	PreviewCap = 10_000

	// MinScanCount and MaxScanCount clamp the per-iteration COUNT hint.
	MinScanCount = 1
	MaxScanCount = 200_000

	// iterationSleep yields scheduler time between non-terminal iterations
	// so a long walk does not monopolise a node.
	iterationSleep = 100 * time.Millisecond

	// deleteBatchSize is how many keys one UNLINK round trip carries.
	deleteBatchSize = 1000
)

// errCancelled aborts a cursor walk when the cancel flag is observed.
var errCancelled = errors.New("scan cancelled")

// Request is a validated scan submission.
type Request struct {
	Pattern   string
	Cloud     string
	Action    string
	ScanCount int64
}

// CloudProgress is the externally visible state of one cloud's scan.
type CloudProgress struct {
	CloudName    string   `json:"cloudName"`
	NodesTotal   int      `json:"nodesTotal"`
	NodesScanned int      `json:"nodesScanned"`
	KeysFound    int      `json:"keysFound"`
	KeysDeleted  int      `json:"keysDeleted"`
	Keys         []string `json:"keys"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
}

// Response is the scan result stored on the execution record, keyed by
// cloud name.
type Response struct {
	Success bool                      `json:"success"`
	Action  string                    `json:"action"`
	Pattern string                    `json:"pattern"`
	Status  string                    `json:"status"`
	Clouds  map[string]*CloudProgress `json:"clouds"`
}

// Executor runs SCAN fan-outs across key-value clouds.
type Executor struct {
	cluster Cluster
	cfg     *config.CloudConfig
	store   execstore.Store
	logger  *slog.Logger

	// sleep is swapped out in tests so cursor walks do not wait.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor wires the scan executor.
func NewExecutor(cluster Cluster, cfg *config.CloudConfig, store execstore.Store, logger *slog.Logger) *Executor {
	return &Executor{
		cluster: cluster,
		cfg:     cfg,
		store:   store,
		logger:  logging.WithOperation(logger, "kvscan"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Targets resolves the key-value cloud names a request fans out to.
func (e *Executor) Targets(req Request) []string {
	if req.Cloud != CloudAll {
		return []string{req.Cloud}
	}
	names := make([]string, 0, len(e.cfg.KVClouds))
	for _, c := range e.cfg.KVClouds {
		names = append(names, c.CloudName)
	}
	return names
}

// ClampScanCount bounds the COUNT hint to the supported range.
func ClampScanCount(n int64) int64 {
	if n < MinScanCount {
		return MinScanCount
	}
	if n > MaxScanCount {
		return MaxScanCount
	}
	return n
}

// Run executes the scan to completion and persists the terminal record. The
// caller initialises the record first and runs Run on its own goroutine.
func (e *Executor) Run(ctx context.Context, execID string, req Request) {
	logger := logging.WithExecution(e.logger, execID)
	req.ScanCount = ClampScanCount(req.ScanCount)
	targets := e.Targets(req)

	logger.Info("starting cache scan",
		slog.String(logging.KeyPattern, req.Pattern),
		slog.String("action", req.Action),
		slog.Int("targets", len(targets)))

	resp := &Response{
		Action:  req.Action,
		Pattern: req.Pattern,
		Status:  StatusScanning,
		Clouds:  make(map[string]*CloudProgress, len(targets)),
	}
	var mu sync.Mutex
	for _, cloud := range targets {
		resp.Clouds[cloud] = &CloudProgress{CloudName: cloud, Status: StatusScanning}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cloud := range targets {
		g.Go(func() error {
			e.runCloud(gctx, execID, req, resp.Clouds[cloud], resp, &mu)
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	resp.Status = overallStatus(resp.Clouds)
	resp.Success = resp.Status == StatusCompleted
	payload, err := json.Marshal(resp)
	mu.Unlock()
	if err != nil {
		payload = []byte(`{"success":false}`)
	}
	if err := e.store.Complete(ctx, execID, payload, resp.Success); err != nil {
		logger.Error("failed to persist terminal result", logging.SanitizedErr(err))
	}
	instrumentation.ExecutionFinished("scan", resp.Status)
	logger.Info("cache scan finished", logging.Status(resp.Status))
}

// Cancel marks the run cancelled; the executor halts at its next iteration
// boundary. Idempotent.
func (e *Executor) Cancel(ctx context.Context, execID string) error {
	return e.store.MarkCancelled(ctx, execID)
}

func (e *Executor) runCloud(ctx context.Context, execID string, req Request, prog *CloudProgress, resp *Response, mu *sync.Mutex) {
	logger := logging.WithCloud(logging.WithExecution(e.logger, execID), prog.CloudName)

	masters, err := e.cluster.Masters(ctx, prog.CloudName)
	if err != nil {
		e.failCloud(ctx, execID, prog, resp, mu, err)
		return
	}
	mu.Lock()
	prog.NodesTotal = len(masters)
	mu.Unlock()
	e.flush(ctx, execID, resp, mu)

	// Full key collection for the delete phase. The visible preview in
	// prog.Keys is capped separately.
	var collected []string

	for _, node := range masters {
		if e.store.IsCancelled(ctx, execID) {
			e.cancelCloud(ctx, execID, prog, resp, mu)
			return
		}
		keys, err := e.scanNode(ctx, execID, req, node.Addr, prog, resp, mu)
		if err != nil {
			if errors.Is(err, errCancelled) || e.store.IsCancelled(ctx, execID) {
				e.cancelCloud(ctx, execID, prog, resp, mu)
				return
			}
			logger.Error("node scan failed", slog.String(logging.KeyNode, logging.SanitizeHost(node.Addr)), logging.SanitizedErr(err))
			e.failCloud(ctx, execID, prog, resp, mu, err)
			return
		}
		collected = append(collected, keys...)
		mu.Lock()
		prog.NodesScanned++
		mu.Unlock()
		e.flush(ctx, execID, resp, mu)
	}
	instrumentation.ScanKeysFound(prog.CloudName, len(collected))

	if req.Action == ActionDelete {
		if !e.deleteKeys(ctx, execID, prog, resp, mu, collected) {
			return
		}
	}

	mu.Lock()
	prog.Status = StatusCompleted
	mu.Unlock()
	e.flush(ctx, execID, resp, mu)
}

// scanNode walks one node's keyspace. Returns every matched key; the
// published preview is capped inside the progress update.
func (e *Executor) scanNode(ctx context.Context, execID string, req Request, addr string, prog *CloudProgress, resp *Response, mu *sync.Mutex) ([]string, error) {
	client := e.cluster.DialNode(addr)
	defer client.Close()

	var found []string
	var cursor uint64
	for {
		if e.store.IsCancelled(ctx, execID) {
			return found, errCancelled
		}
		keys, next, err := client.Scan(ctx, cursor, req.Pattern, req.ScanCount)
		if err != nil {
			return found, err
		}
		found = append(found, keys...)

		mu.Lock()
		prog.KeysFound += len(keys)
		if room := PreviewCap - len(prog.Keys); room > 0 {
			if len(keys) > room {
				keys = keys[:room]
			}
			prog.Keys = append(prog.Keys, keys...)
		}
		mu.Unlock()
		e.flush(ctx, execID, resp, mu)

		cursor = next
		if cursor == 0 {
			return found, nil
		}
		e.sleep(ctx, iterationSleep)
	}
}

// deleteKeys runs the UNLINK phase. Returns false when the run was cancelled
// mid-phase; the partial keysDeleted count is preserved either way.
func (e *Executor) deleteKeys(ctx context.Context, execID string, prog *CloudProgress, resp *Response, mu *sync.Mutex, keys []string) bool {
	mu.Lock()
	prog.Status = StatusDeleting
	mu.Unlock()
	e.flush(ctx, execID, resp, mu)

	for start := 0; start < len(keys); start += deleteBatchSize {
		if e.store.IsCancelled(ctx, execID) {
			e.cancelCloud(ctx, execID, prog, resp, mu)
			return false
		}
		end := min(start+deleteBatchSize, len(keys))
		batch := keys[start:end]

		if _, err := e.cluster.Unlink(ctx, prog.CloudName, batch); err != nil {
			e.failCloud(ctx, execID, prog, resp, mu, err)
			return false
		}
		instrumentation.ScanKeysDeleted(prog.CloudName, len(batch))
		mu.Lock()
		prog.KeysDeleted += len(batch)
		mu.Unlock()
		e.flush(ctx, execID, resp, mu)
	}
	return true
}

func (e *Executor) failCloud(ctx context.Context, execID string, prog *CloudProgress, resp *Response, mu *sync.Mutex, err error) {
	mu.Lock()
	prog.Status = StatusError
	prog.Error = logging.SanitizeHost(err.Error())
	mu.Unlock()
	e.flush(ctx, execID, resp, mu)
}

func (e *Executor) cancelCloud(ctx context.Context, execID string, prog *CloudProgress, resp *Response, mu *sync.Mutex) {
	mu.Lock()
	prog.Status = StatusCancelled
	mu.Unlock()
	e.flush(ctx, execID, resp, mu)
}

// flush writes the current response snapshot as a partial result.
func (e *Executor) flush(ctx context.Context, execID string, resp *Response, mu *sync.Mutex) {
	mu.Lock()
	payload, err := json.Marshal(resp)
	mu.Unlock()
	if err != nil {
		return
	}
	if err := e.store.SavePartial(ctx, execID, payload); err != nil {
		e.logger.Warn("failed to flush scan progress",
			logging.ExecutionID(execID), logging.SanitizedErr(err))
	}
}

// overallStatus resolves the run status: cancelled beats failed beats
// completed.
func overallStatus(clouds map[string]*CloudProgress) string {
	status := StatusCompleted
	for _, p := range clouds {
		switch p.Status {
		case StatusCancelled:
			return StatusCancelled
		case StatusError:
			status = StatusError
		}
	}
	if status == StatusError {
		return "failed"
	}
	return status
}
