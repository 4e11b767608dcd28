package sqlexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/dbfleet/internal/config"
	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/instrumentation"
	"github.com/giantswarm/dbfleet/internal/logging"
	"github.com/giantswarm/dbfleet/internal/policy"
	"github.com/giantswarm/dbfleet/internal/pool"
)

// ModeBoth fans a request out to the primary and every secondary cloud.
// Any other mode value names a single cloud.
const ModeBoth = "both"

// Request is a validated SQL submission.
type Request struct {
	Query           string
	Database        string
	Mode            string
	PGSchema        string
	TimeoutMs       int
	ContinueOnError bool
}

// Executor fans SQL batches out across clouds.
type Executor struct {
	provider ClientProvider
	cfg      *config.CloudConfig
	store    execstore.Store
	active   *execstore.ActiveClients
	settings config.Settings
	logger   *slog.Logger
}

// NewExecutor wires the fan-out executor.
func NewExecutor(provider ClientProvider, cfg *config.CloudConfig, store execstore.Store, active *execstore.ActiveClients, settings config.Settings, logger *slog.Logger) *Executor {
	return &Executor{
		provider: provider,
		cfg:      cfg,
		store:    store,
		active:   active,
		settings: settings,
		logger:   logging.WithOperation(logger, "sqlexec"),
	}
}

// Targets resolves the cloud names a request fans out to. Clouds that do not
// declare the requested database still appear; they fail per target at
// acquisition time so one bad cloud never hides the others' results.
func (e *Executor) Targets(req Request) []string {
	if req.Mode != ModeBoth {
		return []string{req.Mode}
	}
	clouds := e.cfg.SQLClouds()
	names := make([]string, 0, len(clouds))
	for _, c := range clouds {
		names = append(names, c.CloudName)
	}
	return names
}

// Execute runs the batch to completion and persists the terminal record.
// The caller initialises the record first and runs Execute on its own
// goroutine; errors are captured into the record, never returned.
func (e *Executor) Execute(ctx context.Context, execID string, req Request) {
	logger := logging.WithExecution(e.logger, execID)
	statements := policy.ClassifySQL(req.Query)
	targets := e.Targets(req)

	logger.Info("starting SQL fan-out",
		slog.Int("statements", len(statements)),
		slog.Int("targets", len(targets)),
		logging.Database(req.Database))

	resp := &Response{Targets: make(map[string]TargetResult, len(targets))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, cloud := range targets {
		g.Go(func() error {
			result := e.runTarget(gctx, execID, cloud, req, statements)

			mu.Lock()
			resp.Targets[cloud] = result
			partial, err := json.Marshal(resp)
			mu.Unlock()
			if err == nil {
				if serr := e.store.SavePartial(gctx, execID, partial); serr != nil {
					logger.Warn("failed to flush partial result", logging.SanitizedErr(serr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	resp.Success = true
	for _, t := range resp.Targets {
		if !t.Success {
			resp.Success = false
			break
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"success":false}`)
	}
	if err := e.store.Complete(ctx, execID, payload, resp.Success); err != nil {
		logger.Error("failed to persist terminal result", logging.SanitizedErr(err))
	}
	e.active.CompleteActive(execID)

	status := logging.StatusSuccess
	terminal := string(execstore.StatusCompleted)
	if e.store.IsCancelled(ctx, execID) {
		terminal = string(execstore.StatusCancelled)
	} else if !resp.Success {
		status = logging.StatusError
		terminal = string(execstore.StatusFailed)
	}
	instrumentation.ExecutionFinished("sql", terminal)
	logger.Info("SQL fan-out finished", logging.Status(status))
}

// Cancel marks the execution cancelled and, when this replica holds live
// engine sessions for it, cancels each of them administratively. Best effort
// across replicas: elsewhere only the shared flag is observed.
func (e *Executor) Cancel(ctx context.Context, execID string) error {
	if err := e.store.MarkCancelled(ctx, execID); err != nil {
		return err
	}
	for _, session := range e.active.BackendSessions(execID) {
		cloud, database := pool.SplitHandleKey(session.CloudKey)
		if err := e.provider.CancelBackend(ctx, cloud, database, session.PID); err != nil {
			e.logger.Warn("engine-level cancel failed",
				logging.ExecutionID(execID),
				logging.Cloud(cloud),
				logging.SanitizedErr(err))
		}
	}
	return nil
}

func (e *Executor) runTarget(ctx context.Context, execID, cloud string, req Request, statements []policy.Statement) TargetResult {
	start := time.Now()
	result := TargetResult{Cloud: cloud, Database: req.Database}
	cloudKey := pool.HandleKey(cloud, req.Database)
	logger := logging.WithCloud(logging.WithExecution(e.logger, execID), cloud)

	client, err := e.provider.Acquire(ctx, cloud, req.Database)
	if err != nil {
		msg := logging.SanitizeHost(err.Error())
		result.Error = msg
		// Multi-statement requests report every statement with the connect
		// error so the result shape stays uniform for the caller.
		if len(statements) > 1 {
			for _, st := range statements {
				result.Results = append(result.Results, StatementResult{Statement: st.Text, Error: msg})
			}
		}
		result.DurationMs = time.Since(start).Milliseconds()
		logger.Error("failed to acquire client", logging.SanitizedErr(err))
		return result
	}
	e.active.Register(execID, cloudKey, client, client.BackendPID())
	defer func() {
		client.Release()
		e.active.Release(execID, cloudKey)
	}()

	if req.PGSchema != "" {
		if err := e.setSearchPath(ctx, client, req.PGSchema); err != nil {
			result.Error = err.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			return result
		}
	}

	timeout := e.statementTimeout(req)
	inTransaction := false
	success := true
	total := len(statements)

	for i, st := range statements {
		if e.store.IsCancelled(ctx, execID) {
			logger.Info("halting at cancellation check", slog.Int("statement", i+1))
			break
		}
		if err := e.store.UpdateProgress(ctx, execID, i+1, total, st.Text); err != nil {
			logger.Warn("failed to publish progress", logging.SanitizedErr(err))
		}

		sr := e.runStatement(ctx, client, st.Text, timeout)
		result.Results = append(result.Results, sr)
		instrumentation.ObserveStatement(cloud, statementStatus(sr), time.Duration(sr.DurationMs)*time.Millisecond)

		if sr.Success {
			switch transactionBoundary(st.Text) {
			case txEnter:
				inTransaction = true
			case txLeave:
				inTransaction = false
			}
			continue
		}

		success = false
		logger.Warn("statement failed",
			logging.Statement(st.Text),
			slog.String("statement_error", sr.Error))

		if inTransaction && !st.Category.IsTransactionControl() {
			rollback := e.runStatement(ctx, client, "ROLLBACK", timeout)
			rollback.Statement = "ROLLBACK (auto)"
			result.Results = append(result.Results, rollback)
			inTransaction = false
		}
		if !req.ContinueOnError {
			break
		}
	}

	result.Success = success
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// setSearchPath validates the schema name and applies it to the session.
// The identifier check runs before anything reaches the engine.
func (e *Executor) setSearchPath(ctx context.Context, client Client, schema string) error {
	if err := policy.ValidateIdentifier(schema); err != nil {
		return err
	}
	if _, err := client.Run(ctx, `SET search_path TO "`+schema+`"`); err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	return nil
}

func (e *Executor) runStatement(ctx context.Context, client Client, text string, timeout time.Duration) StatementResult {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := client.Run(sctx, text)
	sr := StatementResult{
		Statement:  text,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			sr.Error = fmt.Sprintf("Statement timeout after %dms", timeout.Milliseconds())
		} else {
			sr.Error = logging.SanitizeHost(err.Error())
		}
		return sr
	}
	sr.Success = true
	sr.Command = out.Command
	sr.RowCount = out.RowCount
	sr.Rows = out.Rows
	sr.Fields = out.Fields
	return sr
}

// statementTimeout is the larger of the configured statement timeout and the
// request's own, capped by the configured maximum.
func (e *Executor) statementTimeout(req Request) time.Duration {
	t := e.settings.StatementTimeout
	if reqTimeout := time.Duration(req.TimeoutMs) * time.Millisecond; reqTimeout > t {
		t = reqTimeout
	}
	if e.settings.MaxQueryTimeout > 0 && t > e.settings.MaxQueryTimeout {
		t = e.settings.MaxQueryTimeout
	}
	if t <= 0 {
		t = config.DefaultStatementTimeout
	}
	return t
}

func statementStatus(sr StatementResult) string {
	if sr.Success {
		return logging.StatusSuccess
	}
	return logging.StatusError
}

// Transaction state machine moves.
const (
	txNone = iota
	txEnter
	txLeave
)

// transactionBoundary reports how a successfully executed statement moves
// the in-transaction state.
func transactionBoundary(text string) int {
	fields := strings.Fields(strings.ToUpper(text))
	if len(fields) == 0 {
		return txNone
	}
	switch fields[0] {
	case "BEGIN", "START":
		return txEnter
	case "COMMIT", "ROLLBACK", "END", "ABORT":
		return txLeave
	}
	return txNone
}
