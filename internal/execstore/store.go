package execstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/giantswarm/dbfleet/internal/logging"
)

// Store is the execution-record store consumed by the executors and the HTTP
// surface. Every method may suspend on network I/O and therefore takes a
// context.
type Store interface {
	// Init creates the record in status running. Fails with ErrAlreadyExists
	// if the id is taken.
	Init(ctx context.Context, id, userID string) error

	// Get reads a snapshot. Returns ErrNotFound for expired or unknown ids.
	Get(ctx context.Context, id string) (*Record, error)

	// UpdateProgress updates the progress fields. No-op if the record is
	// absent or terminal.
	UpdateProgress(ctx context.Context, id string, current, total int, text string) error

	// SavePartial writes the result without changing status. Used by the
	// fan-out after each cloud finishes.
	SavePartial(ctx context.Context, id string, result json.RawMessage) error

	// Complete transitions to completed or failed, respecting a prior
	// cancelled status, and sets EndTime. Idempotent for the same terminal
	// state.
	Complete(ctx context.Context, id string, result json.RawMessage, success bool) error

	// Fail transitions to failed with an error message, unless already
	// cancelled.
	Fail(ctx context.Context, id, errorMessage string) error

	// MarkCancelled forces status cancelled and sets EndTime. Also raises
	// the per-replica cancellation flag so executors on this replica halt at
	// their next suspension point without a round trip.
	MarkCancelled(ctx context.Context, id string) error

	// IsCancelled must be called at every suspension point inside executors.
	// The local flag is the fast path; shared stores are also consulted so a
	// cancel issued on another replica is observed.
	IsCancelled(ctx context.Context, id string) bool
}

// cancelFlags is the per-replica fast path for cancellation checks.
type cancelFlags struct {
	mu    sync.RWMutex
	flags map[string]struct{}
}

func newCancelFlags() *cancelFlags {
	return &cancelFlags{flags: make(map[string]struct{})}
}

func (c *cancelFlags) set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[id] = struct{}{}
}

func (c *cancelFlags) isSet(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.flags[id]
	return ok
}

func (c *cancelFlags) clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, id)
}

// TieredStore routes through the shared Redis tier and, when fallback is
// permitted (local development only), falls through to the in-memory tier on
// shared-tier errors. In production allowFallback must be false so store
// failures surface instead of silently degrading.
type TieredStore struct {
	shared        Store
	local         *MemoryStore
	allowFallback bool
	logger        *slog.Logger
}

// NewTieredStore wires the shared tier with an optional local fallback tier.
func NewTieredStore(shared Store, local *MemoryStore, allowFallback bool, logger *slog.Logger) *TieredStore {
	return &TieredStore{
		shared:        shared,
		local:         local,
		allowFallback: allowFallback,
		logger:        logging.WithOperation(logger, "execstore"),
	}
}

func (t *TieredStore) fallback(op string, err error) bool {
	if !t.allowFallback {
		return false
	}
	t.logger.Warn("shared execution store unavailable, using in-memory tier",
		slog.String("store_op", op), logging.SanitizedErr(err))
	return true
}

// Init implements Store.
func (t *TieredStore) Init(ctx context.Context, id, userID string) error {
	err := t.shared.Init(ctx, id, userID)
	if err != nil && !errors.Is(err, ErrAlreadyExists) && t.fallback("init", err) {
		return t.local.Init(ctx, id, userID)
	}
	return err
}

// Get implements Store.
func (t *TieredStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := t.shared.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) && t.fallback("get", err) {
		return t.local.Get(ctx, id)
	}
	if errors.Is(err, ErrNotFound) && t.allowFallback {
		return t.local.Get(ctx, id)
	}
	return rec, err
}

// UpdateProgress implements Store.
func (t *TieredStore) UpdateProgress(ctx context.Context, id string, current, total int, text string) error {
	err := t.shared.UpdateProgress(ctx, id, current, total, text)
	if err != nil && t.fallback("update_progress", err) {
		return t.local.UpdateProgress(ctx, id, current, total, text)
	}
	return err
}

// SavePartial implements Store.
func (t *TieredStore) SavePartial(ctx context.Context, id string, result json.RawMessage) error {
	err := t.shared.SavePartial(ctx, id, result)
	if err != nil && t.fallback("save_partial", err) {
		return t.local.SavePartial(ctx, id, result)
	}
	return err
}

// Complete implements Store.
func (t *TieredStore) Complete(ctx context.Context, id string, result json.RawMessage, success bool) error {
	err := t.shared.Complete(ctx, id, result, success)
	if err != nil && t.fallback("complete", err) {
		return t.local.Complete(ctx, id, result, success)
	}
	return err
}

// Fail implements Store.
func (t *TieredStore) Fail(ctx context.Context, id, errorMessage string) error {
	err := t.shared.Fail(ctx, id, errorMessage)
	if err != nil && t.fallback("fail", err) {
		return t.local.Fail(ctx, id, errorMessage)
	}
	return err
}

// MarkCancelled implements Store.
func (t *TieredStore) MarkCancelled(ctx context.Context, id string) error {
	err := t.shared.MarkCancelled(ctx, id)
	if err != nil && t.fallback("mark_cancelled", err) {
		return t.local.MarkCancelled(ctx, id)
	}
	return err
}

// IsCancelled implements Store. Both tiers keep their own local flag, so the
// fast path works regardless of which tier owns the record.
func (t *TieredStore) IsCancelled(ctx context.Context, id string) bool {
	if t.shared.IsCancelled(ctx, id) {
		return true
	}
	if t.allowFallback {
		return t.local.IsCancelled(ctx, id)
	}
	return false
}

var _ Store = (*TieredStore)(nil)
