package execstore

import "sync"

// BackendSession identifies one engine-level session owned by an execution,
// used to route administrative cancellation.
type BackendSession struct {
	CloudKey string
	PID      uint32
}

// activeEntry is one live client handle tracked for cancellation routing.
type activeEntry struct {
	handle any
	pid    uint32
}

// ActiveClients is the per-replica registry of live client handles keyed by
// execution id and cloud key. It never leaves the replica: engine-level
// cancellation can only be issued where the connection lives.
//
// Entries must be released on every exit path; a stale entry would route a
// cancel to a session that no longer belongs to the execution.
type ActiveClients struct {
	mu     sync.RWMutex
	byExec map[string]map[string]activeEntry
}

// NewActiveClients creates an empty registry.
func NewActiveClients() *ActiveClients {
	return &ActiveClients{byExec: make(map[string]map[string]activeEntry)}
}

// Register records a live handle for (execution, cloudKey). pid may be zero
// when the engine session id is unknown.
func (a *ActiveClients) Register(executionID, cloudKey string, handle any, pid uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, ok := a.byExec[executionID]
	if !ok {
		entries = make(map[string]activeEntry)
		a.byExec[executionID] = entries
	}
	entries[cloudKey] = activeEntry{handle: handle, pid: pid}
}

// Release removes the (execution, cloudKey) entry. The execution id itself is
// kept until CompleteActive so concurrent targets stay routable.
func (a *ActiveClients) Release(executionID, cloudKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entries, ok := a.byExec[executionID]; ok {
		delete(entries, cloudKey)
	}
}

// CompleteActive removes the execution id entirely.
func (a *ActiveClients) CompleteActive(executionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byExec, executionID)
}

// BackendSessions returns the engine session ids currently registered for
// the execution. Entries without a known pid are skipped.
func (a *ActiveClients) BackendSessions(executionID string) []BackendSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries, ok := a.byExec[executionID]
	if !ok {
		return nil
	}
	sessions := make([]BackendSession, 0, len(entries))
	for cloudKey, entry := range entries {
		if entry.pid == 0 {
			continue
		}
		sessions = append(sessions, BackendSession{CloudKey: cloudKey, PID: entry.pid})
	}
	return sessions
}

// Executions lists the execution ids with live handles on this replica.
func (a *ActiveClients) Executions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.byExec))
	for id := range a.byExec {
		ids = append(ids, id)
	}
	return ids
}

// Tracked reports whether the execution has any live handle on this replica.
func (a *ActiveClients) Tracked(executionID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byExec[executionID]
	return ok
}
