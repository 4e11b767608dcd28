package execstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveClients(t *testing.T) {
	reg := NewActiveClients()

	reg.Register("exec-1", "aws-primary:mydb", "conn-a", 4711)
	reg.Register("exec-1", "gcp-secondary:mydb", "conn-b", 4712)
	reg.Register("exec-2", "aws-primary:mydb", "conn-c", 0)

	assert.True(t, reg.Tracked("exec-1"))
	assert.ElementsMatch(t, []string{"exec-1", "exec-2"}, reg.Executions())

	sessions := reg.BackendSessions("exec-1")
	require.Len(t, sessions, 2)
	pids := map[string]uint32{}
	for _, s := range sessions {
		pids[s.CloudKey] = s.PID
	}
	assert.Equal(t, uint32(4711), pids["aws-primary:mydb"])
	assert.Equal(t, uint32(4712), pids["gcp-secondary:mydb"])

	// Entries without a known pid are not cancellable sessions.
	assert.Empty(t, reg.BackendSessions("exec-2"))

	// Release removes one cloud but keeps the execution routable.
	reg.Release("exec-1", "aws-primary:mydb")
	assert.Len(t, reg.BackendSessions("exec-1"), 1)
	assert.True(t, reg.Tracked("exec-1"))

	// CompleteActive evicts the execution entirely.
	reg.CompleteActive("exec-1")
	assert.False(t, reg.Tracked("exec-1"))
	assert.Empty(t, reg.BackendSessions("exec-1"))

	// Releasing unknown entries is harmless.
	reg.Release("exec-9", "nowhere")
	reg.CompleteActive("exec-9")
}
