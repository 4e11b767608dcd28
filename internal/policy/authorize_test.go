package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name           string
		role           Role
		sql            string
		wantAllowed    bool
		wantReauth     bool
		reasonContains string
	}{
		{
			name:        "reader may select",
			role:        RoleReader,
			sql:         "SELECT * FROM t",
			wantAllowed: true,
		},
		{
			name:           "reader may not write",
			role:           RoleReader,
			sql:            "INSERT INTO t VALUES (1)",
			wantAllowed:    false,
			reasonContains: "READER",
		},
		{
			name:           "reader may not open transactions",
			role:           RoleReader,
			sql:            "BEGIN",
			wantAllowed:    false,
			reasonContains: "Transaction-Control",
		},
		{
			name:        "user may write",
			role:        RoleUser,
			sql:         "UPDATE t SET x=1 WHERE id=1",
			wantAllowed: true,
		},
		{
			name:        "user may run safe ddl",
			role:        RoleUser,
			sql:         "CREATE INDEX idx ON t (id)",
			wantAllowed: true,
		},
		{
			name:           "user may not drop tables",
			role:           RoleUser,
			sql:            "DROP TABLE t;",
			wantAllowed:    false,
			reasonContains: "Ddl-Destructive",
		},
		{
			name:        "master drop table requires reauth",
			role:        RoleMaster,
			sql:         "DROP TABLE t",
			wantAllowed: true,
			wantReauth:  true,
		},
		{
			name:        "master guarded delete requires reauth",
			role:        RoleMaster,
			sql:         "DELETE FROM t WHERE id=1",
			wantAllowed: true,
			wantReauth:  true,
		},
		{
			name:        "master unbounded update requires reauth",
			role:        RoleMaster,
			sql:         "UPDATE t SET x=1",
			wantAllowed: true,
			wantReauth:  true,
		},
		{
			name:        "master plain select needs no reauth",
			role:        RoleMaster,
			sql:         "SELECT 1",
			wantAllowed: true,
			wantReauth:  false,
		},
		{
			name:           "blocked system denied even for master",
			role:           RoleMaster,
			sql:            "DROP DATABASE prod",
			wantAllowed:    false,
			reasonContains: "blocked for all roles",
		},
		{
			name:        "one dangerous statement taints the batch",
			role:        RoleMaster,
			sql:         "SELECT 1; DELETE FROM t WHERE id=1; SELECT 2",
			wantAllowed: true,
			wantReauth:  true,
		},
		{
			name:           "one denied statement denies the batch",
			role:           RoleUser,
			sql:            "SELECT 1; DROP TABLE t; SELECT 2",
			wantAllowed:    false,
			reasonContains: "Ddl-Destructive",
		},
		{
			name:           "unknown role denied",
			role:           Role("ADMIN"),
			sql:            "SELECT 1",
			wantAllowed:    false,
			reasonContains: "unknown role",
		},
		{
			name:           "empty batch denied",
			role:           RoleMaster,
			sql:            "-- nothing",
			wantAllowed:    false,
			reasonContains: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := Authorize(tt.role, ClassifySQL(tt.sql))
			assert.Equal(t, tt.wantAllowed, decision.Allowed)
			assert.Equal(t, tt.wantReauth, decision.RequiresPasswordReauth)
			if tt.reasonContains != "" {
				assert.Contains(t, decision.Reason, tt.reasonContains)
			}
		})
	}
}
