package sqlexec

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giantswarm/dbfleet/internal/pool"
)

// StatementOutput is the raw engine response for one statement.
type StatementOutput struct {
	Command  string
	RowCount int64
	Rows     []map[string]any
	Fields   []Field
}

// Client is one dedicated database session held for the duration of a
// target. Release must be called on every exit path.
type Client interface {
	// BackendPID is the engine session id, used to route pg_cancel_backend.
	// Zero when unknown.
	BackendPID() uint32

	// Run executes one statement and collects its result set.
	Run(ctx context.Context, sql string) (*StatementOutput, error)

	Release()
}

// ClientProvider acquires dedicated clients and routes administrative
// cancellation. The executor depends on this instead of the pool registry
// directly so tests can substitute fakes.
type ClientProvider interface {
	Acquire(ctx context.Context, cloud, database string) (Client, error)
	CancelBackend(ctx context.Context, cloud, database string, pid uint32) error
}

// PoolProvider adapts the pool registry to the ClientProvider interface.
type PoolProvider struct {
	Registry *pool.Registry
}

// Acquire implements ClientProvider.
func (p *PoolProvider) Acquire(ctx context.Context, cloud, database string) (Client, error) {
	conn, err := p.Registry.AcquireSQL(ctx, cloud, database)
	if err != nil {
		return nil, err
	}
	return &pgxClient{conn: conn}, nil
}

// CancelBackend implements ClientProvider.
func (p *PoolProvider) CancelBackend(ctx context.Context, cloud, database string, pid uint32) error {
	return p.Registry.CancelBackend(ctx, cloud, database, pid)
}

type pgxClient struct {
	conn *pgxpool.Conn
}

func (c *pgxClient) BackendPID() uint32 {
	return c.conn.Conn().PgConn().PID()
}

func (c *pgxClient) Release() {
	c.conn.Release()
}

func (c *pgxClient) Run(ctx context.Context, sql string) (*StatementOutput, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	fields := make([]Field, len(descs))
	for i, d := range descs {
		fields[i] = Field{Name: d.Name, DataTypeID: d.DataTypeOID}
	}

	var collected []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			if i < len(values) {
				row[f.Name] = values[i]
			}
		}
		collected = append(collected, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := rows.CommandTag()
	out := &StatementOutput{
		Command: commandWord(tag.String()),
		Rows:    collected,
		Fields:  fields,
	}
	if len(descs) > 0 {
		out.RowCount = int64(len(collected))
	} else {
		out.RowCount = tag.RowsAffected()
	}
	return out, nil
}

// commandWord extracts the verb from a command tag like "INSERT 0 1".
func commandWord(tag string) string {
	if i := strings.IndexByte(tag, ' '); i > 0 {
		return tag[:i]
	}
	return tag
}
