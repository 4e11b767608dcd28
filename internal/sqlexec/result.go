package sqlexec

// Field describes one column of a statement's result set.
type Field struct {
	Name       string `json:"name"`
	DataTypeID uint32 `json:"dataTypeID"`
}

// StatementResult is the outcome of one statement within a target.
type StatementResult struct {
	Statement  string           `json:"statement"`
	Success    bool             `json:"success"`
	Command    string           `json:"command,omitempty"`
	RowCount   int64            `json:"rowCount"`
	Rows       []map[string]any `json:"rows,omitempty"`
	Fields     []Field          `json:"fields,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// TargetResult aggregates one cloud's outcomes. Success is true only when
// every statement on the target succeeded.
type TargetResult struct {
	Cloud      string            `json:"cloud"`
	Database   string            `json:"database"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Results    []StatementResult `json:"results"`
}

// Response is the full fan-out result stored on the execution record. The
// wire shape keys per-cloud results by cloud name.
type Response struct {
	Success bool                    `json:"success"`
	Targets map[string]TargetResult `json:"results"`
}
