package execstore

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an execution record.
type Status string

// Execution statuses. Transitions are monotone: running may move to any
// terminal state, terminal states never change (cancelled wins races).
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the record is unknown or has expired.
	ErrNotFound = errors.New("execution record not found")

	// ErrAlreadyExists indicates an Init collision on an execution id.
	ErrAlreadyExists = errors.New("execution record already exists")
)

// Progress tracks per-statement advancement of a SQL execution. Cache scans
// report their progress inside the result payload instead.
type Progress struct {
	CurrentStatement     int    `json:"currentStatement"`
	TotalStatements      int    `json:"totalStatements"`
	CurrentStatementText string `json:"currentStatementText,omitempty"`
}

// Record is the durable snapshot of one asynchronous submission.
type Record struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId,omitempty"`
	Status   Status          `json:"status"`
	Progress Progress        `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`

	// StartTime and EndTime are epoch milliseconds. EndTime is set exactly
	// when the status becomes terminal.
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime,omitempty"`
}

// newRecord builds the initial running record for a submission.
func newRecord(id, userID string) *Record {
	return &Record{
		ID:        id,
		UserID:    userID,
		Status:    StatusRunning,
		StartTime: time.Now().UnixMilli(),
	}
}

// clone returns a copy safe to hand to callers while the store keeps
// mutating its own instance.
func (r *Record) clone() *Record {
	cp := *r
	if r.Result != nil {
		cp.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &cp
}
