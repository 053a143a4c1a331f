package taskqueue

import (
	"strings"
	"time"
)

// Type names the kind of work a task represents. Stage tasks carry an item
// through one pipeline step; maintenance tasks run housekeeping.
type Type string

const (
	TypeDownload Type = "download"
	TypeParse    Type = "parse"
	TypeStore    Type = "store"
	TypeCleanup  Type = "cleanup"
)

var allTypes = []Type{TypeDownload, TypeParse, TypeStore, TypeCleanup}

// AllTypes returns the known task types.
func AllTypes() []Type {
	cp := make([]Type, len(allTypes))
	copy(cp, allTypes)
	return cp
}

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range allTypes {
		if normalized == t {
			return t, true
		}
	}
	return "", false
}

// Status is the task lifecycle discriminant.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a task status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one row in the tasks table.
type Task struct {
	ID         int64
	Type       Type
	Data       string
	Priority   int
	MaxRetries int
	RetryCount int
	Status     Status

	ErrorMessage string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	ScheduledAt    time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	LeaseExpiresAt *time.Time
}
