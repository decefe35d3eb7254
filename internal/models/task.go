package models

import "time"

// Task kinds
const (
	TaskKindDomainActivation       = "domain_activation"
	TaskKindDeploymentFinalization = "deployment_finalization"
)

// Task status constants
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusFailed  = "failed"
)

// Task is a durable delayed transition. It is written in the same
// transaction as the change that schedules it.
type Task struct {
	ID          string
	Kind        string
	SubjectID   string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LockedUntil *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ActivityLog represents an operation log entry
type ActivityLog struct {
	ID        string
	SubjectID string
	Action    string
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
