// Package store defines the persistence and notification boundaries the
// voice worker depends on: agent configuration lookup, task and thread
// records, call results, and the web notification sink.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// MaxRedials bounds how many times a never-connected call is re-queued.
const MaxRedials = 2

// Task is one scheduled or running call job. The task id doubles as the
// session id of the call it produces.
type Task struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	AgentID     string      `json:"agent_id"`
	PhoneNumber string      `json:"phone_number"`
	Status      call.Status `json:"status"`
	Reason      string      `json:"reason,omitempty"`
	RedialCount int         `json:"redial_count"`
	NextDialAt  *time.Time  `json:"next_dial_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ExecutionLog is one line of a task's execution history.
type ExecutionLog struct {
	TaskID  string    `json:"task_id"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Agent is a stored agent registration with its call configuration.
type Agent struct {
	ID          string      `json:"id"`
	Handle      string      `json:"handle"`
	Token       string      `json:"token,omitempty"`
	PhoneNumber string      `json:"phone_number,omitempty"`
	Config      call.Config `json:"config"`
}

// ConfigStore resolves agent call configuration.
type ConfigStore interface {
	// ConfigByHandle looks an agent up by its public handle, checking
	// the supplied access token.
	ConfigByHandle(ctx context.Context, handle, token string) (call.Config, error)
	// ConfigByNumber looks an agent up by the phone number a caller
	// dialed.
	ConfigByNumber(ctx context.Context, number string) (call.Config, error)
	// ConfigByAgent looks an agent up by id.
	ConfigByAgent(ctx context.Context, agentID string) (call.Config, error)
}

// TaskStore manages call jobs and their execution history.
type TaskStore interface {
	CreateTask(ctx context.Context, agentID, phoneNumber string) (*Task, error)
	Task(ctx context.Context, id string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status call.Status, reason string) error
	// ScheduleRedial re-queues a never-connected task. Returns false
	// once the redial budget is spent.
	ScheduleRedial(ctx context.Context, id string) (bool, error)
	// DueTasks lists tasks whose next dial time has passed.
	DueTasks(ctx context.Context, now time.Time) ([]*Task, error)
	AppendLog(ctx context.Context, taskID, message string) error
	Logs(ctx context.Context, taskID string) ([]ExecutionLog, error)
}

// ResultStore persists finished call results.
type ResultStore interface {
	SaveResult(ctx context.Context, res *call.Result) error
	Result(ctx context.Context, sessionID string) (*call.Result, error)
}

// NewTaskID mints a task id.
func NewTaskID() string { return "T" + hexID() }

// NewThreadID mints a conversation thread id.
func NewThreadID() string { return "R" + hexID() }

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
