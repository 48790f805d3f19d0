// Package sqlite is the SQLite-backed implementation of the store
// interfaces: agents, tasks, execution logs, and call results.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/store"
)

// redialDelay spaces out re-dial attempts for never-connected calls.
const redialDelay = 5 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    handle       TEXT NOT NULL DEFAULT '',
    token        TEXT NOT NULL DEFAULT '',
    phone_number TEXT NOT NULL DEFAULT '',
    config       TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_handle ON agents(handle);
CREATE INDEX IF NOT EXISTS idx_agents_number ON agents(phone_number);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    thread_id    TEXT NOT NULL,
    agent_id     TEXT NOT NULL,
    phone_number TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    redial_count INTEGER NOT NULL DEFAULT 0,
    next_dial_at INTEGER,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_next_dial ON tasks(next_dial_at);

CREATE TABLE IF NOT EXISTS execution_logs (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    at      INTEGER NOT NULL,
    message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_task ON execution_logs(task_id);

CREATE TABLE IF NOT EXISTS results (
    session_id TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    ended_at   INTEGER NOT NULL,
    payload    TEXT NOT NULL
);
`

// Store is a SQLite-backed store. It satisfies store.ConfigStore,
// store.TaskStore, and store.ResultStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ store.ConfigStore = (*Store)(nil)
	_ store.TaskStore   = (*Store)(nil)
	_ store.ResultStore = (*Store)(nil)
)

// Open opens the database at path, creating the schema when missing.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64    { return t.UTC().UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// PutAgent stores or replaces an agent registration.
func (s *Store) PutAgent(ctx context.Context, a store.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("sqlite: agent id is required")
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO agents (id, handle, token, phone_number, config, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    handle = excluded.handle,
    token = excluded.token,
    phone_number = excluded.phone_number,
    config = excluded.config
`, a.ID, a.Handle, a.Token, a.PhoneNumber, string(cfg), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// ConfigByHandle resolves an agent by handle, checking the token when
// one is registered.
func (s *Store) ConfigByHandle(ctx context.Context, handle, token string) (call.Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token, config FROM agents WHERE handle = ?`, handle)
	var id, storedToken, raw string
	if err := row.Scan(&id, &storedToken, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call.Config{}, store.ErrNotFound
		}
		return call.Config{}, fmt.Errorf("query agent by handle: %w", err)
	}
	if storedToken != "" && storedToken != token {
		return call.Config{}, fmt.Errorf("sqlite: token mismatch for agent %q", handle)
	}
	return decodeConfig(id, raw)
}

// ConfigByNumber resolves an agent by the phone number it answers.
func (s *Store) ConfigByNumber(ctx context.Context, number string) (call.Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config FROM agents WHERE phone_number = ?`, number)
	var id, raw string
	if err := row.Scan(&id, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call.Config{}, store.ErrNotFound
		}
		return call.Config{}, fmt.Errorf("query agent by number: %w", err)
	}
	return decodeConfig(id, raw)
}

// ConfigByAgent resolves an agent by id.
func (s *Store) ConfigByAgent(ctx context.Context, agentID string) (call.Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config FROM agents WHERE id = ?`, agentID)
	var id, raw string
	if err := row.Scan(&id, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call.Config{}, store.ErrNotFound
		}
		return call.Config{}, fmt.Errorf("query agent by id: %w", err)
	}
	return decodeConfig(id, raw)
}

func decodeConfig(agentID, raw string) (call.Config, error) {
	var cfg call.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return call.Config{}, fmt.Errorf("decode agent config: %w", err)
	}
	cfg.AgentID = agentID
	return cfg, nil
}

// CreateTask creates a task and its conversation thread with
// pre-generated ids.
func (s *Store) CreateTask(ctx context.Context, agentID, phoneNumber string) (*store.Task, error) {
	now := s.now()
	t := &store.Task{
		ID:          store.NewTaskID(),
		ThreadID:    store.NewThreadID(),
		AgentID:     agentID,
		PhoneNumber: phoneNumber,
		Status:      call.StatusDialing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, thread_id, agent_id, phone_number, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, t.ID, t.ThreadID, t.AgentID, t.PhoneNumber, string(t.Status), toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Task loads one task.
func (s *Store) Task(ctx context.Context, id string) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, thread_id, agent_id, phone_number, status, reason, redial_count, next_dial_at, created_at, updated_at
FROM tasks WHERE id = ?
`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*store.Task, error) {
	var (
		t          store.Task
		status     string
		nextDialAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&t.ID, &t.ThreadID, &t.AgentID, &t.PhoneNumber, &status,
		&t.Reason, &t.RedialCount, &nextDialAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = call.Status(status)
	if nextDialAt.Valid {
		at := fromMillis(nextDialAt.Int64)
		t.NextDialAt = &at
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

// UpdateTaskStatus records the current status and reason on a task.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status call.Status, reason string) error {
	// A status change supersedes any pending redial slot; ScheduleRedial
	// re-arms it afterwards when needed.
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = ?, reason = ?, next_dial_at = NULL, updated_at = ? WHERE id = ?
`, string(status), reason, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ScheduleRedial re-queues a task for another dial attempt, bounded by
// the redial budget.
func (s *Store) ScheduleRedial(ctx context.Context, id string) (bool, error) {
	next := toMillis(s.now().Add(redialDelay))
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET redial_count = redial_count + 1, next_dial_at = ?, updated_at = ?
WHERE id = ? AND redial_count < ?
`, next, toMillis(s.now()), id, store.MaxRedials)
	if err != nil {
		return false, fmt.Errorf("schedule redial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("schedule redial: %w", err)
	}
	return n > 0, nil
}

// DueTasks lists tasks whose redial time has passed.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]*store.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, agent_id, phone_number, status, reason, redial_count, next_dial_at, created_at, updated_at
FROM tasks WHERE next_dial_at IS NOT NULL AND next_dial_at <= ?
ORDER BY next_dial_at
`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var out []*store.Task
	for rows.Next() {
		var (
			t          store.Task
			status     string
			nextDialAt sql.NullInt64
			createdAt  int64
			updatedAt  int64
		)
		err := rows.Scan(&t.ID, &t.ThreadID, &t.AgentID, &t.PhoneNumber, &status,
			&t.Reason, &t.RedialCount, &nextDialAt, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		t.Status = call.Status(status)
		if nextDialAt.Valid {
			at := fromMillis(nextDialAt.Int64)
			t.NextDialAt = &at
		}
		t.CreatedAt = fromMillis(createdAt)
		t.UpdatedAt = fromMillis(updatedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// AppendLog adds a line to a task's execution history.
func (s *Store) AppendLog(ctx context.Context, taskID, message string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO execution_logs (task_id, at, message) VALUES (?, ?, ?)
`, taskID, toMillis(s.now()), message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Logs returns a task's execution history in order.
func (s *Store) Logs(ctx context.Context, taskID string) ([]store.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, at, message FROM execution_logs WHERE task_id = ? ORDER BY id
`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []store.ExecutionLog
	for rows.Next() {
		var l store.ExecutionLog
		var at int64
		if err := rows.Scan(&l.TaskID, &at, &l.Message); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		l.At = fromMillis(at)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveResult persists a finished call result. Saving the same session
// twice keeps the latest copy.
func (s *Store) SaveResult(ctx context.Context, res *call.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO results (session_id, status, reason, started_at, ended_at, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    status = excluded.status,
    reason = excluded.reason,
    started_at = excluded.started_at,
    ended_at = excluded.ended_at,
    payload = excluded.payload
`, res.SessionID, string(res.Status), res.Reason,
		toMillis(res.StartedAt), toMillis(res.EndedAt), string(payload))
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Result loads a stored call result.
func (s *Store) Result(ctx context.Context, sessionID string) (*call.Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM results WHERE session_id = ?`, sessionID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query result: %w", err)
	}
	var res call.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
