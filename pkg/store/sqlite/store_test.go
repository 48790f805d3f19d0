package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
	"github.com/parvbhullar/unpod-sub001/pkg/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAgentLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.PutAgent(ctx, store.Agent{
		ID:          "a-1",
		Handle:      "clinic-bot",
		Token:       "secret",
		PhoneNumber: "+15550100",
		Config:      call.Config{LLMModel: "gpt-4o-mini", Greeting: "Hi!"},
	})
	if err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	cfg, err := s.ConfigByHandle(ctx, "clinic-bot", "secret")
	if err != nil {
		t.Fatalf("ConfigByHandle: %v", err)
	}
	if cfg.AgentID != "a-1" || cfg.LLMModel != "gpt-4o-mini" {
		t.Fatalf("cfg=%+v", cfg)
	}

	if _, err := s.ConfigByHandle(ctx, "clinic-bot", "wrong"); err == nil {
		t.Fatal("token mismatch accepted")
	}
	if _, err := s.ConfigByHandle(ctx, "ghost", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	byNumber, err := s.ConfigByNumber(ctx, "+15550100")
	if err != nil {
		t.Fatalf("ConfigByNumber: %v", err)
	}
	if byNumber.AgentID != "a-1" {
		t.Fatalf("byNumber=%+v", byNumber)
	}

	byID, err := s.ConfigByAgent(ctx, "a-1")
	if err != nil {
		t.Fatalf("ConfigByAgent: %v", err)
	}
	if byID.Greeting != "Hi!" {
		t.Fatalf("byID=%+v", byID)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "a-1", "+15550111")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID[0] != 'T' || task.ThreadID[0] != 'R' {
		t.Fatalf("ids %q/%q, want T.../R...", task.ID, task.ThreadID)
	}
	if task.Status != call.StatusDialing {
		t.Fatalf("status=%s, want dialing", task.Status)
	}

	if err := s.UpdateTaskStatus(ctx, task.ID, call.StatusCompleted, "user_disconnected"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	got, err := s.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got.Status != call.StatusCompleted || got.Reason != "user_disconnected" {
		t.Fatalf("task=%+v", got)
	}

	if err := s.UpdateTaskStatus(ctx, "T-missing", call.StatusFailed, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestScheduleRedialBudget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "a-1", "+15550111")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	for i := 0; i < store.MaxRedials; i++ {
		ok, err := s.ScheduleRedial(ctx, task.ID)
		if err != nil {
			t.Fatalf("ScheduleRedial #%d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("redial #%d refused within budget", i+1)
		}
	}

	ok, err := s.ScheduleRedial(ctx, task.ID)
	if err != nil {
		t.Fatalf("ScheduleRedial over budget: %v", err)
	}
	if ok {
		t.Fatal("redial accepted past the budget")
	}

	got, err := s.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got.RedialCount != store.MaxRedials {
		t.Fatalf("RedialCount=%d, want %d", got.RedialCount, store.MaxRedials)
	}
	if got.NextDialAt == nil {
		t.Fatal("NextDialAt not set")
	}

	due, err := s.DueTasks(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != task.ID {
		t.Fatalf("due=%v", due)
	}
	if early, _ := s.DueTasks(ctx, time.Now()); len(early) != 0 {
		t.Fatalf("due before delay=%v, want none", early)
	}
}

func TestExecutionLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "a-1", "+15550111")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, msg := range []string{"dialing", "answered", "completed"} {
		if err := s.AppendLog(ctx, task.ID, msg); err != nil {
			t.Fatalf("AppendLog(%q): %v", msg, err)
		}
	}

	logs, err := s.Logs(ctx, task.ID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 3 || logs[0].Message != "dialing" || logs[2].Message != "completed" {
		t.Fatalf("logs=%+v", logs)
	}
}

func TestSaveAndLoadResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := &call.Result{
		SessionID: "T-abc",
		RoomName:  "room-1",
		AgentID:   "a-1",
		CallType:  call.TypeOutbound,
		Status:    call.StatusCompleted,
		Reason:    "user_disconnected",
		StartedAt: time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond),
		EndedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Transcript: []call.TranscriptItem{
			{Role: "assistant", Content: "Hello!"},
			{Role: "user", Content: "Hi."},
		},
	}
	if err := s.SaveResult(ctx, res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Saving again replaces, not duplicates.
	res.Reason = "idle_timeout"
	if err := s.SaveResult(ctx, res); err != nil {
		t.Fatalf("SaveResult replace: %v", err)
	}

	got, err := s.Result(ctx, "T-abc")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got.Reason != "idle_timeout" || len(got.Transcript) != 2 {
		t.Fatalf("result=%+v", got)
	}

	if _, err := s.Result(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
