package logging

import (
	"context"
	"testing"
)

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-123")

	if got := GetUserID(ctx); got != "user-123" {
		t.Errorf("GetUserID() = %q, want %q", got, "user-123")
	}
}

func TestWithTaskID(t *testing.T) {
	ctx := WithTaskID(context.Background(), "task-456")

	if got := GetTaskID(ctx); got != "task-456" {
		t.Errorf("GetTaskID() = %q, want %q", got, "task-456")
	}
}

func TestGetIDs_NotPresent(t *testing.T) {
	ctx := context.Background()

	if got := GetUserID(ctx); got != "" {
		t.Errorf("GetUserID() = %q, want empty string", got)
	}
	if got := GetTaskID(ctx); got != "" {
		t.Errorf("GetTaskID() = %q, want empty string", got)
	}
}

func TestWithCompletion(t *testing.T) {
	ctx := WithCompletion(context.Background(), "u1", "t1")

	if got := GetUserID(ctx); got != "u1" {
		t.Errorf("GetUserID() = %q, want %q", got, "u1")
	}
	if got := GetTaskID(ctx); got != "t1" {
		t.Errorf("GetTaskID() = %q, want %q", got, "t1")
	}
}
