package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	appLog "tmusync/internal/log"
)

func init() {
	appLog.SetLevel(appLog.LevelError)
}

func TestRunRefreshesImmediatelyAndStops(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(t.Context())

	s, err := New("0 */6 * * *", time.UTC, func(context.Context) {
		if runs.Add(1) == 1 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if s.Next().IsZero() {
		t.Error("Next is zero after Run")
	}
}

func TestRunFiresOnSchedule(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	s, err := New("@every 1s", time.UTC, func(context.Context) {
		if runs.Add(1) == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never happened")
	}
	if got := runs.Load(); got < 2 {
		t.Errorf("runs = %d, want at least 2", got)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	s, err := New("whenever", time.UTC, func(context.Context) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(t.Context()); err == nil {
		t.Fatal("Run: want error for bad schedule")
	}
}

func TestNewRejectsNilJob(t *testing.T) {
	if _, err := New("@hourly", time.UTC, nil); err == nil {
		t.Fatal("New: want error for nil job")
	}
}
