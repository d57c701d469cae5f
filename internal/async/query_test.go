package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestQuerySucceedsOnCallback(t *testing.T) {
	var m *QueryManager
	m = NewQueryManager(func() { go m.Done(true) }, time.Second)

	got := m.Query(context.Background(), 1)
	if got != Succeeded {
		t.Fatalf("condition = %v, want %v", got, Succeeded)
	}
	if m.Condition() != Succeeded {
		t.Fatalf("stored condition = %v, want %v", m.Condition(), Succeeded)
	}
}

func TestQueryTimesOutWithoutCallback(t *testing.T) {
	m := NewQueryManager(func() {}, 20*time.Millisecond)

	got := m.Query(context.Background(), 1)
	if got != Timeout {
		t.Fatalf("condition = %v, want %v", got, Timeout)
	}
}

func TestQueryRetriesUntilBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	var m *QueryManager
	m = NewQueryManager(func() {
		calls.Add(1)
		go m.Done(false)
	}, time.Second)

	got := m.Query(context.Background(), 3)
	if got != Failed {
		t.Fatalf("condition = %v, want %v", got, Failed)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("action invoked %d times, want 3", n)
	}
}

func TestQueryStopsRetryingOnSuccess(t *testing.T) {
	var calls atomic.Int32
	var m *QueryManager
	m = NewQueryManager(func() {
		n := calls.Add(1)
		go m.Done(n == 2)
	}, time.Second)

	got := m.Query(context.Background(), 5)
	if got != Succeeded {
		t.Fatalf("condition = %v, want %v", got, Succeeded)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("action invoked %d times, want 2", n)
	}
}

func TestLateDoneIsDropped(t *testing.T) {
	m := NewQueryManager(func() {}, 10*time.Millisecond)

	if got := m.Query(context.Background(), 1); got != Timeout {
		t.Fatalf("first query = %v, want %v", got, Timeout)
	}
	// Callback for the abandoned attempt lands between queries.
	m.Done(true)

	if got := m.Query(context.Background(), 1); got != Timeout {
		t.Fatalf("second query = %v, want %v", got, Timeout)
	}
}

func TestDoneWithoutWaiterIsNoOp(t *testing.T) {
	m := NewQueryManager(func() {}, time.Second)
	m.Done(true)
	m.Done(false)
	if m.Condition() != Initialized {
		t.Fatalf("condition = %v, want %v", m.Condition(), Initialized)
	}
}

func TestQueryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewQueryManager(func() { cancel() }, time.Minute)

	start := time.Now()
	got := m.Query(ctx, 3)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("query blocked %v after cancel", elapsed)
	}
	if got == Succeeded {
		t.Fatalf("condition = %v after cancel", got)
	}
}

func TestQueryRetryDelayBetweenAttempts(t *testing.T) {
	var m *QueryManager
	m = NewQueryManager(func() { go m.Done(false) }, time.Second)
	m.SetRetryDelay(30 * time.Millisecond)

	start := time.Now()
	m.Query(context.Background(), 3)
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("3 attempts finished in %v, want >= 60ms of retry delay", elapsed)
	}
}
