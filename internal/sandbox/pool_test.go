package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolRun(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 2)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	for i := 0; i < 5; i++ {
		result, err := pool.Run(context.Background(), page(`<script>console.log(typeof seen); var seen = 1;</script>`), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(result.Console) != 1 || result.Console[0].Message != "undefined" {
			t.Fatalf("Run %d reused script state: %+v", i, result.Console)
		}
	}
}

func TestPoolAcquireBuildsWhenEmpty(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first == second {
		t.Error("Expected distinct runtimes")
	}
	pool.Release(first)
	pool.Release(second)
}

func TestPoolClosed(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	pool.Close()

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

func TestPoolRefill(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Run(context.Background(), page(""), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pool.Stats()["available"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Pool was not refilled")
}

func TestClosedRuntime(t *testing.T) {
	rt, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	rt.Close()

	if _, err := rt.Run(context.Background(), page(""), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
