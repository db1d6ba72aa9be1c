package actor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(0, 0)
	defer d.Shutdown()

	if got := d.Throughput(); got != 16 {
		t.Fatalf("default throughput = %d, want 16", got)
	}
}

func TestDispatcherRunsAllTasks(t *testing.T) {
	d := NewDispatcher(4, 16)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		d.Execute(func() {
			ran.Add(1)
			wg.Done()
		})
	}
	wg.Wait()

	if got := ran.Load(); got != 200 {
		t.Fatalf("ran = %d, want 200", got)
	}
	d.Shutdown()
}

func TestDispatcherShutdownDrains(t *testing.T) {
	d := NewDispatcher(2, 16)

	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		d.Execute(func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		})
	}
	d.Shutdown()

	if got := ran.Load(); got != 50 {
		t.Fatalf("ran = %d after shutdown, want 50", got)
	}

	// Execute after shutdown is a no-op, not a panic.
	d.Execute(func() { t.Fatal("task ran after shutdown") })
	time.Sleep(10 * time.Millisecond)
}
