package bbq

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(DispatcherOptions{Path: filepath.Join(t.TempDir(), "bbq")})
	if err := d.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return d
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcherHappyPath(t *testing.T) {
	d := newTestDispatcher(t)

	q, err := d.CreateQueue("orders", QueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	w, err := d.CreateWorker("worker-a", WorkerOptions{Priority: 1})
	if err != nil {
		t.Fatal(err)
	}

	var calls int32
	var gotValue atomic.Value
	_, err = w.CreateJob("handle-order", "orders", InProcessCallback(func(h Handle) error {
		atomic.AddInt32(&calls, 1)
		gotValue.Store(h.Value)
		return nil
	}), JobOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := q.AddMessage("hi"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
	if v := gotValue.Load(); v != "hi" {
		t.Fatalf("got value %v, want %q", v, "hi")
	}
	waitFor(t, 2*time.Second, func() bool { return len(q.Fails()) == 0 })
}

func TestDispatcherRetryThenGiveUp(t *testing.T) {
	d := newTestDispatcher(t)

	q, err := d.CreateQueue("retries", QueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	w, err := d.CreateWorker("worker-b", WorkerOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var attempts int32
	_, err = w.CreateJob("always-fails", "retries", InProcessCallback(func(h Handle) error {
		atomic.AddInt32(&attempts, 1)
		return errTestAlwaysFails
	}), JobOptions{Retry: 1, RetryAfter: 20 * time.Millisecond, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	msg, err := q.AddMessage(map[string]any{"a": float64(1)})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&attempts) == 2 })
	waitFor(t, 2*time.Second, func() bool { return len(q.Fails()) == 1 })

	fails := q.Fails()
	if fails[0].ID != msg.ID {
		t.Fatalf("got failed id %q, want %q", fails[0].ID, msg.ID)
	}
	if fails[0].FailedCount != 1 {
		t.Fatalf("got FailedCount %d, want 1", fails[0].FailedCount)
	}
}

func TestDispatcherBackPressure(t *testing.T) {
	d := newTestDispatcher(t)

	q, err := d.CreateQueue("slow", QueueOptions{RebroadcastTime: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	w, err := d.CreateWorker("worker-c", WorkerOptions{})
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var started int32
	_, err = w.CreateJob("slow-job", "slow", InProcessCallback(func(h Handle) error {
		atomic.AddInt32(&started, 1)
		<-release
		return nil
	}), JobOptions{Concurrency: 1, WorkingMessageCount: 1, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := q.AddMessage("first"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&started) == 1 })

	if _, err := q.AddMessage("second"); err != nil {
		t.Fatal(err)
	}
	// The worker is saturated (WorkingMessageCount=1, one in flight), so the
	// second message must be rebroadcast rather than accepted immediately.
	waitFor(t, time.Second, func() bool { return !w.ExistObserverQueue(q.ID) })

	close(release)
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&started) >= 2 })
}

func TestDispatcherPriorityOrdering(t *testing.T) {
	d := newTestDispatcher(t)

	q, err := d.CreateQueue("priority-q", QueueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string

	low, err := d.CreateWorker("low", WorkerOptions{Priority: 1})
	if err != nil {
		t.Fatal(err)
	}
	high, err := d.CreateWorker("high", WorkerOptions{Priority: 10})
	if err != nil {
		t.Fatal(err)
	}

	record := func(name string) JobFunc {
		return func(h Handle) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	if _, err := low.CreateJob("low-job", "priority-q", InProcessCallback(record("low")), JobOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := high.CreateJob("high-job", "priority-q", InProcessCallback(record("high")), JobOptions{}); err != nil {
		t.Fatal(err)
	}

	if _, err := q.AddMessage("x"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "high" {
		t.Fatalf("expected the higher-priority worker to win, got %v", order)
	}
}

func TestDispatcherGetQueueNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.GetQueue("nope"); err == nil {
		t.Fatal("expected ErrQueueNotFound")
	}
}

func TestDispatcherCreateQueueIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)
	a, err := d.CreateQueue("dup", QueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.CreateQueue("dup", QueueOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatal("expected CreateQueue to be idempotent by name")
	}
}

func TestDispatcherCreateWorkerDuplicateName(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.CreateWorker("w", WorkerOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateWorker("w", WorkerOptions{}); err == nil {
		t.Fatal("expected ErrNameDuplicate")
	}
}

var errTestAlwaysFails = errTestSentinel("callback always fails")

type errTestSentinel string

func (e errTestSentinel) Error() string { return string(e) }
