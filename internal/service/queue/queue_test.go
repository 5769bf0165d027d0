package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startQueue(t *testing.T, size int) *Queue {
	t.Helper()
	q := New(size)
	go q.Start(context.Background())
	t.Cleanup(func() {
		q.Close()
		<-q.Done()
	})
	return q
}

func TestSubmit_ReturnsTaskError(t *testing.T) {
	q := startQueue(t, 1)
	boom := errors.New("boom")

	err := q.Submit(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := q.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSubmit_SerializesTasks(t *testing.T) {
	q := startQueue(t, 4)

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Submit(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("expected tasks to run one at a time, saw %d concurrently", maxRunning)
	}
}

func TestSubmit_PreservesOrder(t *testing.T) {
	q := startQueue(t, 8)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Enqueue(context.Background(), func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	// A submitted task completes after everything queued before it.
	_ = q.Submit(context.Background(), func(context.Context) error { return nil })

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestClose_DrainsAndRejects(t *testing.T) {
	q := New(4)

	var ran int32
	for i := 0; i < 3; i++ {
		_ = q.Enqueue(context.Background(), func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	q.Close()
	q.Close()

	go q.Start(context.Background())
	<-q.Done()

	if ran != 3 {
		t.Errorf("expected queued tasks to drain, ran %d", ran)
	}
	if err := q.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestSubmit_ContextCanceled(t *testing.T) {
	q := startQueue(t, 1)

	release := make(chan struct{})
	_ = q.Enqueue(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Submit(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSubmit_RecoversPanic(t *testing.T) {
	q := startQueue(t, 1)

	err := q.Submit(context.Background(), func(context.Context) error { panic("bad task") })
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if err := q.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("worker should survive a panic, got %v", err)
	}
}
