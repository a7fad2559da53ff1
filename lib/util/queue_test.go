package util

import (
	"sync"
	"testing"
	"time"
)

// TestQueueFIFO tests that a single producer observes FIFO delivery
func TestQueueFIFO(t *testing.T) {
	q := NewMPSCQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", *val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestQueueRejectsAfterClose tests that a closed queue refuses new values but drains old ones
func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewMPSCQueue[string]()

	a := "a"
	if !q.Push(&a) {
		t.Fatal("Push before close should succeed")
	}
	if q.Push(nil) {
		t.Error("Push(nil) should be rejected")
	}

	q.Close()
	b := "b"
	if q.Push(&b) {
		t.Error("Push after close should be rejected")
	}
	if !q.IsClosed() {
		t.Error("IsClosed() should be true")
	}

	var got []string
	for v := range q.Recv() {
		got = append(got, *v)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected [a] after drain, got %v", got)
	}
}

// TestQueueConcurrentProducersConsumers tests many producers with several receivers
func TestQueueConcurrentProducersConsumers(t *testing.T) {
	q := NewMPSCQueue[int]()

	const producers = 8
	const perProducer = 500
	total := producers * perProducer

	var mu sync.Mutex
	seen := make(map[int]bool, total)

	var consumers sync.WaitGroup
	for c := 0; c < 3; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for v := range q.Recv() {
				mu.Lock()
				if seen[*v] {
					t.Errorf("Duplicate item %d", *v)
				}
				seen[*v] = true
				mu.Unlock()
			}
		}()
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := id*perProducer + i
				q.Push(&v)
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	done := make(chan struct{})
	go func() { consumers.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for consumers")
	}

	if len(seen) != total {
		t.Errorf("Expected %d items, got %d", total, len(seen))
	}
	if q.Len() != 0 {
		t.Errorf("Expected Len() 0 after drain, got %d", q.Len())
	}
}
