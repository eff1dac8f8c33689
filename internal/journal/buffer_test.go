package journal

import (
	"sync"
	"testing"
	"time"
)

func TestBuffer_BasicSendReceive(t *testing.T) {
	buf := NewBuffer[int](10, 100)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive() on empty buffer returned true")
	}
}

func TestBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewBuffer[int](10, 100)

	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	for i := 0; i < 7; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d, %v; want %d, true", val, ok, i)
		}
	}
}

func TestBuffer_DropsAtMaxCapacity(t *testing.T) {
	buf := NewBuffer[int](2, 4)

	for i := 0; i < 4; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false below max capacity", i)
		}
	}
	if buf.Send(99) {
		t.Error("Send() at max capacity returned true")
	}

	stats := buf.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}

	got := buf.DrainTo(0)
	if len(got) != 4 || got[0] != 0 || got[3] != 3 {
		t.Errorf("DrainTo() = %v, want [0 1 2 3]", got)
	}
}

func TestBuffer_GrowPreservesOrderWhenWrapped(t *testing.T) {
	buf := NewBuffer[int](4, 64)

	// Advance head so the next growth copies a wrapped region
	buf.Send(0)
	buf.Send(1)
	buf.TryReceive()
	buf.TryReceive()

	for i := 0; i < 10; i++ {
		buf.Send(i)
	}

	for i := 0; i < 10; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d, %v; want %d, true", val, ok, i)
		}
	}
}

func TestBuffer_DrainToLimit(t *testing.T) {
	buf := NewBuffer[int](10, 10)
	for i := 0; i < 6; i++ {
		buf.Send(i)
	}

	first := buf.DrainTo(4)
	if len(first) != 4 {
		t.Fatalf("DrainTo(4) returned %d items", len(first))
	}
	rest := buf.DrainTo(4)
	if len(rest) != 2 || rest[0] != 4 {
		t.Errorf("DrainTo(4) = %v, want [4 5]", rest)
	}
	if buf.DrainTo(4) != nil {
		t.Error("DrainTo on empty buffer should return nil")
	}
}

func TestBuffer_CloseWakesReceivers(t *testing.T) {
	buf := NewBuffer[int](4, 4)
	buf.Send(1)

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := buf.Receive()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	buf.Close()
	wg.Wait()
	close(results)

	var got, closed int
	for ok := range results {
		if ok {
			got++
		} else {
			closed++
		}
	}
	if got != 1 || closed != 1 {
		t.Errorf("got %d items and %d closed signals, want 1 and 1", got, closed)
	}

	if buf.Send(2) {
		t.Error("Send() after Close returned true")
	}
}
