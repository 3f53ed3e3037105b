package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_FIFO(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 0)

	for i := 0; i < 20; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if got := buf.Stats().ResizeCount; got == 0 {
		t.Error("expected buffer to grow")
	}

	for i := 0; i < 20; i++ {
		val, ok := buf.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive on empty buffer returned true")
	}
}

func TestGrowableBuffer_WrapAroundThenGrow(t *testing.T) {
	buf := NewGrowableBuffer[int](8, 0)

	// Move head past the start so the next grow copies a wrapped ring.
	for i := 0; i < 4; i++ {
		buf.Send(i)
	}
	for i := 0; i < 4; i++ {
		buf.TryReceive()
	}
	for i := 10; i < 20; i++ {
		buf.Send(i)
	}

	got := buf.DrainTo(0)
	if len(got) != 10 {
		t.Fatalf("drained %d items, want 10", len(got))
	}
	for i, v := range got {
		if v != 10+i {
			t.Errorf("item %d = %d, want %d", i, v, 10+i)
		}
	}
}

func TestGrowableBuffer_MaxCapacityDropsOldest(t *testing.T) {
	buf := NewGrowableBuffer[int](2, 4)

	for i := 1; i <= 6; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}

	got := buf.DrainTo(0)
	want := []int{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestGrowableBuffer_DrainToLimit(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	for i := 0; i < 5; i++ {
		buf.Send(i)
	}

	first := buf.DrainTo(3)
	if len(first) != 3 || first[0] != 0 || first[2] != 2 {
		t.Errorf("DrainTo(3) = %v, want [0 1 2]", first)
	}
	if buf.Len() != 2 {
		t.Errorf("Len() = %d, want 2", buf.Len())
	}
	if rest := buf.DrainTo(0); len(rest) != 2 {
		t.Errorf("DrainTo(0) = %v, want 2 items", rest)
	}
	if empty := buf.DrainTo(0); empty != nil {
		t.Errorf("DrainTo on empty buffer = %v, want nil", empty)
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[string](4, 0)

	got := make(chan string, 1)
	go func() {
		v, _ := buf.Receive()
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Send("price")

	select {
	case v := <-got:
		if v != "price" {
			t.Errorf("Receive() = %q, want price", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock")
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 0)
	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send after Close returned true")
	}

	// Remaining items are still delivered.
	if v, ok := buf.Receive(); !ok || v != 1 {
		t.Errorf("Receive() = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive on closed empty buffer returned true")
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](4, 0)
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			buf.Send(i)
		}
		buf.Close()
	}()

	next := 0
	for {
		v, ok := buf.Receive()
		if !ok {
			break
		}
		if v != next {
			t.Fatalf("received %d, want %d", v, next)
		}
		next++
	}
	wg.Wait()

	if next != n {
		t.Errorf("received %d items, want %d", next, n)
	}
}

func TestNewGrowableBuffer_MinCapacity(t *testing.T) {
	if got := NewGrowableBuffer[int](0, 0).Cap(); got != 1 {
		t.Errorf("Cap() = %d, want 1 for initial capacity 0", got)
	}
	if got := NewGrowableBuffer[int](16, 8).Cap(); got != 8 {
		t.Errorf("Cap() = %d, want initial clamped to max 8", got)
	}
}
