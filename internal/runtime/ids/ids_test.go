package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestCreateULIDSequentialOrdering(t *testing.T) {
	const total = 50
	prev := ""
	for i := 0; i < total; i++ {
		id := CreateULID()
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
		if prev != "" && prev >= id {
			t.Fatalf("expected ULIDs to be strictly increasing, %s >= %s", prev, id)
		}
		prev = id
	}
}

func TestNewTraceIDShape(t *testing.T) {
	id := NewTraceID(42)
	if len(id) != 64 {
		t.Fatalf("expected 64 hex characters, got %d (%s)", len(id), id)
	}
}

func TestNewTraceIDConcurrentUniquenessOnSameConnection(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				id := NewTraceID(7)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique trace ids, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestNewSpanIDDistinctForSameInstant(t *testing.T) {
	now := time.Now()
	a := NewSpanID(1, now)
	b := NewSpanID(1, now)
	if a == b {
		t.Fatalf("expected distinct span ids, got %s twice", a)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex characters, got %d", len(a))
	}
}
