package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeHandle struct {
	id     string
	closed atomic.Bool
}

func (f *fakeHandle) SessionID() string { return f.id }

func (f *fakeHandle) Close() error {
	f.closed.Store(true)
	return nil
}

func TestRegisterReplacesAndClosesPrior(t *testing.T) {
	r := NewInMemory()
	first := &fakeHandle{id: "a"}
	second := &fakeHandle{id: "b"}

	if replaced := r.Register(1, first); replaced {
		t.Fatal("first register should not report replacement")
	}
	if replaced := r.Register(1, second); !replaced {
		t.Fatal("second register should report replacement")
	}
	if !first.closed.Load() {
		t.Fatal("replaced handle should be closed")
	}

	got, ok := r.Lookup(1)
	if !ok || got.SessionID() != "b" {
		t.Fatalf("expected handle b after replacement, got %v ok=%v", got, ok)
	}
	if r.Count() != 1 {
		t.Fatalf("expected exactly one entry, got %d", r.Count())
	}
}

func TestDeregisterIgnoresSupersededHandle(t *testing.T) {
	r := NewInMemory()
	stale := &fakeHandle{id: "stale"}
	fresh := &fakeHandle{id: "fresh"}

	r.Register(7, stale)
	r.Register(7, fresh)

	// The evicted session's async cleanup runs after the re-registration.
	if removed := r.Deregister(7, stale); removed {
		t.Fatal("stale deregister must not remove the fresh entry")
	}

	got, ok := r.Lookup(7)
	if !ok || got.SessionID() != "fresh" {
		t.Fatalf("fresh handle should survive stale cleanup, got %v ok=%v", got, ok)
	}

	if removed := r.Deregister(7, fresh); !removed {
		t.Fatal("matching deregister should remove the entry")
	}
	if _, ok := r.Lookup(7); ok {
		t.Fatal("entry should be gone after matching deregister")
	}
}

func TestDeregisterUnknownUser(t *testing.T) {
	r := NewInMemory()
	if removed := r.Deregister(42, &fakeHandle{id: "x"}); removed {
		t.Fatal("deregister for unknown user should be a no-op")
	}
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	r := NewInMemory()
	const workers = 32

	handles := make([]*fakeHandle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		h := &fakeHandle{id: fmt.Sprintf("h%d", i)}
		handles[i] = h
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(1, h)
		}()
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Fatalf("expected one reachable handle, got %d", r.Count())
	}

	winner, ok := r.Lookup(1)
	if !ok {
		t.Fatal("expected a registered handle")
	}

	open := 0
	for _, h := range handles {
		if !h.closed.Load() {
			open++
			if h.SessionID() != winner.SessionID() {
				t.Fatalf("unclosed handle %s is not the registered one %s", h.SessionID(), winner.SessionID())
			}
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one surviving handle, got %d", open)
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	r := NewInMemory()
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		userID := int64(i % 4)
		h := &fakeHandle{id: fmt.Sprintf("u%d-h%d", userID, i)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(userID, h)
			r.Lookup(userID)
			r.Range(func(int64, Handle) bool { return true })
			r.Deregister(userID, h)
		}()
	}
	wg.Wait()

	// Every goroutine deregistered its own handle; anything left means a
	// deregister removed someone else's registration.
	r.Range(func(userID int64, h Handle) bool {
		t.Fatalf("unexpected surviving entry for user %d: %s", userID, h.SessionID())
		return false
	})
}
