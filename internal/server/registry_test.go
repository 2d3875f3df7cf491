package server

import (
	"strings"
	"sync"
	"testing"
)

func TestRegistryLastConnectWins(t *testing.T) {
	r := NewRegistry()
	first := newBareClient(t, "a")
	second := newBareClient(t, "a")

	if prev := r.Register("a", first); prev != nil {
		t.Errorf("Expected no previous handle, got %v", prev)
	}
	if prev := r.Register("a", second); prev != first {
		t.Error("Expected the first handle to be replaced")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Count())
	}

	if r.Unregister("a", first) {
		t.Error("Stale handle removed the live entry")
	}
	if got, ok := r.Lookup("a"); !ok || got != second {
		t.Error("Expected the second handle to stay registered")
	}
	if !r.Unregister("a", second) {
		t.Error("Expected the current handle to be removed")
	}
	if _, ok := r.Lookup("a"); ok {
		t.Error("Expected user to be offline")
	}
}

func TestRegistryOnlineSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, newBareClient(t, id))
	}
	if got := strings.Join(r.Online(), ","); got != "a,b,c" {
		t.Errorf("Expected sorted ids, got %s", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	c := newBareClient(t, "a")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("a", c)
		}()
		go func() {
			defer wg.Done()
			r.Lookup("a")
			r.Online()
		}()
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Count())
	}
}
