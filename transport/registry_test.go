package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryInsertLookupRemove(t *testing.T) {
	reg := NewRegistry()
	ch := newTestChannel(t)

	if _, ok := reg.Lookup("tok"); ok {
		t.Fatal("lookup on empty registry succeeded")
	}

	if err := reg.Insert("tok", ch); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok := reg.Lookup("tok")
	if !ok || got != ch {
		t.Fatalf("lookup returned %v, %v", got, ok)
	}
	if want, got := 1, reg.Len(); want != got {
		t.Errorf("len: want %d, got %d", want, got)
	}

	reg.Remove("tok")
	if _, ok := reg.Lookup("tok"); ok {
		t.Error("lookup after remove succeeded")
	}
	// Removing again is a no-op.
	reg.Remove("tok")
	if want, got := 0, reg.Len(); want != got {
		t.Errorf("len: want %d, got %d", want, got)
	}
}

func TestRegistryRefusesDuplicateToken(t *testing.T) {
	reg := NewRegistry()
	a := newTestChannel(t)
	b := newTestChannel(t)

	if err := reg.Insert("tok", a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := reg.Insert("tok", b); !errors.Is(err, ErrTokenInUse) {
		t.Fatalf("duplicate insert: want ErrTokenInUse, got %v", err)
	}
	got, _ := reg.Lookup("tok")
	if got != a {
		t.Error("duplicate insert displaced the original channel")
	}
}

func TestRegistryDrain(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 5; i++ {
		if err := reg.Insert(fmt.Sprintf("tok-%d", i), newTestChannel(t)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	drained := reg.Drain()
	if want, got := 5, len(drained); want != got {
		t.Fatalf("drained: want %d, got %d", want, got)
	}
	if want, got := 0, reg.Len(); want != got {
		t.Errorf("len after drain: want %d, got %d", want, got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := fmt.Sprintf("tok-%d", i)
			_ = reg.Insert(tok, newChannel(&stubDispatcher{}, nil))
			reg.Lookup(tok)
			if i%2 == 0 {
				reg.Remove(tok)
			}
		}(i)
	}
	wg.Wait()
	if want, got := 16, reg.Len(); want != got {
		t.Errorf("len: want %d, got %d", want, got)
	}
}
