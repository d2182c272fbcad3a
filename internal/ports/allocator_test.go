package ports

import (
	"sync"
	"testing"
)

func TestAllocateUnique(t *testing.T) {
	a := NewAllocator(41000, 41099)

	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		p, err := a.Allocate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p < 41000 || p > 41099 {
			t.Errorf("port %d outside range", p)
		}
		if seen[p] {
			t.Errorf("port %d allocated twice", p)
		}
		seen[p] = true
	}
}

func TestAllocateConcurrent(t *testing.T) {
	a := NewAllocator(42000, 42199)

	var mu sync.Mutex
	seen := make(map[int]bool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			if seen[p] {
				t.Errorf("port %d allocated twice", p)
			}
			seen[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestReleaseAllowsReuse(t *testing.T) {
	a := NewAllocator(43000, 43001)

	p1, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Range is exhausted now
	if _, err := a.Allocate(); err == nil {
		t.Error("expected error when range exhausted")
	}

	a.Release(p1, p2)
	if a.Reserved() != 0 {
		t.Errorf("expected 0 reserved after release, got %d", a.Reserved())
	}

	if _, err := a.Allocate(); err != nil {
		t.Errorf("expected allocation to succeed after release: %v", err)
	}
}

func TestAllocateMap(t *testing.T) {
	a := NewAllocator(44000, 44099)

	logical := []int{3000, 8000, 8080}
	portMap, err := a.AllocateMap(logical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(portMap) != len(logical) {
		t.Fatalf("expected %d mappings, got %d", len(logical), len(portMap))
	}

	hosts := make(map[int]bool)
	for _, lp := range logical {
		hp, ok := portMap[lp]
		if !ok {
			t.Errorf("missing mapping for logical port %d", lp)
		}
		if hosts[hp] {
			t.Errorf("host port %d mapped twice", hp)
		}
		hosts[hp] = true
	}
}

func TestAllocateMapReleasesOnFailure(t *testing.T) {
	a := NewAllocator(45000, 45001)

	if _, err := a.AllocateMap([]int{3000, 8000, 8080}); err == nil {
		t.Fatal("expected error when range too small")
	}
	if a.Reserved() != 0 {
		t.Errorf("expected no reserved ports after failed map allocation, got %d", a.Reserved())
	}
}
