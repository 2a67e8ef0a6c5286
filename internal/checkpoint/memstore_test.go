package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemStore_PutFirstCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	seq, err := s.Put(ctx, "t1", nil, []byte("state-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected first sequence 1, got %d", seq)
	}
}

func TestMemStore_PutChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	seq1, _ := s.Put(ctx, "t1", nil, []byte("a"))
	seq2, err := s.Put(ctx, "t1", &seq1, []byte("b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq2 != seq1+1 {
		t.Errorf("expected sequence %d, got %d", seq1+1, seq2)
	}

	latest, err := s.Latest(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.Sequence != seq2 || string(latest.Payload) != "b" {
		t.Errorf("unexpected latest: %+v", latest)
	}
}

func TestMemStore_StaleParentRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	seq1, _ := s.Put(ctx, "t1", nil, []byte("a"))
	_, _ = s.Put(ctx, "t1", &seq1, []byte("b"))

	// Retry with the now-stale parent (seq1) instead of the current latest.
	_, err := s.Put(ctx, "t1", &seq1, []byte("c"))
	if !errors.Is(err, ErrStaleParent) {
		t.Fatalf("expected ErrStaleParent, got %v", err)
	}
}

func TestMemStore_LatestOnEmptyThread(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Latest(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	seq1, _ := s.Put(ctx, "t1", nil, []byte("a"))
	seq2, _ := s.Put(ctx, "t1", &seq1, []byte("b"))
	_, _ = s.Put(ctx, "t1", &seq2, []byte("c"))

	entries, err := s.List(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(entries[i].Payload) != want {
			t.Errorf("entry %d = %s, want %s", i, entries[i].Payload, want)
		}
	}
}

func TestMemStore_ReadsAreDefensiveCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Put(ctx, "t1", nil, []byte("original"))

	latest, _ := s.Latest(ctx, "t1")
	latest.Payload[0] = 'X'

	reread, _ := s.Latest(ctx, "t1")
	if string(reread.Payload) != "original" {
		t.Errorf("store state mutated via returned Entry: %s", reread.Payload)
	}
}

func TestMemStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Put(ctx, "t1", nil, []byte("a"))

	if err := s.Reset(ctx, "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Latest(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected thread reset to clear chain, got %v", err)
	}
}

func TestMemStore_ConcurrentPutsSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.Put(ctx, "t1", nil, []byte("root"))

	const workers = 20
	var wg sync.WaitGroup
	successes := make([]bool, workers)

	latest, _ := s.Latest(ctx, "t1")
	parent := latest.Sequence

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Put(ctx, "t1", &parent, []byte("child"))
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, ok := range successes {
		if ok {
			successCount++
		}
	}
	if successCount != 1 {
		t.Errorf("expected exactly 1 put to win the race on a shared parent, got %d", successCount)
	}

	entries, _ := s.List(ctx, "t1")
	for i := 1; i < len(entries); i++ {
		if entries[i].Sequence <= entries[i-1].Sequence {
			t.Errorf("sequences not strictly increasing: %+v", entries)
		}
	}
}
