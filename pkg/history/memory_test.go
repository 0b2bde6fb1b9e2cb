package history

import (
	"context"
	"testing"
	"time"
)

func sampleAt(at time.Time) ClusterMetricsSample {
	return ClusterMetricsSample{At: at, CPUUtilization: 0.5, Members: 3}
}

func TestMemoryStoreAppendAndRange(t *testing.T) {
	store := NewMemoryStore(16)
	defer store.Close()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.Append(context.Background(), sampleAt(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Range(context.Background(), base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 samples in range, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.Before(got[i-1].At) {
			t.Error("Samples not ordered oldest first")
		}
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	store := NewMemoryStore(3)
	defer store.Close()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.Append(context.Background(), sampleAt(base.Add(time.Duration(i)*time.Minute)))
	}

	if store.Len() != 3 {
		t.Fatalf("Expected ring to hold 3 samples, got %d", store.Len())
	}

	got, err := store.Range(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 surviving samples, got %d", len(got))
	}
	// The two oldest samples were evicted
	if !got[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected oldest survivor at +2m, got %v", got[0].At)
	}
}

func TestMemoryStoreInvalidRange(t *testing.T) {
	store := NewMemoryStore(4)
	defer store.Close()

	now := time.Now()
	if _, err := store.Range(context.Background(), now, now.Add(-time.Hour)); err != ErrInvalidRange {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore(4)
	store.Close()

	if err := store.Append(context.Background(), sampleAt(time.Now())); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed on append, got %v", err)
	}
	if _, err := store.Range(context.Background(), time.Time{}, time.Now()); err != ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed on range, got %v", err)
	}
}
