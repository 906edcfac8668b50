package remote

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackend(t *testing.T) {
	runBackendTests(t, func(t *testing.T) Backend { return NewMemory() })
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.SetFailure(errors.New("offline"))
	if _, err := m.FetchLocations(ctx, "u"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("fetch err = %v, want unavailable", err)
	}
	if _, err := m.FetchTrip(ctx, "t"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("fetch trip err = %v, want unavailable", err)
	}
	if m.TripFetches() != 1 {
		t.Fatalf("trip fetches = %d, want 1", m.TripFetches())
	}

	m.SetFailure(nil)
	if _, err := m.FetchLocations(ctx, "u"); err != nil {
		t.Fatalf("fetch after recovery: %v", err)
	}
}
