package repository

import (
	"context"
	"testing"
)

func TestStateRepository(t *testing.T) {
	repo := NewStateRepository(openTestDB(t))
	ctx := context.Background()

	if _, ok, err := repo.Get(ctx, KeyActiveTripID); err != nil || ok {
		t.Fatalf("empty get = %v, %v", ok, err)
	}
	if err := repo.Set(ctx, KeyActiveTripID, "trip-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set(ctx, KeyActiveTripID, "trip-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := repo.Get(ctx, KeyActiveTripID)
	if err != nil || !ok || v != "trip-2" {
		t.Fatalf("get = %q %v %v", v, ok, err)
	}
	if err := repo.Delete(ctx, KeyActiveTripID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := repo.Get(ctx, KeyActiveTripID); ok {
		t.Fatal("expected key removed")
	}
}
