package fingerprint

import (
	"math"
	"testing"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("Cafe X", 37.7749, -122.4194)
	b := Compute("Cafe X", 37.7749, -122.4194)
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeTrailingZeros(t *testing.T) {
	got := Compute("Cafe X", 37.7749, -122.4194)
	want := Compute("Cafe X", 37.774900, -122.419400)
	if got != want {
		t.Fatalf("expected trailing zeros to be irrelevant")
	}
}

func TestComputeIgnoresPrecisionBeyondSixDecimals(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lng1 float64
		lat2, lng2 float64
	}{
		{"rounds half up", 37.7749295, -122.4194, 37.774930, -122.4194},
		{"sub-micro noise", 37.77490000001, -122.41940000002, 37.7749, -122.4194},
		{"negative longitude", 10.0, -122.41940049, 10.0, -122.4194},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Compute("p", tt.lat1, tt.lng1)
			b := Compute("p", tt.lat2, tt.lng2)
			if a != b {
				t.Fatalf("expected equal fingerprints for (%v,%v) and (%v,%v)", tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			}
		})
	}
}

func TestComputeDistinguishesNameAndPosition(t *testing.T) {
	base := Compute("Cafe X", 37.7749, -122.4194)
	if base == Compute("Cafe Y", 37.7749, -122.4194) {
		t.Fatal("expected name to participate in identity")
	}
	if base == Compute("Cafe X", 37.774901, -122.4194) {
		t.Fatal("expected sixth decimal to participate in identity")
	}
}

func TestComputeNegativeZero(t *testing.T) {
	if Compute("z", math.Copysign(0, -1), -0.0000001) != Compute("z", 0, 0) {
		t.Fatal("expected -0 and 0 to hash the same")
	}
}

func TestComputeNonFiniteDoesNotPanic(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := Compute("bad", v, v); got == "" {
			t.Fatalf("expected best-effort hash for %v", v)
		}
	}
}
