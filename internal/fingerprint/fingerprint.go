// Package fingerprint derives the cross-device identity of a location.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// CoordinatePrecision is the number of decimal places coordinates are
// normalized to before hashing
const CoordinatePrecision = 6

// Compute returns the hex SHA-256 of name followed by lat and lng, each
// rounded and formatted to exactly CoordinatePrecision decimals. Two places
// with equal fingerprints are the same real-world place for merge purposes.
func Compute(name string, lat, lng float64) string {
	var b strings.Builder
	b.Grow(len(name) + 32)
	b.WriteString(name)
	b.WriteString(formatCoordinate(lat))
	b.WriteString(formatCoordinate(lng))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// formatCoordinate rounds before formatting so the result does not depend on
// how the platform formats the binary float. NaN and Inf fall through to
// their FormatFloat spellings.
func formatCoordinate(v float64) string {
	r := roundTo(v, CoordinatePrecision)
	if r == 0 {
		// collapse -0
		r = 0
	}
	return strconv.FormatFloat(r, 'f', CoordinatePrecision, 64)
}

func roundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
