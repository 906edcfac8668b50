package spatial

import (
	"fmt"
	"math"
	"strings"
)

// DecodePolyline decodes an encoded polyline (precision 1e5) as returned by
// directions providers
func DecodePolyline(encoded string) ([]Point, error) {
	var (
		points   []Point
		lat, lng int64
		index    int
	)

	for index < len(encoded) {
		dLat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next

		lat += dLat
		lng += dLng
		points = append(points, Point{Lat: float64(lat) / 1e5, Lng: float64(lng) / 1e5})
	}

	return points, nil
}

// EncodePolyline encodes points with precision 1e5
func EncodePolyline(points []Point) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * 1e5))
		lng := int64(math.Round(p.Lng * 1e5))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func decodeValue(encoded string, index int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if index >= len(encoded) {
			return 0, index, fmt.Errorf("truncated polyline at offset %d", index)
		}
		b := int64(encoded[index]) - 63
		index++
		if b < 0 || shift > 60 {
			return 0, index, fmt.Errorf("malformed polyline at offset %d", index-1)
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}
