package spatial

import (
	"fmt"
	"math"
)

// Tile levels 瓦片层级（Web Mercator）
const (
	MinTileLevel = 1
	MaxTileLevel = 18

	// Web Mercator latitude clamp
	maxMercatorLat = 85.05112878
)

// Tile identifies one geographic grid cell at a given zoom level.
// Key format: "L{level}_{x}_{y}"
type Tile struct {
	Level int
	X     int
	Y     int
}

// Key returns the stable tile key used for coordination and subscription
func (t Tile) Key() string {
	return fmt.Sprintf("L%d_%d_%d", t.Level, t.X, t.Y)
}

// TileAt returns the tile containing the given coordinate at the given zoom
// level. Zoom is clamped to [MinTileLevel, MaxTileLevel].
func TileAt(lat, lng float64, zoom int) Tile {
	if zoom < MinTileLevel {
		zoom = MinTileLevel
	}
	if zoom > MaxTileLevel {
		zoom = MaxTileLevel
	}
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	}
	if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}

	n := float64(int(1) << uint(zoom))
	x := int((lng + 180.0) / 360.0 * n)

	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)

	// Edge of the projection maps exactly onto n
	if x >= int(n) {
		x = int(n) - 1
	}
	if y >= int(n) {
		y = int(n) - 1
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	return Tile{Level: zoom, X: x, Y: y}
}

// ParseTileKey parses a "L{level}_{x}_{y}" key back into a Tile
func ParseTileKey(key string) (Tile, error) {
	var t Tile
	if _, err := fmt.Sscanf(key, "L%d_%d_%d", &t.Level, &t.X, &t.Y); err != nil {
		return Tile{}, fmt.Errorf("invalid tile key %q: %w", key, err)
	}
	if t.Level < MinTileLevel || t.Level > MaxTileLevel {
		return Tile{}, fmt.Errorf("invalid tile key %q: level out of range", key)
	}
	n := 1 << uint(t.Level)
	if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
		return Tile{}, fmt.Errorf("invalid tile key %q: coordinates out of range", key)
	}
	return t, nil
}

// Bounds returns the geographic bounding box of the tile
func (t Tile) Bounds() (minLat, maxLat, minLng, maxLng float64) {
	n := float64(int(1) << uint(t.Level))

	minLng = float64(t.X)/n*360.0 - 180.0
	maxLng = float64(t.X+1)/n*360.0 - 180.0

	maxLat = tileYToLat(float64(t.Y), n)
	minLat = tileYToLat(float64(t.Y+1), n)
	return minLat, maxLat, minLng, maxLng
}

func tileYToLat(y, n float64) float64 {
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return latRad * 180.0 / math.Pi
}
