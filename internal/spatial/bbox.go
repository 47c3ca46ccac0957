package spatial

// BBox is an axis-aligned geographic bounding box
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Overlaps reports whether two boxes intersect, using a half-open overlap
// test on all four edges: boxes that merely touch along an edge do not
// overlap. This is the visibility predicate for viewport queries.
func (b BBox) Overlaps(o BBox) bool {
	return b.MinLat < o.MaxLat && b.MaxLat > o.MinLat &&
		b.MinLng < o.MaxLng && b.MaxLng > o.MinLng
}

// Contains reports whether the point lies inside the box (edges inclusive)
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Valid reports whether the box is well-formed and within coordinate range
func (b BBox) Valid() bool {
	return b.MinLat < b.MaxLat && b.MinLng < b.MaxLng &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLng >= -180 && b.MaxLng <= 180
}
