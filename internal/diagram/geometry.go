package diagram

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// BBox is [ymin, xmin, ymax, xmax] in the 0..1000 normalized space.
type BBox [4]float64

// IsZero reports whether the box carries no location.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Centroid returns the (y, x) center of the box.
func (b BBox) Centroid() (y, x float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// Distance returns the Euclidean distance between the centroids of b and o.
func (b BBox) Distance(o BBox) float64 {
	y1, x1 := b.Centroid()
	y2, x2 := o.Centroid()
	return math.Hypot(y1-y2, x1-x2)
}

func (b BBox) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", b[0], b[1], b[2], b[3])
}

// Direction is where one node sits relative to another.
type Direction string

const (
	Top       Direction = "Top"
	Bottom    Direction = "Bottom"
	Left      Direction = "Left"
	Right     Direction = "Right"
	Undefined Direction = "Unknown"
)

// RelativeDirection answers "seen from dst, where does src come from?".
// The image origin is top-left, so a smaller y means above.
func RelativeDirection(src, dst BBox) Direction {
	if src.IsZero() || dst.IsZero() {
		return Undefined
	}
	sy, sx := src.Centroid()
	dy, dx := dst.Centroid()
	vy, vx := sy-dy, sx-dx

	if math.Abs(vy) > math.Abs(vx) {
		if vy < 0 {
			return Top
		}
		return Bottom
	}
	if vx < 0 {
		return Left
	}
	return Right
}

// Fingerprint is the spatial signature used to recognize revisits.
type Fingerprint struct {
	BBox BBox     `json:"bbox"`
	Grid []string `json:"grid,omitempty"`
}

// IsEmpty reports whether the fingerprint has neither a box nor grid cells.
func (f Fingerprint) IsEmpty() bool {
	return f.BBox.IsZero() && len(f.Grid) == 0
}

// GridOverlaps reports whether f and o share at least one grid cell.
func (f Fingerprint) GridOverlaps(o Fingerprint) bool {
	for _, c := range f.Grid {
		if slices.Contains(o.Grid, c) {
			return true
		}
	}
	return false
}

// GridEqual reports whether f and o name the same non-empty set of cells.
func (f Fingerprint) GridEqual(o Fingerprint) bool {
	if len(f.Grid) == 0 || len(o.Grid) == 0 {
		return false
	}
	a, b := slices.Clone(f.Grid), slices.Clone(o.Grid)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

func (f Fingerprint) String() string {
	var parts []string
	if !f.BBox.IsZero() {
		parts = append(parts, "bbox="+f.BBox.String())
	}
	if len(f.Grid) > 0 {
		parts = append(parts, "grid="+strings.Join(f.Grid, ","))
	}
	if len(parts) == 0 {
		return "unlocated"
	}
	return strings.Join(parts, " ")
}
