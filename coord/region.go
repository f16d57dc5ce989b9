package coord

import (
	"errors"
	"math"

	"github.com/fogleman/delaunay"
)

// Region is a keep-in area given by its outline, with the vertices in
// order. Convex outlines are triangulated; concave ones are tested against
// the outline directly.
type Region struct {
	bounds    Limits
	outline   []Point
	triangles []Triangle
}

func NewRegion(points []Point) (*Region, error) {
	if len(points) < 3 {
		return nil, errors.New("need at least 3 points to create a region")
	}

	points2d := make([]delaunay.Point, len(points))
	m := make(map[delaunay.Point]Point, len(points))

	r := &Region{
		bounds: Limits{Min: points[0], Max: points[0]},
	}
	var d delaunay.Point
	for i, p := range points {
		r.bounds.Min.X = math.Min(r.bounds.Min.X, p.X)
		r.bounds.Min.Y = math.Min(r.bounds.Min.Y, p.Y)
		r.bounds.Max.X = math.Max(r.bounds.Max.X, p.X)
		r.bounds.Max.Y = math.Max(r.bounds.Max.Y, p.Y)

		d.X = p.X
		d.Y = p.Y
		m[d] = p
		points2d[i] = d
	}
	r.bounds.Min = r.bounds.Min.Sub(Point{Epsilon, Epsilon})
	r.bounds.Max = r.bounds.Max.Add(Point{Epsilon, Epsilon})

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, err
	}
	if len(tri.Triangles) == 0 {
		return nil, errors.New("region points are collinear")
	}
	if crosses(points) {
		return nil, errors.New("region outline crosses itself")
	}

	if !convex(points) {
		// the triangulation covers the convex hull, which includes the notches
		r.outline = append([]Point(nil), points...)
		return r, nil
	}

	r.triangles = make([]Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i < len(tri.Triangles); i += 3 {
		r.triangles = append(r.triangles, Triangle{
			A: m[tri.Points[tri.Triangles[i]]],
			B: m[tri.Points[tri.Triangles[i+1]]],
			C: m[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return r, nil
}

// Bounds returns the bounding box of the region.
func (r *Region) Bounds() Limits { return r.bounds }

// Convex reports whether the outline is convex.
func (r *Region) Convex() bool { return r.outline == nil }

// Contains returns true if p lies inside the region or within Epsilon of
// its outline.
func (r *Region) Contains(p Point) bool {
	if !r.bounds.Contains(p) {
		return false
	}
	if r.outline != nil {
		return r.outlineContains(p)
	}
	for _, t := range r.triangles {
		if t.Contains(p) {
			return true
		}
	}
	return false
}

// outlineContains is an even-odd test with the edges counted as inside.
func (r *Region) outlineContains(p Point) bool {
	in := false
	n := len(r.outline)
	for i := 0; i < n; i++ {
		a, b := r.outline[i], r.outline[(i+1)%n]
		if distanceSquarePointToSegment(a.X, a.Y, b.X, b.Y, p.X, p.Y) <= epsilonSq {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < x {
				in = !in
			}
		}
	}
	return in
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// convex reports whether every turn of the outline goes the same way.
func convex(pts []Point) bool {
	var pos, neg bool
	n := len(pts)
	for i := 0; i < n; i++ {
		c := cross(pts[i], pts[(i+1)%n], pts[(i+2)%n])
		switch {
		case c > epsilonSq:
			pos = true
		case c < -epsilonSq:
			neg = true
		}
		if pos && neg {
			return false
		}
	}
	return true
}

// crosses reports whether two non-adjacent edges of the outline intersect.
func crosses(pts []Point) bool {
	n := len(pts)
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			d1 := cross(a1, a2, b1)
			d2 := cross(a1, a2, b2)
			d3 := cross(b1, b2, a1)
			d4 := cross(b1, b2, a2)
			if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
				((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
				return true
			}
		}
	}
	return false
}
