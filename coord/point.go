package coord

import (
	"math"
)

// Point is a position on the stage in millimetres.
type Point struct{ X, Y float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y
}

// Near reports whether b is within tol of p on both axes.
func (p Point) Near(b Point, tol float64) bool {
	return math.Abs(p.X-b.X) <= tol && math.Abs(p.Y-b.Y) <= tol
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	return p
}

// Distance will return the distance from p to target.
func (p Point) Distance(target Point) float64 {
	return math.Sqrt(math.Pow(target.X-p.X, 2) + math.Pow(target.Y-p.Y, 2))
}
