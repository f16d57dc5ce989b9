package coord

import "fmt"

// Limits is an axis-aligned travel window.
type Limits struct {
	Min, Max Point
}

// Contains reports whether p lies inside the window, edges included.
func (l Limits) Contains(p Point) bool {
	return p.X >= l.Min.X && p.X <= l.Max.X &&
		p.Y >= l.Min.Y && p.Y <= l.Max.Y
}

// Within reports whether l lies entirely inside outer.
func (l Limits) Within(outer Limits) bool {
	return outer.Contains(l.Min) && outer.Contains(l.Max)
}

// Center returns the middle of the window.
func (l Limits) Center() Point {
	return l.Min.Add(l.Max).Div(2)
}

// Validate checks that min is strictly below max on both axes.
func (l Limits) Validate() error {
	if l.Min.X >= l.Max.X {
		return fmt.Errorf("limit error: x min (%g) >= x max (%g)", l.Min.X, l.Max.X)
	}
	if l.Min.Y >= l.Max.Y {
		return fmt.Errorf("limit error: y min (%g) >= y max (%g)", l.Min.Y, l.Max.Y)
	}
	return nil
}

