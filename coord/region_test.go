package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegion(t *testing.T) {
	_, err := NewRegion([]Point{{0, 0}, {1, 1}})
	assert.Error(t, err)

	// slide holder outline, wider at the bottom
	r, err := NewRegion([]Point{
		{X: 10, Y: 10},
		{X: 120, Y: 10},
		{X: 100, Y: 90},
		{X: 30, Y: 90},
	})
	require.NoError(t, err)

	assert.True(t, r.Contains(Point{X: 65, Y: 50}))
	assert.True(t, r.Contains(Point{X: 10, Y: 10}))
	assert.True(t, r.Contains(Point{X: 115, Y: 12}))
	assert.False(t, r.Contains(Point{X: 115, Y: 85}))
	assert.False(t, r.Contains(Point{X: 5, Y: 50}))

	b := r.Bounds()
	assert.InDelta(t, 10, b.Min.X, Epsilon*2)
	assert.InDelta(t, 90, b.Max.Y, Epsilon*2)
}

func TestLimits(t *testing.T) {
	l := Limits{Min: Point{0, 0}, Max: Point{130, 100}}
	assert.NoError(t, l.Validate())
	assert.True(t, l.Contains(Point{130, 100}))
	assert.False(t, l.Contains(Point{130.1, 50}))
	assert.Equal(t, Point{65, 50}, l.Center())

	inner := Limits{Min: Point{10, 10}, Max: Point{20, 20}}
	assert.True(t, inner.Within(l))
	assert.False(t, l.Within(inner))

	bad := Limits{Min: Point{10, 0}, Max: Point{5, 100}}
	assert.Error(t, bad.Validate())
}

func TestRegion_Concave(t *testing.T) {
	// L shaped, the upper right quadrant is excluded
	r, err := NewRegion([]Point{
		{X: 0, Y: 0},
		{X: 100, Y: 0},
		{X: 100, Y: 50},
		{X: 50, Y: 50},
		{X: 50, Y: 100},
		{X: 0, Y: 100},
	})
	require.NoError(t, err)
	assert.False(t, r.Convex())

	assert.False(t, r.Contains(Point{X: 70, Y: 70}))
	assert.False(t, r.Contains(Point{X: 99, Y: 99}))
	assert.True(t, r.Contains(Point{X: 25, Y: 75}))
	assert.True(t, r.Contains(Point{X: 75, Y: 25}))
	assert.True(t, r.Contains(Point{X: 50, Y: 75}))
	assert.True(t, r.Contains(Point{X: 0, Y: 0}))
	assert.False(t, r.Contains(Point{X: 101, Y: 25}))
}

func TestRegion_Outline(t *testing.T) {
	// square corners out of order
	_, err := NewRegion([]Point{{0, 0}, {10, 10}, {10, 0}, {0, 10}})
	assert.Error(t, err)

	r, err := NewRegion([]Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}})
	require.NoError(t, err)
	assert.True(t, r.Convex())
	assert.True(t, r.Contains(Point{5, 5}))
}
