package stage

import "math"

const (
	// unitsPerMM converts millimetres to device data units (nanometres).
	unitsPerMM = 1e6
	// speedPerMMPS converts mm/s to device velocity units.
	speedPerMMPS = unitsPerMM * 1.6384
)

// MMToUnits converts a distance in mm to device data units.
func MMToUnits(mm float64) int64 { return int64(math.Round(mm * unitsPerMM)) }

// UnitsToMM converts device data units to mm.
func UnitsToMM(u int64) float64 { return float64(u) / unitsPerMM }

// SpeedToUnits converts a speed in mm/s to device velocity units.
func SpeedToUnits(mmps float64) int64 { return int64(math.Round(mmps * speedPerMMPS)) }

// UnitsToSpeed converts device velocity units to mm/s, rounded to 3 decimals.
func UnitsToSpeed(u int64) float64 {
	return math.Round(float64(u)/speedPerMMPS*1000) / 1000
}
