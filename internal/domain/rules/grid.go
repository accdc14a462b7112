package rules

import "math"

// Grid describes how generator output is split between the eco-village and the grid.
type Grid struct {
	HouseConsumptionKW float64 // Village demand served before exporting
	HousesActiveKW     float64 // Output above which the village counts as powered
	SecondHouseKW      float64 // Output above which the second house lights up
}

// DefaultGrid returns the pilot's two-house village.
func DefaultGrid() Grid {
	return Grid{
		HouseConsumptionKW: 3.5,
		HousesActiveKW:     1,
		SecondHouseKW:      5,
	}
}

// Export is the surplus sent to the grid.
func (g Grid) Export(outputKW float64) float64 {
	return math.Max(0, outputKW-g.HouseConsumptionKW)
}

// HousesActive reports whether the village is powered.
func (g Grid) HousesActive(outputKW float64) bool {
	return outputKW > g.HousesActiveKW
}

// LitHouses counts lit houses: the first lights on any output, the second above SecondHouseKW.
func (g Grid) LitHouses(outputKW float64) int {
	switch {
	case outputKW > g.SecondHouseKW:
		return 2
	case outputKW > 0:
		return 1
	default:
		return 0
	}
}
