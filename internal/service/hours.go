package service

import "math"

// minStageHours is the floor for any stored duration. Sub-minute stages
// still occupy a schedulable slot.
const minStageHours = 0.01

// roundHours normalizes a duration to two decimals with the minimum floor.
func roundHours(hours float64) float64 {
	rounded := math.Round(hours*100) / 100
	if rounded < minStageHours {
		return minStageHours
	}
	return rounded
}
