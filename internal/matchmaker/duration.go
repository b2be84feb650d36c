package matchmaker

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// sampleDurationSeconds draws a game duration from a triangular
// distribution over [minSec, maxSec]; the mode is the midpoint of the
// range absent any other signal for a "most likely" duration.
func sampleDurationSeconds(minSec, maxSec int) float64 {
	if maxSec <= minSec {
		return float64(minSec)
	}
	tri := distuv.NewTriangle(float64(minSec), float64(maxSec), float64(minSec+maxSec)/2, nil)
	return tri.Rand()
}
