package presenter

import "math"

// Breakpoints are the PM2.5 (μg/m3) bin edges of the AQI categories.
var Breakpoints = []float64{0, 12, 35.4, 55.4, 150.4, 250.4, 350.4, 500.4}

// Labels name the bins between consecutive Breakpoints.
var Labels = []string{
	"Good",
	"Moderate",
	"Unhealthy for Sensitive Groups",
	"Unhealthy",
	"Very Unhealthy",
	"Hazardous",
	"Very Hazardous",
}

// Category returns the AQI label for a PM2.5 value. Bins are closed on the
// right and the first bin also includes its lower edge, so 0 is Good and
// 12 is Good while 12.01 is Moderate. Values outside [0, 500.4] and NaN
// are unlabeled.
func Category(pm25 float64) (string, bool) {
	if math.IsNaN(pm25) || pm25 < Breakpoints[0] || pm25 > Breakpoints[len(Breakpoints)-1] {
		return "", false
	}
	for i := 1; i < len(Breakpoints); i++ {
		if pm25 <= Breakpoints[i] {
			return Labels[i-1], true
		}
	}
	return "", false
}
