package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	KnotsToMs = 0.514444 // Conversion factor from Knots to m/s
	FeetToM   = 0.3048   // Conversion factor from feet to metres
	FpmToMs   = 0.00508  // Conversion factor from ft/min to m/s
)

// MetersToFeet converts an altitude in metres to feet
func MetersToFeet(m float64) float64 {
	return m / FeetToM
}

// MsToKts converts a speed in m/s to knots
func MsToKts(ms float64) float64 {
	return ms / KnotsToMs
}

// MsToFpm converts a vertical rate in m/s to feet per minute
func MsToFpm(ms float64) float64 {
	return ms / FpmToMs
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	// Convert altitude to meters for WMM
	altM := altFt * FeetToM

	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// No correction when the model is out of its validity range
		return 0.0
	}

	return mag.D()
}

// MagneticToTrue converts a magnetic heading to a true heading in [0, 360).
// NaN headings stay NaN.
func MagneticToTrue(headingDeg, lat, lon, altFt float64, date time.Time) float64 {
	if math.IsNaN(headingDeg) {
		return headingDeg
	}
	return NormalizeHeading(headingDeg + CalculateMagneticVariation(lat, lon, altFt, date))
}

// NormalizeHeading wraps a heading into [0, 360)
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
