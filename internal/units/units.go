// Package units provides shared constants and conversions for speed and
// energy. Speeds are carried internally in km/h, energy in watt-hours.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

const (
	// MPSToKMH converts metres per second to kilometres per hour.
	MPSToKMH = 3.6
	// SecondsPerHour converts watt-seconds (joules) to watt-hours.
	SecondsPerHour = 3600.0

	kmhToMPH = 0.621371192237334
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// SpeedKMH returns the speed in km/h for distanceM metres covered over
// seconds. Non-positive intervals yield 0.
func SpeedKMH(distanceM, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return distanceM / seconds * MPSToKMH
}

// ConvertSpeed converts a speed in km/h to the target units. Unknown units
// return the input unchanged.
func ConvertSpeed(speedKMH float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKMH / MPSToKMH
	case MPH:
		return speedKMH * kmhToMPH
	default:
		return speedKMH
	}
}

// WattHours returns the energy in Wh delivered by powerW watts sustained for
// seconds.
func WattHours(powerW, seconds float64) float64 {
	return powerW * seconds / SecondsPerHour
}
