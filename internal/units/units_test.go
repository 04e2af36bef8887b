package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty unit", "", false},
		{"uppercase MPS", "MPS", false}, // Case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	expected := "mps, mph, kmph, kph"
	result := GetValidUnitsString()
	if result != expected {
		t.Errorf("GetValidUnitsString() = %s, want %s", result, expected)
	}
}

func TestSpeedKMH(t *testing.T) {
	tests := []struct {
		name      string
		distanceM float64
		seconds   float64
		expected  float64
	}{
		{"10 m in 1 s", 10, 1, 36},
		{"69.3 m in 2 s", 69.3, 2, 124.74},
		{"zero interval", 10, 0, 0},
		{"negative interval", 10, -1, 0},
		{"no movement", 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SpeedKMH(tt.distanceM, tt.seconds)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("SpeedKMH(%f, %f) = %f, want %f", tt.distanceM, tt.seconds, result, tt.expected)
			}
		})
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedKMH float64
		unit     string
		expected float64
	}{
		{"36 km/h to mps", 36, MPS, 10},
		{"100 km/h to mph", 100, MPH, 62.1371},
		{"18 km/h to kmph", 18, KMPH, 18},
		{"18 km/h to kph", 18, KPH, 18},
		{"unknown unit passthrough", 18, "furlongs", 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedKMH, tt.unit)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedKMH, tt.unit, result, tt.expected)
			}
		})
	}
}

func TestWattHours(t *testing.T) {
	if got := WattHours(3600, 1); got != 1 {
		t.Errorf("WattHours(3600, 1) = %f, want 1", got)
	}
	if got := WattHours(200, 1.5); math.Abs(got-200*1.5/3600) > 1e-12 {
		t.Errorf("WattHours(200, 1.5) = %f", got)
	}
}
