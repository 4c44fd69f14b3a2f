// Package units provides shared constants, validation, and conversion for
// pressure units reported by the gauge.
package units

import "strings"

// Unit constants. These are the tokens the Quantum firmware accepts in
// U!P commands and reports from U?P queries.
const (
	MBAR   = "MBAR"
	TORR   = "TORR"
	PASCAL = "PASCAL"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MBAR, TORR, PASCAL}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// Normalize uppercases and trims a unit token so values read back from
// firmware (which may echo lowercase or padded tokens) compare correctly.
func Normalize(unit string) string {
	return strings.ToUpper(strings.TrimSpace(unit))
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "MBAR, TORR, PASCAL"
}

// mbar per torr
const torrPerMbar = 0.750062

// ConvertPressure converts a pressure value between units.
// 1 mbar = 0.750062 torr = 100 pascal.
func ConvertPressure(value float64, from, to string) float64 {
	from = Normalize(from)
	to = Normalize(to)
	if from == to {
		return value
	}

	// normalise to mbar first
	var mbar float64
	switch from {
	case TORR:
		mbar = value / torrPerMbar
	case PASCAL:
		mbar = value / 100.0
	case MBAR:
		mbar = value
	default:
		return value // unknown source unit, pass through
	}

	switch to {
	case TORR:
		return mbar * torrPerMbar
	case PASCAL:
		return mbar * 100.0
	case MBAR:
		return mbar
	default:
		return value
	}
}
