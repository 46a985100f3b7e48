// Package units provides shared constants and validation for distance units
package units

import "strings"

// Unit constants
const (
	CM = "cm"
	MM = "mm"
	M  = "m"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, M, IN}

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
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts a distance from centimetres to the target units.
// The sensor reports centimetres. Negative distances mean "no target" and are
// returned unchanged so the sentinel survives conversion.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	if distanceCM < 0 {
		return distanceCM
	}
	switch targetUnits {
	case MM:
		return distanceCM * 10
	case M:
		return distanceCM / 100
	case IN:
		return distanceCM / 2.54
	default:
		return distanceCM // default to cm if unknown unit
	}
}
