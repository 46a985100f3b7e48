// Package render turns sensor snapshots into the operator-facing views: the
// proximity alert, config echo lines, summary statistics and radar charts.
package render

import (
	"fmt"

	"github.com/banshee-data/ultrasonic.radar/internal/sensor"
)

// DefaultWarningDistance is the distance in cm below which an object is
// reported as nearby.
const DefaultWarningDistance = 30.0

// Level is the severity of the proximity alert.
type Level string

const (
	LevelClear      Level = "clear"
	LevelWarning    Level = "warning"
	LevelOutOfRange Level = "out_of_range"
)

// Alert is the proximity status derived from the current distance.
type Alert struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Classify maps the current distance to an alert. Negative distances are the
// sensor's out-of-range sentinel.
func Classify(distance, warning float64) Alert {
	switch {
	case distance < 0:
		return Alert{Level: LevelOutOfRange, Message: "Object out of range"}
	case distance < warning:
		return Alert{Level: LevelWarning, Message: "Warning: Object nearby"}
	default:
		return Alert{Level: LevelClear, Message: "No nearby objects"}
	}
}

// EchoLines formats the device's reported configuration for display.
func EchoLines(c sensor.ConfigEcho) []string {
	return []string{
		fmt.Sprintf("Motor speed: %d RPM", c.MotorSpeed),
		fmt.Sprintf("Distance threshold: %d cm", c.DistanceThreshold),
		fmt.Sprintf("Max detection: %d cm", c.MaxDetectionDistance),
		fmt.Sprintf("Sleep timeout: %d sec", c.SleepTimeout),
	}
}

// Report bundles the alert and echo lines shown next to the chart.
type Report struct {
	Alert
	Distance float64  `json:"distance"`
	Echo     []string `json:"echo"`
}

// Alerts builds the report for a snapshot.
func Alerts(snap sensor.Snapshot, warning float64) Report {
	return Report{
		Alert:    Classify(snap.Current.Distance, warning),
		Distance: snap.Current.Distance,
		Echo:     EchoLines(snap.Config),
	}
}
