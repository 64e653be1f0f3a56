package utils

import (
	"fmt"
	"time"
)

// FormatRoundedUnit renders a duration in its single coarsest unit for
// compact CLI output: "42s", "13m", "2h".
func FormatRoundedUnit(d time.Duration) string {
	seconds := int64(d.Round(time.Second).Seconds())
	if seconds < 0 {
		seconds = -seconds
	}

	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh", seconds/3600)
	}
}
