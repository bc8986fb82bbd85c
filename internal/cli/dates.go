package cli

import (
	"fmt"
	"time"
)

// parseDay accepts YYYY-MM-DD; empty yields the zero time.
func parseDay(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value: %w", flag, err)
	}
	return day, nil
}
