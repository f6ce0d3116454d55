package domain

import (
	"errors"
	"fmt"
)

const (
	DefaultThresholdDays = 30
	MinThresholdDays     = 1
	MaxThresholdDays     = 365

	// CriticalDays is the absolute floor: anything expiring within a week is critical
	// whatever the domain threshold says.
	CriticalDays = 7
)

var ErrInvalidThreshold = errors.New("invalid alert threshold")

// NormalizeThreshold validates a requested alert_threshold_days. A nil value means
// "not specified" and yields the default.
func NormalizeThreshold(days *int) (int, error) {
	if days == nil {
		return DefaultThresholdDays, nil
	}
	if *days < MinThresholdDays || *days > MaxThresholdDays {
		return 0, fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidThreshold, *days, MinThresholdDays, MaxThresholdDays)
	}
	return *days, nil
}
