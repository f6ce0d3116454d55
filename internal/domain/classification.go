package domain

import "time"

// Classification is the health label derived from a domain's latest observation.
type Classification string

const (
	StatusHealthy  Classification = "healthy"
	StatusWarning  Classification = "warning"
	StatusCritical Classification = "critical"
	StatusExpired  Classification = "expired"
	StatusError    Classification = "error"
	StatusUnknown  Classification = "unknown"
)

// AllClassifications lists every label, useful for exhaustive iteration.
var AllClassifications = []Classification{
	StatusHealthy, StatusWarning, StatusCritical, StatusExpired, StatusError, StatusUnknown,
}

// Result is the output of Classify. ExpiresInDays is nil for unknown and error.
type Result struct {
	Status        Classification `json:"status"`
	ExpiresInDays *int           `json:"expires_in_days"`
}

// Classify maps an observation (nil when the domain was never checked) and the domain's
// alert threshold to a classification, evaluated at now.
//
// It panics when obs breaks the error_message / not_valid_after invariant: that is a bug
// in whatever produced the observation, not something to paper over here.
func Classify(obs *CertificateObservation, thresholdDays int, now time.Time) Result {
	if obs == nil {
		return Result{Status: StatusUnknown}
	}
	if err := obs.Validate(); err != nil {
		panic(err)
	}

	if obs.ErrorMessage != "" {
		return Result{Status: StatusError}
	}

	days := FloorDays(*obs.NotValidAfter, now)

	// A chain that does not verify has no meaningful "valid until", unless the date
	// itself has already passed.
	if !obs.IsValid && days >= 0 {
		return Result{Status: StatusError}
	}

	return Result{Status: classifyDays(days, thresholdDays), ExpiresInDays: &days}
}

func classifyDays(days, thresholdDays int) Classification {
	switch {
	case days < 0:
		return StatusExpired
	case days <= CriticalDays:
		return StatusCritical
	case days <= thresholdDays:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
