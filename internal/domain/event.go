package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventKind names a classification transition worth telling the user about.
type EventKind string

const (
	EventEnteredWarning  EventKind = "entered_warning"
	EventEnteredCritical EventKind = "entered_critical"
	EventEnteredExpired  EventKind = "entered_expired"
	EventRecovered       EventKind = "recovered"
	EventProbeFailed     EventKind = "probe_failed"
)

// Event is handed to the delivery collaborator.
type Event struct {
	ID            string             `json:"id"`
	Kind          EventKind          `json:"kind"`
	UserID        string             `json:"user_id"`
	DomainID      primitive.ObjectID `json:"domain_id"`
	DomainName    string             `json:"domain_name"`
	ExpiresInDays *int               `json:"expires_in_days"`
	Previous      Classification     `json:"previous"`
	Current       Classification     `json:"current"`
	NotValidAfter *time.Time         `json:"not_valid_after,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// expiry severity; error and unknown sit outside this scale.
var severity = map[Classification]int{
	StatusUnknown:  0,
	StatusHealthy:  1,
	StatusWarning:  2,
	StatusCritical: 3,
	StatusExpired:  4,
}

// Transition decides whether moving from prev to next deserves an alert. It is
// edge-triggered: equal classifications never alert, and the silent first success
// (unknown -> healthy) does not either.
func Transition(prev, next Classification) (EventKind, bool) {
	if prev == next {
		return "", false
	}

	switch next {
	case StatusError:
		return EventProbeFailed, true

	case StatusExpired:
		return EventEnteredExpired, true

	case StatusCritical:
		// A previous error said nothing about expiry, so the critical state is news.
		if prev == StatusError || severity[prev] < severity[StatusCritical] {
			return EventEnteredCritical, true
		}

	case StatusWarning:
		// error -> warning stays quiet: the failure already alerted once
		switch prev {
		case StatusHealthy, StatusUnknown:
			return EventEnteredWarning, true
		}

	case StatusHealthy:
		switch prev {
		case StatusWarning, StatusCritical, StatusExpired, StatusError:
			return EventRecovered, true
		}
	}

	return "", false
}
