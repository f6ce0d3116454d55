package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition_AllPairs(t *testing.T) {
	want := map[[2]Classification]EventKind{
		{StatusHealthy, StatusWarning}:  EventEnteredWarning,
		{StatusUnknown, StatusWarning}:  EventEnteredWarning,
		{StatusHealthy, StatusCritical}: EventEnteredCritical,
		{StatusWarning, StatusCritical}: EventEnteredCritical,
		{StatusUnknown, StatusCritical}: EventEnteredCritical,
		{StatusError, StatusCritical}:   EventEnteredCritical,
		{StatusHealthy, StatusExpired}:  EventEnteredExpired,
		{StatusWarning, StatusExpired}:  EventEnteredExpired,
		{StatusCritical, StatusExpired}: EventEnteredExpired,
		{StatusUnknown, StatusExpired}:  EventEnteredExpired,
		{StatusError, StatusExpired}:    EventEnteredExpired,
		{StatusWarning, StatusHealthy}:  EventRecovered,
		{StatusCritical, StatusHealthy}: EventRecovered,
		{StatusExpired, StatusHealthy}:  EventRecovered,
		{StatusError, StatusHealthy}:    EventRecovered,
		{StatusHealthy, StatusError}:    EventProbeFailed,
		{StatusWarning, StatusError}:    EventProbeFailed,
		{StatusCritical, StatusError}:   EventProbeFailed,
		{StatusExpired, StatusError}:    EventProbeFailed,
		{StatusUnknown, StatusError}:    EventProbeFailed,
	}

	pairs := 0
	for _, prev := range AllClassifications {
		for _, next := range AllClassifications {
			pairs++
			kind, ok := Transition(prev, next)

			if prev == next {
				assert.False(t, ok, "%s -> %s must not alert", prev, next)
				continue
			}

			expected, alert := want[[2]Classification{prev, next}]
			assert.Equal(t, alert, ok, "%s -> %s", prev, next)
			assert.Equal(t, expected, kind, "%s -> %s", prev, next)
		}
	}
	assert.Equal(t, 36, pairs)
}

func TestTransition_SilentCases(t *testing.T) {
	silent := [][2]Classification{
		{StatusUnknown, StatusHealthy},
		{StatusCritical, StatusWarning},
		{StatusExpired, StatusWarning},
		{StatusExpired, StatusCritical},
		{StatusError, StatusWarning},
	}
	for _, p := range silent {
		_, ok := Transition(p[0], p[1])
		assert.False(t, ok, "%s -> %s", p[0], p[1])
	}

	// Nothing ever transitions into unknown.
	for _, prev := range AllClassifications {
		_, ok := Transition(prev, StatusUnknown)
		assert.False(t, ok)
	}
}

func TestTransition_BlipInsideWarning(t *testing.T) {
	// warning -> error -> warning alerts once for the failure and not again on return
	var kinds []EventKind
	states := []Classification{StatusHealthy, StatusWarning, StatusError, StatusWarning}
	for i := 1; i < len(states); i++ {
		if kind, ok := Transition(states[i-1], states[i]); ok {
			kinds = append(kinds, kind)
		}
	}
	assert.Equal(t, []EventKind{EventEnteredWarning, EventProbeFailed}, kinds)
}
