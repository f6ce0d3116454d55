package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ssl-monitor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func observedAt(at time.Time, daysLeft int) *domain.CertificateObservation {
	nva := at.Add(time.Duration(daysLeft)*24*time.Hour + time.Hour)
	return &domain.CertificateObservation{CheckedAt: at, IsValid: true, NotValidAfter: &nva}
}

func TestTrigger_Evaluate(t *testing.T) {
	d := domain.Domain{ID: primitive.NewObjectID(), UserID: "alice", Name: "example.com", AlertThresholdDays: 30}
	trig := NewNotificationTrigger(nil)

	t.Run("first check is silent when healthy", func(t *testing.T) {
		_, ok := trig.Evaluate(d, nil, observedAt(testNow, 90))
		assert.False(t, ok)
	})

	t.Run("first check that fails", func(t *testing.T) {
		ev, ok := trig.Evaluate(d, nil, &domain.CertificateObservation{CheckedAt: testNow, ErrorMessage: "connection refused"})
		require.True(t, ok)
		assert.Equal(t, domain.EventProbeFailed, ev.Kind)
		assert.Equal(t, domain.StatusUnknown, ev.Previous)
		assert.Equal(t, "connection refused", ev.ErrorMessage)
		assert.Nil(t, ev.ExpiresInDays)
	})

	t.Run("previous classified at its own time", func(t *testing.T) {
		// 31 days left yesterday, 30 today: healthy -> warning
		prev := observedAt(testNow.Add(-24*time.Hour), 31)
		next := &domain.CertificateObservation{CheckedAt: testNow, IsValid: true, NotValidAfter: prev.NotValidAfter}

		ev, ok := trig.Evaluate(d, prev, next)
		require.True(t, ok)
		assert.Equal(t, domain.EventEnteredWarning, ev.Kind)
		assert.Equal(t, 30, *ev.ExpiresInDays)
		assert.Equal(t, d.ID, ev.DomainID)
		assert.Equal(t, "alice", ev.UserID)
		assert.Equal(t, testNow, ev.OccurredAt)
		assert.NotEmpty(t, ev.ID)
	})

	t.Run("same state is silent", func(t *testing.T) {
		_, ok := trig.Evaluate(d, observedAt(testNow.Add(-time.Hour), 20), observedAt(testNow, 20))
		assert.False(t, ok)
	})

	t.Run("recovery after renewal", func(t *testing.T) {
		ev, ok := trig.Evaluate(d, observedAt(testNow.Add(-time.Hour), 3), observedAt(testNow, 89))
		require.True(t, ok)
		assert.Equal(t, domain.EventRecovered, ev.Kind)
		assert.Equal(t, domain.StatusCritical, ev.Previous)
	})
}

type failingDeliverer struct{ calls int }

func (f *failingDeliverer) Deliver(ctx context.Context, userID string, ev domain.Event) error {
	f.calls++
	return errors.New("smtp on fire")
}

func TestTrigger_FireSwallowsDeliveryErrors(t *testing.T) {
	f := &failingDeliverer{}
	trig := NewNotificationTrigger(f)

	assert.NotPanics(t, func() {
		trig.Fire(context.Background(), domain.Event{Kind: domain.EventEnteredExpired, DomainName: "x.test"})
	})
	assert.Equal(t, 1, f.calls)

	assert.NotPanics(t, func() {
		NewNotificationTrigger(nil).Fire(context.Background(), domain.Event{Kind: domain.EventRecovered})
	})
}
