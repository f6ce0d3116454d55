package service

import (
	"context"

	"ssl-monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationTrigger turns a stored observation into at most one transition event.
type NotificationTrigger struct {
	Deliverer Deliverer
}

func NewNotificationTrigger(d Deliverer) *NotificationTrigger {
	return &NotificationTrigger{Deliverer: d}
}

// Evaluate compares the previous observation (nil if none) with the new one. Each side is
// classified at its own checked_at with the domain's current threshold, so the result does
// not depend on when Evaluate runs.
func (t *NotificationTrigger) Evaluate(d domain.Domain, prev, next *domain.CertificateObservation) (domain.Event, bool) {
	before := domain.Result{Status: domain.StatusUnknown}
	if prev != nil {
		before = domain.Classify(prev, d.AlertThresholdDays, prev.CheckedAt)
	}
	after := domain.Classify(next, d.AlertThresholdDays, next.CheckedAt)

	kind, ok := domain.Transition(before.Status, after.Status)
	if !ok {
		return domain.Event{}, false
	}

	return domain.Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		UserID:        d.UserID,
		DomainID:      d.ID,
		DomainName:    d.Name,
		ExpiresInDays: after.ExpiresInDays,
		Previous:      before.Status,
		Current:       after.Status,
		NotValidAfter: next.NotValidAfter,
		ErrorMessage:  next.Problem(),
		OccurredAt:    next.CheckedAt,
	}, true
}

// Fire hands ev to the deliverer. Failures are logged and counted, nothing else.
func (t *NotificationTrigger) Fire(ctx context.Context, ev domain.Event) {
	notificationEvents.WithLabelValues(string(ev.Kind)).Inc()
	logrus.WithFields(logrus.Fields{
		"domain": ev.DomainName,
		"from":   ev.Previous,
		"to":     ev.Current,
	}).Infof("🔔 [Notify] %s", ev.Kind)

	if t.Deliverer == nil {
		return
	}
	if err := t.Deliverer.Deliver(ctx, ev.UserID, ev); err != nil {
		logrus.Errorf("[Notify] delivery of %s for %s failed: %v", ev.Kind, ev.DomainName, err)
	}
}
