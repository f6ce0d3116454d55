package service

import (
	"context"
	"errors"
	"time"

	"ssl-monitor/internal/domain"
	"ssl-monitor/internal/repository"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/net/publicsuffix"
)

// ErrNotChecked is returned when a domain has no observation yet.
var ErrNotChecked = errors.New("domain has not been checked yet")

// QueueCanceller drops pending work of a deleted domain.
type QueueCanceller interface {
	CancelDomain(id primitive.ObjectID)
}

type CreateDomainInput struct {
	Name               string `json:"name" binding:"required"`
	AlertThresholdDays *int   `json:"alert_threshold_days"`
	IsActive           *bool  `json:"is_active"`
}

type UpdateDomainInput struct {
	AlertThresholdDays *int  `json:"alert_threshold_days"`
	IsActive           *bool `json:"is_active"`
}

// DomainService is the read/write entry point used by the HTTP layer. Every read model
// is classified here, at request time, from the newest stored observation.
type DomainService struct {
	Store     repository.Store
	Scheduler *CheckScheduler
	Notifier  QueueCanceller
	Now       func() time.Time
}

func NewDomainService(store repository.Store, scheduler *CheckScheduler, notifier QueueCanceller) *DomainService {
	return &DomainService{
		Store:     store,
		Scheduler: scheduler,
		Notifier:  notifier,
		Now:       time.Now,
	}
}

func (s *DomainService) Create(ctx context.Context, userID string, in CreateDomainInput) (domain.DomainStatus, error) {
	// 1. Validate
	name, err := domain.NormalizeHostname(in.Name)
	if err != nil {
		return domain.DomainStatus{}, err
	}
	threshold, err := domain.NormalizeThreshold(in.AlertThresholdDays)
	if err != nil {
		return domain.DomainStatus{}, err
	}

	// 2. Zone (registrable domain)
	zone, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		zone = name
	}

	d := domain.Domain{
		UserID:             userID,
		Name:               name,
		Zone:               zone,
		IsActive:           true,
		AlertThresholdDays: threshold,
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}

	// 3. Store
	if err := s.Store.CreateDomain(ctx, &d); err != nil {
		return domain.DomainStatus{}, err
	}

	logrus.Infof("✨ [Domain] %s added for user %s", d.Name, userID)
	return domain.NewDomainStatus(domain.Snapshot{Domain: d}, s.now()), nil
}

func (s *DomainService) Get(ctx context.Context, userID string, id primitive.ObjectID) (domain.DomainStatus, error) {
	d, err := s.owned(ctx, userID, id)
	if err != nil {
		return domain.DomainStatus{}, err
	}

	latest, err := s.Store.LatestObservation(ctx, id)
	if err != nil {
		return domain.DomainStatus{}, err
	}
	return domain.NewDomainStatus(domain.Snapshot{Domain: *d, Latest: latest}, s.now()), nil
}

func (s *DomainService) List(ctx context.Context, userID string) ([]domain.DomainStatus, error) {
	snap, err := s.Store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.DomainStatus, 0, len(snap))
	for _, item := range snap {
		out = append(out, domain.NewDomainStatus(item, now))
	}
	return out, nil
}

func (s *DomainService) Update(ctx context.Context, userID string, id primitive.ObjectID, in UpdateDomainInput) (domain.DomainStatus, error) {
	d, err := s.owned(ctx, userID, id)
	if err != nil {
		return domain.DomainStatus{}, err
	}

	// 1. Apply only the fields that were sent
	if in.AlertThresholdDays != nil {
		threshold, err := domain.NormalizeThreshold(in.AlertThresholdDays)
		if err != nil {
			return domain.DomainStatus{}, err
		}
		d.AlertThresholdDays = threshold
	}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}

	// 2. Store, then re-read with the latest observation (new threshold reclassifies)
	if err := s.Store.UpdateDomain(ctx, d); err != nil {
		return domain.DomainStatus{}, err
	}
	return s.Get(ctx, userID, id)
}

// Delete removes the domain with its history, aborts an in-flight check and drops
// queued notifications.
func (s *DomainService) Delete(ctx context.Context, userID string, id primitive.ObjectID) error {
	d, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	// 1. Abort the running check and its pending notifications
	if s.Scheduler != nil && s.Scheduler.Cancel(id) {
		logrus.Infof("[Domain] cancelled running check of %s", d.Name)
	}
	if s.Notifier != nil {
		s.Notifier.CancelDomain(id)
	}

	// 2. Delete under the domain lock so no observation is committed after it
	remove := func() error { return s.Store.DeleteDomain(ctx, id) }
	if s.Scheduler != nil {
		err = s.Scheduler.WithDomainLock(id, remove)
	} else {
		err = remove()
	}
	if err != nil {
		return err
	}

	logrus.Infof("🗑 [Domain] %s deleted", d.Name)
	return nil
}

// SSLStatus returns the nested status of a checked domain, ErrNotChecked otherwise.
func (s *DomainService) SSLStatus(ctx context.Context, userID string, id primitive.ObjectID) (domain.SSLStatus, error) {
	st, err := s.Get(ctx, userID, id)
	if err != nil {
		return domain.SSLStatus{}, err
	}
	if st.LastChecked == nil {
		return domain.SSLStatus{}, ErrNotChecked
	}
	return st.SSLStatus, nil
}

// History returns up to limit observations, newest first.
func (s *DomainService) History(ctx context.Context, userID string, id primitive.ObjectID, limit int) ([]domain.CertificateObservation, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.Store.ListObservations(ctx, id, limit)
}

// Statistics aggregates one snapshot of the user's domains.
func (s *DomainService) Statistics(ctx context.Context, userID string) (domain.Statistics, error) {
	statuses, err := s.List(ctx, userID)
	if err != nil {
		return domain.Statistics{}, err
	}
	return domain.Aggregate(statuses), nil
}

func (s *DomainService) owned(ctx context.Context, userID string, id primitive.ObjectID) (*domain.Domain, error) {
	d, err := s.Store.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, repository.ErrNotFound // someone else's domain looks missing
	}
	return d, nil
}

func (s *DomainService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
