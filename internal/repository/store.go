package repository

import (
	"context"
	"errors"
	"time"

	"ssl-monitor/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateDomain = errors.New("domain already registered")
)

// Store is the storage collaborator. Implementations never classify anything; they only
// persist domains and the append-only observation history.
type Store interface {
	// CreateDomain assigns ID and timestamps. ErrDuplicateDomain if the user already owns the name.
	CreateDomain(ctx context.Context, d *domain.Domain) error
	GetDomain(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error)
	FindDomainByName(ctx context.Context, userID, name string) (*domain.Domain, error)
	UpdateDomain(ctx context.Context, d *domain.Domain) error
	// DeleteDomain removes the domain and all of its observations.
	DeleteDomain(ctx context.Context, id primitive.ObjectID) error
	ListDomains(ctx context.Context, userID string) ([]domain.Domain, error)

	// AppendObservation returns ErrNotFound when the domain no longer exists.
	AppendObservation(ctx context.Context, obs *domain.CertificateObservation) error
	// LatestObservation returns nil, nil for a domain that was never checked.
	LatestObservation(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateObservation, error)
	// ListObservations returns newest first.
	ListObservations(ctx context.Context, domainID primitive.ObjectID, limit int) ([]domain.CertificateObservation, error)
	// PruneObservations deletes observations older than cutoff, always keeping each domain's newest.
	PruneObservations(ctx context.Context, cutoff time.Time) (int64, error)

	// Snapshot returns every domain of the user with its newest observation, read consistently.
	Snapshot(ctx context.Context, userID string) ([]domain.Snapshot, error)
	// ActiveSnapshot is Snapshot over the active domains of all users.
	ActiveSnapshot(ctx context.Context) ([]domain.Snapshot, error)

	Ping(ctx context.Context) error
}

const DefaultHistoryLimit = 50

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
