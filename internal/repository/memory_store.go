package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ssl-monitor/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps everything in process. Used by `storage.driver: memory` and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	domains      map[primitive.ObjectID]domain.Domain
	observations map[primitive.ObjectID][]domain.CertificateObservation // oldest first
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		domains:      make(map[primitive.ObjectID]domain.Domain),
		observations: make(map[primitive.ObjectID][]domain.CertificateObservation),
	}
}

func (s *MemoryStore) CreateDomain(ctx context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.domains {
		if existing.UserID == d.UserID && existing.Name == d.Name {
			return ErrDuplicateDomain
		}
	}

	now := time.Now().UTC()
	d.ID = primitive.NewObjectID()
	d.CreatedAt = now
	d.UpdatedAt = now
	s.domains[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDomain(ctx context.Context, id primitive.ObjectID) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) FindDomainByName(ctx context.Context, userID, name string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.domains {
		if d.UserID == userID && d.Name == name {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[d.ID]; !ok {
		return ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	s.domains[d.ID] = *d
	return nil
}

func (s *MemoryStore) DeleteDomain(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[id]; !ok {
		return ErrNotFound
	}
	delete(s.domains, id)
	delete(s.observations, id)
	return nil
}

func (s *MemoryStore) ListDomains(ctx context.Context, userID string) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Domain
	for _, d := range s.domains {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sortDomains(out)
	return out, nil
}

func (s *MemoryStore) AppendObservation(ctx context.Context, obs *domain.CertificateObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[obs.DomainID]; !ok {
		return ErrNotFound
	}
	obs.ID = primitive.NewObjectID()
	s.observations[obs.DomainID] = append(s.observations[obs.DomainID], *obs)
	return nil
}

func (s *MemoryStore) LatestObservation(ctx context.Context, domainID primitive.ObjectID) (*domain.CertificateObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest(domainID), nil
}

func (s *MemoryStore) ListObservations(ctx context.Context, domainID primitive.ObjectID, limit int) ([]domain.CertificateObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.domains[domainID]; !ok {
		return nil, ErrNotFound
	}

	history := s.observations[domainID]
	limit = historyLimit(limit)

	out := make([]domain.CertificateObservation, 0, min(limit, len(history)))
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (s *MemoryStore) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, history := range s.observations {
		if len(history) == 0 {
			continue
		}
		newest := history[len(history)-1]

		kept := history[:0]
		for _, o := range history[:len(history)-1] {
			if o.CheckedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, o)
		}
		s.observations[id] = append(kept, newest)
	}
	return removed, nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(func(d domain.Domain) bool { return d.UserID == userID }), nil
}

func (s *MemoryStore) ActiveSnapshot(ctx context.Context) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(func(d domain.Domain) bool { return d.IsActive }), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// caller holds the lock
func (s *MemoryStore) latest(domainID primitive.ObjectID) *domain.CertificateObservation {
	history := s.observations[domainID]
	if len(history) == 0 {
		return nil
	}
	o := history[len(history)-1]
	return &o
}

func (s *MemoryStore) snapshot(keep func(domain.Domain) bool) []domain.Snapshot {
	var domains []domain.Domain
	for _, d := range s.domains {
		if keep(d) {
			domains = append(domains, d)
		}
	}
	sortDomains(domains)

	out := make([]domain.Snapshot, 0, len(domains))
	for _, d := range domains {
		out = append(out, domain.Snapshot{Domain: d, Latest: s.latest(d.ID)})
	}
	return out
}

func sortDomains(ds []domain.Domain) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
}
