package service

import (
	"context"
	"testing"
	"time"

	"ssl-monitor/internal/domain"
	"ssl-monitor/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type cancelRecorder struct{ ids []primitive.ObjectID }

func (c *cancelRecorder) CancelDomain(id primitive.ObjectID) { c.ids = append(c.ids, id) }

func newDomainService(t *testing.T) (*DomainService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := NewDomainService(store, nil, nil)
	svc.Now = func() time.Time { return testNow }
	return svc, store
}

func TestDomainService_Create(t *testing.T) {
	svc, _ := newDomainService(t)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "https://WWW.Example.co.uk:443/login"})
	require.NoError(t, err)
	assert.Equal(t, "www.example.co.uk", st.Name)
	assert.Equal(t, "example.co.uk", st.Zone)
	assert.Equal(t, domain.DefaultThresholdDays, st.AlertThresholdDays)
	assert.True(t, st.IsActive)
	assert.Equal(t, domain.StatusUnknown, st.Status)
	assert.Nil(t, st.DaysLeft)
	assert.Nil(t, st.LastChecked)

	_, err = svc.Create(ctx, "alice", CreateDomainInput{Name: "www.example.co.uk"})
	assert.ErrorIs(t, err, repository.ErrDuplicateDomain)

	// another user may watch the same host
	_, err = svc.Create(ctx, "bob", CreateDomainInput{Name: "www.example.co.uk"})
	assert.NoError(t, err)
}

func TestDomainService_CreateValidation(t *testing.T) {
	svc, _ := newDomainService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "localhost"})
	assert.ErrorIs(t, err, domain.ErrInvalidHostname)

	zero := 0
	_, err = svc.Create(ctx, "alice", CreateDomainInput{Name: "example.com", AlertThresholdDays: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	days, paused := 14, false
	st, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "example.com", AlertThresholdDays: &days, IsActive: &paused})
	require.NoError(t, err)
	assert.Equal(t, 14, st.AlertThresholdDays)
	assert.False(t, st.IsActive)
}

func TestDomainService_ReadModelsAndOwnership(t *testing.T) {
	svc, store := newDomainService(t)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "example.com"})
	require.NoError(t, err)
	id := st.ID

	_, err = svc.SSLStatus(ctx, "alice", id)
	assert.ErrorIs(t, err, ErrNotChecked)

	obs := certExpiringIn(20 * 24 * time.Hour)
	obs.DomainID = id
	obs.CheckedAt = testNow.Add(-time.Hour)
	obs.Subject = "example.com"
	require.NoError(t, store.AppendObservation(ctx, &obs))

	got, err := svc.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWarning, got.Status)
	assert.Equal(t, 20, *got.DaysLeft)
	assert.Equal(t, domain.StatusWarning, got.SSLStatus.Status)
	assert.Equal(t, "Test CA", got.SSLStatus.Issuer)

	ssl, err := svc.SSLStatus(ctx, "alice", id)
	require.NoError(t, err)
	assert.True(t, ssl.IsValid)
	assert.Equal(t, 20, *ssl.ExpiresIn)

	// raising the threshold reclassifies without a new check
	lower := 10
	got, err = svc.Update(ctx, "alice", id, UpdateDomainInput{AlertThresholdDays: &lower})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHealthy, got.Status)

	history, err := svc.History(ctx, "alice", id, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	stats, err := svc.Statistics(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalDomains)
	assert.Equal(t, 1, stats.ActiveDomains)

	// someone else's domain does not exist for them
	_, err = svc.Get(ctx, "bob", id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.History(ctx, "bob", id, 10)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "bob", id), repository.ErrNotFound)

	list, err = svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDomainService_UpdateRejectsBadThreshold(t *testing.T) {
	svc, _ := newDomainService(t)
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "example.com"})
	require.NoError(t, err)

	tooBig := 366
	_, err = svc.Update(ctx, "alice", st.ID, UpdateDomainInput{AlertThresholdDays: &tooBig})
	assert.ErrorIs(t, err, domain.ErrInvalidThreshold)

	got, err := svc.Get(ctx, "alice", st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultThresholdDays, got.AlertThresholdDays)
}

func TestDomainService_DeleteCascades(t *testing.T) {
	svc, store := newDomainService(t)
	canceller := &cancelRecorder{}
	svc.Notifier = canceller
	ctx := context.Background()

	st, err := svc.Create(ctx, "alice", CreateDomainInput{Name: "example.com"})
	require.NoError(t, err)

	obs := certExpiringIn(50 * 24 * time.Hour)
	obs.DomainID = st.ID
	obs.CheckedAt = testNow
	require.NoError(t, store.AppendObservation(ctx, &obs))

	require.NoError(t, svc.Delete(ctx, "alice", st.ID))
	assert.Equal(t, []primitive.ObjectID{st.ID}, canceller.ids)

	_, err = svc.Get(ctx, "alice", st.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	latest, err := store.LatestObservation(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	assert.ErrorIs(t, svc.Delete(ctx, "alice", st.ID), repository.ErrNotFound)
}
