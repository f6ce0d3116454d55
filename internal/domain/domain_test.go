package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"  Example.COM  ", "example.com"},
		{"https://www.example.com/path?q=1#x", "www.example.com"},
		{"http://user:pw@api.example.co.uk:8443", "api.example.co.uk"},
		{"example.com.", "example.com"},
		{"shop.example.com:443", "shop.example.com"},
		{"xn--bcher-kva.example", "xn--bcher-kva.example"},
		{"HTTPS://Example.com:8443", "example.com"},
		{"http://example.com", "example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHostname(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHostname_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"localhost",
		"exa mple.com",
		"-bad.example.com",
		"bad-.example.com",
		"example.c",
		"example.123",
		"a..example.com",
		"under_score.example.com",
		"https://",
		"example.com:abc",
		"example.com:",
		"example.com:0",
		"example.com:65536",
		"example.com:+80",
		"ftp://example.com",
		"ldap://example.com:389",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := NormalizeHostname(in)
			assert.ErrorIs(t, err, ErrInvalidHostname)
		})
	}
}

func TestValidHostname_LabelLength(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	assert.True(t, ValidHostname(string(long[:63])+".com"))
	assert.False(t, ValidHostname(string(long)+".com"))
}

func TestNormalizeThreshold(t *testing.T) {
	got, err := NormalizeThreshold(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholdDays, got)

	for _, v := range []int{1, 7, 30, 365} {
		got, err := NormalizeThreshold(&v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	for _, v := range []int{0, -1, 366, 1000} {
		_, err := NormalizeThreshold(&v)
		assert.ErrorIs(t, err, ErrInvalidThreshold, "value %d", v)
	}
}

func TestAggregate(t *testing.T) {
	snap := func(active bool, obs *CertificateObservation) DomainStatus {
		return NewDomainStatus(Snapshot{
			Domain: Domain{Name: "example.com", IsActive: active, AlertThresholdDays: 30},
			Latest: obs,
		}, now)
	}

	statuses := []DomainStatus{
		snap(true, nil), // unknown
		snap(true, expiringIn(days(90))),
		snap(true, expiringIn(days(20))),
		snap(false, expiringIn(days(3))),
		snap(true, expiringIn(-days(1))),
		snap(true, &CertificateObservation{CheckedAt: now, ErrorMessage: "no such host"}),
	}

	assert.Equal(t, Statistics{
		TotalDomains:        6,
		ActiveDomains:       5,
		DomainsWithErrors:   1,
		DomainsExpiringSoon: 2,
		DomainsExpired:      1,
	}, Aggregate(statuses))
}

func TestAggregate_UnknownOnlyCountsInTotal(t *testing.T) {
	st := NewDomainStatus(Snapshot{Domain: Domain{IsActive: false, AlertThresholdDays: 30}}, now)
	assert.Equal(t, Statistics{TotalDomains: 1}, Aggregate([]DomainStatus{st}))
}

func TestNewDomainStatus(t *testing.T) {
	checked := now.Add(-time.Hour)
	obs := expiringIn(days(20))
	obs.CheckedAt = checked
	obs.Issuer = "R3"

	st := NewDomainStatus(Snapshot{Domain: Domain{Name: "example.com", AlertThresholdDays: 30}, Latest: obs}, now)
	assert.Equal(t, StatusWarning, st.Status)
	assert.Equal(t, 20, *st.DaysLeft)
	assert.Equal(t, checked, *st.LastChecked)
	assert.Equal(t, st.Status, st.SSLStatus.Status)
	assert.Equal(t, st.DaysLeft, st.SSLStatus.ExpiresIn)
	assert.Equal(t, "R3", st.SSLStatus.Issuer)

	never := NewDomainStatus(Snapshot{Domain: Domain{Name: "example.org", AlertThresholdDays: 30}}, now)
	assert.Equal(t, StatusUnknown, never.Status)
	assert.Nil(t, never.DaysLeft)
	assert.Nil(t, never.LastChecked)
	assert.Nil(t, never.SSLStatus.CheckedAt)
}
