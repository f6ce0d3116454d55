package domain

import "time"

// Snapshot pairs a domain with its newest observation (nil if never checked).
type Snapshot struct {
	Domain Domain
	Latest *CertificateObservation
}

// SSLStatus is the nested shape the mobile client reads as `ssl_status`.
type SSLStatus struct {
	Status        Classification `json:"status"`
	ExpiresIn     *int           `json:"expires_in"`
	CheckedAt     *time.Time     `json:"checked_at"`
	IsValid       bool           `json:"is_valid"`
	Issuer        string         `json:"issuer,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	NotValidAfter *time.Time     `json:"not_valid_after"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// DomainStatus is the client read model: the domain record with the classification
// flattened onto it (web clients) and nested under ssl_status (mobile client).
type DomainStatus struct {
	Domain

	Status       Classification `json:"status"`
	DaysLeft     *int           `json:"days_left"`
	LastChecked  *time.Time     `json:"last_checked"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SSLStatus    SSLStatus      `json:"ssl_status"`
}

// NewDomainStatus classifies s at now.
func NewDomainStatus(s Snapshot, now time.Time) DomainStatus {
	res := Classify(s.Latest, s.Domain.AlertThresholdDays, now)

	ds := DomainStatus{
		Domain:   s.Domain,
		Status:   res.Status,
		DaysLeft: res.ExpiresInDays,
		SSLStatus: SSLStatus{
			Status:    res.Status,
			ExpiresIn: res.ExpiresInDays,
		},
	}

	if obs := s.Latest; obs != nil {
		checkedAt := obs.CheckedAt
		ds.LastChecked = &checkedAt
		ds.ErrorMessage = obs.Problem()

		ds.SSLStatus.CheckedAt = &checkedAt
		ds.SSLStatus.IsValid = obs.IsValid
		ds.SSLStatus.Issuer = obs.Issuer
		ds.SSLStatus.Subject = obs.Subject
		ds.SSLStatus.NotValidAfter = obs.NotValidAfter
		ds.SSLStatus.ErrorMessage = obs.Problem()
	}
	return ds
}
