package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrInvariantViolation = errors.New("observation must carry exactly one of error_message or not_valid_after")

// CertificateObservation is the immutable result of one probe of one domain.
// A probe either reaches a certificate (NotValidAfter set, possibly invalid) or fails
// before obtaining one (ErrorMessage set).
type CertificateObservation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DomainID  primitive.ObjectID `bson:"domain_id" json:"domain_id"`
	CheckedAt time.Time          `bson:"checked_at" json:"checked_at"`

	IsValid        bool       `bson:"is_valid" json:"is_valid"`
	NotValidBefore *time.Time `bson:"not_valid_before,omitempty" json:"not_valid_before"`
	NotValidAfter  *time.Time `bson:"not_valid_after,omitempty" json:"not_valid_after"`
	Issuer         string     `bson:"issuer,omitempty" json:"issuer,omitempty"`
	Subject        string     `bson:"subject,omitempty" json:"subject,omitempty"`
	TLSVersion     string     `bson:"tls_version,omitempty" json:"tls_version,omitempty"`

	// Why a retrieved certificate did not verify (untrusted chain, hostname mismatch...).
	ValidationError string `bson:"validation_error,omitempty" json:"validation_error,omitempty"`
	// Probe failure before any certificate was obtained (DNS, refused, handshake...).
	ErrorMessage string `bson:"error_message,omitempty" json:"error_message,omitempty"`
}

// Validate checks the error_message / not_valid_after exclusivity.
func (o CertificateObservation) Validate() error {
	hasErr := o.ErrorMessage != ""
	hasExpiry := o.NotValidAfter != nil
	if hasErr == hasExpiry {
		return fmt.Errorf("%w (error_message=%t, not_valid_after=%t)", ErrInvariantViolation, hasErr, hasExpiry)
	}
	return nil
}

// Problem returns the user-facing failure text, if any.
func (o CertificateObservation) Problem() string {
	if o.ErrorMessage != "" {
		return o.ErrorMessage
	}
	return o.ValidationError
}

// FloorDays returns the whole days from now until t, rounded towards negative infinity,
// so a certificate that expired one hour ago is at -1.
func FloorDays(t, now time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}
