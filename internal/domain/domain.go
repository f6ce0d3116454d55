package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrInvalidHostname = errors.New("invalid hostname")

// Domain is a hostname registered by a user for certificate monitoring.
type Domain struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"user_id" json:"user_id"`
	Name   string             `bson:"name" json:"name"`
	// Registrable domain (eTLD+1), used for grouping in the dashboards.
	Zone string `bson:"zone" json:"zone"`

	IsActive           bool      `bson:"is_active" json:"is_active"`
	AlertThresholdDays int       `bson:"alert_threshold_days" json:"alert_threshold_days"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// NormalizeHostname turns user input such as "https://Example.COM:443/path" into
// "example.com" and validates the result.
func NormalizeHostname(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidHostname)
	}

	// 1. Scheme: only web URLs are accepted
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidHostname, raw)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidHostname, u.Scheme)
		}
		host = u.Host
	}

	// 2. Strip path / query / fragment, then userinfo
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}

	// 3. Port must be 1-65535 when present
	if i := strings.LastIndex(host, ":"); i >= 0 {
		if port, err := strconv.ParseUint(host[i+1:], 10, 16); err != nil || port == 0 {
			return "", fmt.Errorf("%w: bad port in %q", ErrInvalidHostname, raw)
		}
		host = host[:i]
	}

	// 4. Canonical form

	host = strings.TrimSuffix(strings.ToLower(host), ".")

	if !ValidHostname(host) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, raw)
	}
	return host, nil
}

// ValidHostname reports whether host is a lowercase DNS name with at least two labels
// and an alphabetic TLD of two or more letters.
func ValidHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) < 1 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
