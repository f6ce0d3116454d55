package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"ssl-monitor/internal/domain"
)

// Prober retrieves one certificate observation for a hostname. A returned error means no
// certificate was obtained; it should be a *ProbeError so the caller can tell whether a
// retry makes sense.
type Prober interface {
	Probe(ctx context.Context, hostname string) (domain.CertificateObservation, error)
}

// ProbeError is a probe failure tagged transient (worth retrying) or terminal.
type ProbeError struct {
	Transient bool
	// Message is the text stored as the observation's error_message.
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// TLSProber resolves the host, completes a TLS handshake without trusting anything, then
// verifies the presented chain itself so an untrusted or mismatched certificate still
// yields its dates.
type TLSProber struct {
	Port     int
	Resolver *net.Resolver
	// nil means the system roots
	RootCAs *x509.CertPool
	Now     func() time.Time
}

func NewTLSProber() *TLSProber {
	return &TLSProber{
		Port:     443,
		Resolver: net.DefaultResolver,
		Now:      time.Now,
	}
}

var tlsVersions = map[uint16]string{
	tls.VersionTLS10: "TLS 1.0",
	tls.VersionTLS11: "TLS 1.1",
	tls.VersionTLS12: "TLS 1.2",
	tls.VersionTLS13: "TLS 1.3",
}

func (p *TLSProber) Probe(ctx context.Context, hostname string) (domain.CertificateObservation, error) {
	// 1. DNS
	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if _, err := resolver.LookupHost(ctx, hostname); err != nil {
		return domain.CertificateObservation{}, classifyProbeError(err)
	}

	// 2. TCP + TLS handshake
	port := p.Port
	if port == 0 {
		port = 443
	}
	address := net.JoinHostPort(hostname, strconv.Itoa(port))

	dialer := &net.Dialer{KeepAlive: -1} // one-shot connection
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return domain.CertificateObservation{}, classifyProbeError(err)
	}
	defer rawConn.Close()

	// the handshake reads honor ctx only through the conn deadline
	if deadline, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	conn := tls.Client(rawConn, &tls.Config{
		InsecureSkipVerify: true, // verified below, against RootCAs
		ServerName:         hostname, // SNI
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		return domain.CertificateObservation{}, classifyProbeError(err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return domain.CertificateObservation{}, &ProbeError{Message: "server presented no certificate"}
	}

	// 3. Verification happens on our side
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	obs := ObserveCertificate(hostname, state.PeerCertificates, p.RootCAs, now())
	obs.TLSVersion = tlsVersions[state.Version]
	return obs, nil
}

// ObserveCertificate turns a presented chain (leaf first) into an observation. An empty
// hostname skips the name check.
func ObserveCertificate(hostname string, chain []*x509.Certificate, roots *x509.CertPool, at time.Time) domain.CertificateObservation {
	// 1. Leaf + whatever the server sent as intermediates
	leaf := chain[0]

	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	// 2. Dates are recorded even when verification fails
	notBefore := leaf.NotBefore.UTC()
	notAfter := leaf.NotAfter.UTC()

	obs := domain.CertificateObservation{
		CheckedAt:      at.UTC(),
		NotValidBefore: &notBefore,
		NotValidAfter:  &notAfter,
		Issuer:         certName(leaf.Issuer.CommonName, leaf.Issuer.Organization),
		Subject:        certName(leaf.Subject.CommonName, leaf.DNSNames),
		IsValid:        true,
	}

	// 3. Chain, name and validity window at the check time
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       hostname,
		Intermediates: intermediates,
		Roots:         roots,
		CurrentTime:   at,
	})
	if err != nil {
		obs.IsValid = false
		obs.ValidationError = err.Error()
	}
	return obs
}

func certName(cn string, fallback []string) string {
	if cn != "" {
		return cn
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

// classifyProbeError maps network failures to the user-facing text and a retry decision.
// Timeouts, resets and temporary DNS trouble are transient; a missing host, a refused
// connection or a failed handshake will not fix themselves within a backoff window.
func classifyProbeError(err error) *ProbeError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return &ProbeError{Message: "DNS resolution failed (no such host)", Err: err}
		case dnsErr.IsTimeout || dnsErr.IsTemporary:
			return &ProbeError{Transient: true, Message: "DNS resolution failed (temporary)", Err: err}
		default:
			return &ProbeError{Message: "DNS resolution failed", Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProbeError{Transient: true, Message: "connection timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProbeError{Transient: true, Message: "connection timed out", Err: err}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ProbeError{Message: "connection refused", Err: err}
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &ProbeError{Transient: true, Message: "connection reset by peer", Err: err}
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return &ProbeError{Message: "host unreachable", Err: err}
	}

	// alert from the server, or a non-TLS reply
	var alert tls.AlertError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &alert) || errors.As(err, &recordErr) {
		return &ProbeError{Message: "TLS handshake failed", Err: err}
	}

	return &ProbeError{Message: err.Error(), Err: err}
}
