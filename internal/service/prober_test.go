package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tlsServer(t *testing.T) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return srv, port
}

func TestTLSProber_TrustedCertificate(t *testing.T) {
	srv, port := tlsServer(t)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	p := NewTLSProber()
	p.Port = port
	p.RootCAs = roots

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	obs, err := p.Probe(ctx, "127.0.0.1")
	require.NoError(t, err)
	require.NoError(t, obs.Validate())

	assert.True(t, obs.IsValid, obs.ValidationError)
	require.NotNil(t, obs.NotValidAfter)
	assert.True(t, obs.NotValidAfter.Equal(srv.Certificate().NotAfter))
	assert.NotEmpty(t, obs.TLSVersion)
	assert.Empty(t, obs.ErrorMessage)
}

func TestTLSProber_UntrustedCertificateStillHasDates(t *testing.T) {
	_, port := tlsServer(t)

	// an empty pool trusts nothing
	p := NewTLSProber()
	p.Port = port
	p.RootCAs = x509.NewCertPool()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	obs, err := p.Probe(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.False(t, obs.IsValid)
	assert.NotEmpty(t, obs.ValidationError)
	assert.NotNil(t, obs.NotValidAfter)
	assert.NoError(t, obs.Validate())
}

func TestTLSProber_HostnameMismatch(t *testing.T) {
	srv, _ := tlsServer(t)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	obs := ObserveCertificate("not-in-the-cert.test", []*x509.Certificate{srv.Certificate()}, roots, time.Now())
	assert.False(t, obs.IsValid)
	assert.Contains(t, obs.ValidationError, "not-in-the-cert.test")

	// no hostname: only the chain is checked
	obs = ObserveCertificate("", []*x509.Certificate{srv.Certificate()}, roots, time.Now())
	assert.True(t, obs.IsValid, obs.ValidationError)
}

func TestTLSProber_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	p := NewTLSProber()
	p.Port = port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = p.Probe(ctx, "127.0.0.1")
	require.Error(t, err)

	var pe *ProbeError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
	assert.Equal(t, "connection refused", pe.Message)
}

func TestTLSProber_PlainTCPServer(t *testing.T) {
	// accepts and hangs up without speaking TLS
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewTLSProber()
	p.Port = l.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = p.Probe(ctx, "127.0.0.1")
	var pe *ProbeError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Transient)
	assert.Equal(t, "connection reset by peer", pe.Message)
}

func TestClassifyProbeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		message   string
	}{
		{"no such host", &net.DNSError{Err: "no such host", Name: "x.test", IsNotFound: true}, false, "DNS resolution failed (no such host)"},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "x.test", IsTimeout: true}, true, "DNS resolution failed (temporary)"},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", Name: "x.test", IsTemporary: true}, true, "DNS resolution failed (temporary)"},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), true, "connection timed out"},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, false, "connection refused"},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true, "connection reset by peer"},
		{"eof", io.EOF, true, "connection reset by peer"},
		{"unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, false, "host unreachable"},
		{"tls alert", fmt.Errorf("remote error: %w", tls.AlertError(40)), false, "TLS handshake failed"},
		{"unknown", errors.New("something odd"), false, "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := classifyProbeError(tt.err)
			assert.Equal(t, tt.transient, pe.Transient)
			assert.Equal(t, tt.message, pe.Message)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}
