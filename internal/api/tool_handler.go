package api

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ssl-monitor/internal/domain"
	"ssl-monitor/internal/service"

	"github.com/gin-gonic/gin"
)

type ToolHandler struct {
	Now func() time.Time
}

func NewToolHandler() *ToolHandler {
	return &ToolHandler{Now: time.Now}
}

type CertInfo struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	DNSNames      []string  `json:"dns_names"`
	SerialNumber  string    `json:"serial_number"`
	SignatureAlgo string    `json:"signature_algo"`
	IsCA          bool      `json:"is_ca"`
	ChainLength   int       `json:"chain_length"`

	Status          domain.Classification `json:"status"`
	DaysRemaining   *int                  `json:"days_remaining"`
	IsValid         bool                  `json:"is_valid"`
	ValidationError string                `json:"validation_error,omitempty"`
}

type decodeCertRequest struct {
	CertContent        string `json:"cert_content" binding:"required"`
	Hostname           string `json:"hostname"`
	AlertThresholdDays *int   `json:"alert_threshold_days"`
}

// DecodeCertificate parses a pasted PEM chain (leaf first) and classifies the leaf the same
// way a probe result would be.
// @Router /api/v1/tools/decode-cert [post]
func (h *ToolHandler) DecodeCertificate(c *gin.Context) {
	var req decodeCertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badInput(c, err)
		return
	}

	threshold, err := domain.NormalizeThreshold(req.AlertThresholdDays)
	if err != nil {
		respondError(c, err)
		return
	}

	hostname := ""
	if strings.TrimSpace(req.Hostname) != "" {
		if hostname, err = domain.NormalizeHostname(req.Hostname); err != nil {
			respondError(c, err)
			return
		}
	}

	// 1. PEM blocks
	chain, err := parseChain([]byte(strings.TrimSpace(req.CertContent)))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	// 2. Observe + classify
	now := h.Now()
	obs := service.ObserveCertificate(hostname, chain, nil, now)
	res := domain.Classify(&obs, threshold, now)

	leaf := chain[0]
	info := CertInfo{
		Subject:         obs.Subject,
		Issuer:          obs.Issuer,
		NotBefore:       leaf.NotBefore.UTC(),
		NotAfter:        leaf.NotAfter.UTC(),
		DNSNames:        leaf.DNSNames,
		SerialNumber:    formatSerial(fmt.Sprintf("%X", leaf.SerialNumber)),
		SignatureAlgo:   leaf.SignatureAlgorithm.String(),
		IsCA:            leaf.IsCA,
		ChainLength:     len(chain),
		Status:          res.Status,
		DaysRemaining:   res.ExpiresInDays,
		IsValid:         obs.IsValid,
		ValidationError: obs.ValidationError,
	}

	c.JSON(http.StatusOK, gin.H{"data": info})
}

func parseChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("malformed certificate: %w", err)
		}
		chain = append(chain, cert)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("no PEM certificate found (expected -----BEGIN CERTIFICATE-----)")
	}
	return chain, nil
}

// AA:BB:CC...
func formatSerial(s string) string {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%2 == 0 {
			b.WriteRune(':')
		}
		b.WriteRune(r)
	}
	return b.String()
}
