package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"ssl-monitor/internal/repository"
	"ssl-monitor/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxHistoryLimit = 500

// TestSender sends a test message through the configured channels.
type TestSender interface {
	SendTest(ctx context.Context, userID string) error
}

type DomainHandler struct {
	Domains   *service.DomainService
	Scheduler *service.CheckScheduler
	Notifier  TestSender
}

func NewDomainHandler(d *service.DomainService, s *service.CheckScheduler, n TestSender) *DomainHandler {
	return &DomainHandler{Domains: d, Scheduler: s, Notifier: n}
}

// GetDomains lists the caller's domains with their current classification.
// @Router /api/v1/domains [get]
func (h *DomainHandler) GetDomains(c *gin.Context) {
	list, err := h.Domains.List(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  list,
		"total": len(list),
	})
}

// AddDomain registers a hostname. It is checked by the next scheduler tick.
// @Router /api/v1/domains [post]
func (h *DomainHandler) AddDomain(c *gin.Context) {
	// 1. Bind JSON
	var req service.CreateDomainInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badInput(c, err)
		return
	}

	// 2. Normalize, validate, store
	st, err := h.Domains.Create(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": st})
}

// @Router /api/v1/domains/{id} [get]
func (h *DomainHandler) GetDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	st, err := h.Domains.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// UpdateSettings changes the alert threshold and/or the active flag.
// @Router /api/v1/domains/{id} [patch]
func (h *DomainHandler) UpdateSettings(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	// absent fields keep their value
	var req service.UpdateDomainInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badInput(c, err)
		return
	}

	st, err := h.Domains.Update(c.Request.Context(), userID(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// @Router /api/v1/domains/{id} [delete]
func (h *DomainHandler) DeleteDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	if err := h.Domains.Delete(c.Request.Context(), userID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "domain deleted"})
}

// CheckDomain runs a check right away and returns its outcome.
// @Router /api/v1/domains/{id}/check [post]
func (h *DomainHandler) CheckDomain(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	// 409 while a check runs, 429 during the cooldown (see respondError)
	outcome, err := h.Scheduler.CheckNow(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome})
}

// CheckAll checks every domain of the caller. Per-domain failures are reported in the
// results, the request itself succeeds.
// @Router /api/v1/domains/check-all [post]
func (h *DomainHandler) CheckAll(c *gin.Context) {
	res, err := h.Scheduler.CheckAll(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// @Router /api/v1/domains/{id}/ssl-status [get]
func (h *DomainHandler) GetSSLStatus(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	st, err := h.Domains.SSLStatus(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st})
}

// GetHistory returns stored observations, newest first.
// @Param limit query int false "max entries (default 50)"
// @Router /api/v1/domains/{id}/checks [get]
func (h *DomainHandler) GetHistory(c *gin.Context) {
	id, ok := domainID(c)
	if !ok {
		return
	}

	// 1. Limit (optional)
	limit := repository.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			badInput(c, fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	// 2. Newest first
	history, err := h.Domains.History(c.Request.Context(), userID(c), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  history,
		"total": len(history),
	})
}

// @Router /api/v1/statistics [get]
func (h *DomainHandler) GetStatistics(c *gin.Context) {
	stats, err := h.Domains.Statistics(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// TestNotification sends a test message on every enabled channel.
// @Router /api/v1/notifications/test [post]
func (h *DomainHandler) TestNotification(c *gin.Context) {
	if h.Notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": service.ErrNoChannels.Error()})
		return
	}
	if err := h.Notifier.SendTest(c.Request.Context(), userID(c)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test notification queued"})
}

func domainID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		// unknown ids look the same whether malformed or missing
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})
		return primitive.NilObjectID, false
	}
	return id, true
}
