package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"ssl-monitor/internal/domain"
	"ssl-monitor/internal/repository"
	"ssl-monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps service and store errors to a status code and a {"error": ...} body.
func respondError(c *gin.Context, err error) {
	var cooldown *service.CooldownError

	switch {
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "retry_after": secs})

	case errors.Is(err, domain.ErrInvalidHostname), errors.Is(err, domain.ErrInvalidThreshold):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrDomainGone):
		c.JSON(http.StatusNotFound, gin.H{"error": "domain not found"})

	case errors.Is(err, service.ErrNotChecked):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, repository.ErrDuplicateDomain), errors.Is(err, service.ErrCheckInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	default:
		logrus.Errorf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badInput(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request: " + err.Error()})
}
