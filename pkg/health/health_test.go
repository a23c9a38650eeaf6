package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"booking-inbox/client/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalComponentDecidesHealth(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	failing := true
	c.RegisterPingCheck("api", true, func(context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	})
	c.RegisterCheck("cache", false, func(context.Context) Result {
		return Result{Status: StatusDegraded, Description: "warming up"}
	})

	c.RunChecks(context.Background())
	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDown, c.Overall())
	api := c.GetStatus()["api"]
	require.NotNil(t, api)
	assert.Equal(t, "connection refused", api.Error)
	assert.True(t, api.Critical)

	failing = false
	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, c.Overall())
	assert.Empty(t, c.GetStatus()["api"].Error)
}

func TestNonCriticalDownStaysHealthy(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterPingCheck("session-store", false, func(context.Context) error {
		return errors.New("no redis")
	})
	c.RunChecks(context.Background())

	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, c.Overall())
}

func TestUncheckedComponentIsDown(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterCheck("api", true, func(context.Context) Result { return Result{Status: StatusUp} })
	assert.False(t, c.IsSystemHealthy())
}

func TestChecksHonourTimeout(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	c.timeout = 10 * time.Millisecond
	c.RegisterPingCheck("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	c.RunChecks(context.Background())
	assert.Equal(t, StatusDown, c.GetStatus()["slow"].Status)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Discard(), time.Minute)
	healthy := false
	c.RegisterCheck("api", true, func(context.Context) Result {
		if healthy {
			return Result{Status: StatusUp}
		}
		return Result{Status: StatusDown, Err: errors.New("down")}
	})

	r := gin.New()
	r.GET("/health", c.Handler())

	c.RunChecks(context.Background())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	healthy = true
	c.RunChecks(context.Background())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     Status                `json:"status"`
		Components map[string]*Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusUp, body.Status)
	assert.Contains(t, body.Components, "self")
	assert.Contains(t, body.Components, "api")
}
