package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"booking-inbox/client/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Critical    bool           `json:"critical"`
	Description string         `json:"description,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
}

// Result is what a check reports
type Result struct {
	Status      Status
	Description string
	Details     map[string]any
	Err         error
}

// Check represents a health check function
type Check func(ctx context.Context) Result

type registration struct {
	check    Check
	critical bool
}

// Checker manages health checks for the client
type Checker struct {
	checks      map[string]registration
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	checker := &Checker{
		checks:      make(map[string]registration),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		log:         log,
	}

	checker.RegisterCheck("self", false, func(context.Context) Result {
		return Result{Status: StatusUp, Description: "Health checker is running"}
	})

	return checker
}

// RegisterCheck registers a new health check. The client counts as unhealthy
// while a critical component is down.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	results := make(map[string]Result, len(checks))
	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		results[name] = r.check(checkCtx)
		cancel()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	for name, res := range results {
		component, ok := c.components[name]
		if !ok {
			continue
		}
		component.Status = res.Status
		component.Description = res.Description
		component.Details = res.Details
		component.LastChecked = now

		if res.Err != nil {
			component.Error = res.Err.Error()
			c.log.Error("Health check failed",
				"component", name,
				"status", string(res.Status),
				"error", res.Err.Error(),
			)
		} else {
			component.Error = ""
			c.log.Debug("Health check completed",
				"component", name,
				"status", string(res.Status),
			)
		}
	}
}

// Start begins periodic health checks until ctx ends
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns the current health status
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up or degraded
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}

	return true
}

// Overall folds the component statuses into one
func (c *Checker) Overall() Status {
	if !c.IsSystemHealthy() {
		return StatusDown
	}
	for _, component := range c.GetStatus() {
		if component.Status != StatusUp {
			return StatusDegraded
		}
	}
	return StatusUp
}

// Handler returns the detailed health report
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		code := http.StatusOK
		if !c.IsSystemHealthy() {
			code = http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     c.Overall(),
			"timestamp":  time.Now(),
			"components": c.GetStatus(),
		})
	}
}

// RegisterPingCheck registers a check that is up when ping succeeds
func (c *Checker) RegisterPingCheck(name string, critical bool, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, critical, func(ctx context.Context) Result {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return Result{Status: StatusDown, Description: fmt.Sprintf("%s unreachable", name), Err: err}
		}
		return Result{Status: StatusUp, Description: fmt.Sprintf("%s is responding (latency: %s)", name, time.Since(start))}
	})
}
