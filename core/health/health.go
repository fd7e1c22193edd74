// Package health reports whether the pickup service can serve traffic.
//
// Checks run concurrently under a shared timeout. The service is ready when
// no check is unhealthy; a missing pickup secret, an unreachable database or
// an unreachable replay store each make it unhealthy.
//
//	manager := health.NewManager("1.0.0", health.WithTimeout(2*time.Second))
//	manager.Register(health.NewPingChecker("database", repo.Ping))
//	manager.RegisterFunc("pickup_secret", func(ctx context.Context) *health.Check { ... })
//
//	e.GET("/healthz", manager.LiveHandler)
//	e.GET("/ready", manager.ReadyHandler)
//	e.GET("/health", manager.FullHandler)
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents the result of a single health check.
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Checker is the interface for health check implementations.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

// CheckFunc is a function adapter for Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) *Check
}

func (c CheckFunc) Name() string                     { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) *Check { return c.Fn(ctx) }

// Manager coordinates health checks.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	version  string
	timeout  time.Duration
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// NewManager creates a new health manager.
func NewManager(version string, opts ...ManagerOption) *Manager {
	m := &Manager{
		version: version,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTimeout sets the check timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// Register adds a health checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RegisterFunc adds a health check function.
func (m *Manager) RegisterFunc(name string, fn func(ctx context.Context) *Check) {
	m.Register(CheckFunc{CheckName: name, Fn: fn})
}

// Check runs all health checks and returns a report.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checkers)),
	}

	var wg sync.WaitGroup
	results := make(chan *Check, len(checkers))

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			start := time.Now()
			check := c.Check(ctx)
			if check == nil {
				check = &Check{
					Name:   c.Name(),
					Status: StatusUnhealthy,
				}
			}
			check.Latency = time.Since(start)
			check.LatencyMs = check.Latency.Milliseconds()
			check.Timestamp = time.Now()
			results <- check
		}(checker)
	}

	wg.Wait()
	close(results)

	for check := range results {
		report.Checks = append(report.Checks, *check)

		switch check.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		}
	}

	return report
}

// IsReady returns true if the service is ready to accept traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Check(ctx).Status != StatusUnhealthy
}

// LiveHandler answers liveness checks.
func (m *Manager) LiveHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler answers readiness checks.
func (m *Manager) ReadyHandler(c echo.Context) error {
	if m.IsReady(c.Request().Context()) {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

// FullHandler returns the full health report.
func (m *Manager) FullHandler(c echo.Context) error {
	report := m.Check(c.Request().Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// PingChecker reports a dependency healthy when its ping succeeds.
type PingChecker struct {
	name   string
	pingFn func(ctx context.Context) error
}

// NewPingChecker creates a checker for a database, Redis or any pingable dependency.
func NewPingChecker(name string, pingFn func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) *Check {
	check := &Check{Name: c.name}

	if err := c.pingFn(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = StatusHealthy
		check.Message = "connected"
	}

	return check
}

// NewErrorChecker reports unhealthy while errFn returns an error. It suits
// static configuration problems such as a missing secret.
func NewErrorChecker(name string, errFn func() error) Checker {
	return CheckFunc{CheckName: name, Fn: func(ctx context.Context) *Check {
		if err := errFn(); err != nil {
			return &Check{Name: name, Status: StatusUnhealthy, Message: err.Error()}
		}
		return &Check{Name: name, Status: StatusHealthy, Message: "ok"}
	}}
}
