package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Duration    string       `json:"duration"`
}

type HealthResponse struct {
	Status  HealthStatus  `json:"status"`
	Service string        `json:"service"`
	Checks  []HealthCheck `json:"checks"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

type HealthServer struct {
	port        string
	serviceName string
	version     string
	startTime   time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	extra    map[string]http.Handler
	server   *http.Server
	stopped  bool
}

func NewHealthServer(port, serviceName, version string) *HealthServer {
	return &HealthServer{
		port:        port,
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		checkers:    make(map[string]HealthChecker),
		extra:       make(map[string]http.Handler),
	}
}

func (hs *HealthServer) Port() string {
	return hs.port
}

func (hs *HealthServer) AddChecker(name string, checker HealthChecker) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checkers[name] = checker
}

// Handle mounts an additional endpoint. It must be called before Start or
// Handler.
func (hs *HealthServer) Handle(pattern string, h http.Handler) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.extra[pattern] = h
}

// Handler returns the mux serving every endpoint of the health server.
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	hs.mu.RLock()
	for pattern, h := range hs.extra {
		mux.Handle(pattern, h)
	}
	hs.mu.RUnlock()
	return mux
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a clean
// shutdown.
func (hs *HealthServer) Start(ctx context.Context) error {
	handler := hs.Handler()

	hs.mu.Lock()
	if hs.stopped {
		hs.mu.Unlock()
		return http.ErrServerClosed
	}
	server := &http.Server{
		Addr:              ":" + hs.port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	hs.server = server
	hs.mu.Unlock()

	return server.ListenAndServe()
}

func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	hs.stopped = true
	server := hs.server
	hs.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (hs *HealthServer) runChecks(ctx context.Context) HealthResponse {
	hs.mu.RLock()
	names := make([]string, 0, len(hs.checkers))
	for name := range hs.checkers {
		names = append(names, name)
	}
	checkers := make([]HealthChecker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checkers = append(checkers, hs.checkers[name])
	}
	hs.mu.RUnlock()

	response := HealthResponse{
		Status:  HealthStatusHealthy,
		Service: hs.serviceName,
		Version: hs.version,
		Uptime:  time.Since(hs.startTime).String(),
		Checks:  make([]HealthCheck, 0, len(checkers)),
	}
	for _, checker := range checkers {
		check := checker.Check(ctx)
		response.Checks = append(response.Checks, check)
		if check.Status != HealthStatusHealthy {
			response.Status = HealthStatusUnhealthy
		}
	}
	return response
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := hs.runChecks(r.Context())

	statusCode := http.StatusOK
	if response.Status != HealthStatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// Ready is the same as health: the hub has no warm-up phase.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	hs.healthHandler(w, r)
}

type BasicHealthChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

func NewBasicHealthChecker(name string, checkFn func(ctx context.Context) error) *BasicHealthChecker {
	return &BasicHealthChecker{
		name:    name,
		checkFn: checkFn,
	}
}

func (bhc *BasicHealthChecker) Check(ctx context.Context) HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        bhc.name,
		LastChecked: start,
	}

	if err := bhc.checkFn(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start).String()
	return check
}
