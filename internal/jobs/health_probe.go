package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check is one dependency probed by the health job.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// StatusSetter receives the aggregated serving status.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

type HealthProbe struct {
	service string
	checks  []Check
	setter  StatusSetter
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	results map[string]string
	healthy bool
}

func NewHealthProbe(service string, setter StatusSetter, timeout time.Duration, logger *zap.Logger, checks ...Check) *HealthProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthProbe{
		service: service,
		checks:  checks,
		setter:  setter,
		timeout: timeout,
		logger:  logger,
		results: make(map[string]string),
	}
}

// RunOnce pings every check and publishes the combined status.
func (p *HealthProbe) RunOnce(ctx context.Context) bool {
	results := make(map[string]string, len(p.checks))
	healthy := true
	for _, check := range p.checks {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := check.Ping(checkCtx)
		cancel()
		if err != nil {
			healthy = false
			results[check.Name] = err.Error()
			p.logger.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			continue
		}
		results[check.Name] = "ok"
	}

	p.mu.Lock()
	changed := p.healthy != healthy
	p.results = results
	p.healthy = healthy
	p.mu.Unlock()

	if p.setter != nil {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		p.setter.SetServingStatus(p.service, status)
		p.setter.SetServingStatus("", status)
	}
	if changed {
		p.logger.Info("health status changed", zap.Bool("healthy", healthy))
	}
	return healthy
}

// Start probes once immediately, then on every interval until ctx ends.
func (p *HealthProbe) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()
}

// Snapshot returns the last result per check, sorted by name.
func (p *HealthProbe) Snapshot() (bool, []CheckResult) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CheckResult, 0, len(p.results))
	for name, status := range p.results {
		out = append(out, CheckResult{Name: name, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return p.healthy, out
}

type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}
