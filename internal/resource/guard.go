// Package resource guards downstream connection admission: a token-
// bucket accept-rate limiter and a CPU-aware backpressure check, adapted
// from the reference stack's ResourceGuard and ConnectionRateLimiter
// (src/resource_guard.go, ws/internal/shared/limits/connection_rate_limiter.go)
// down to the single static-config, single-process case an mdnode needs.
package resource

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/riftline/messagedirector/internal/config"
	"github.com/riftline/messagedirector/internal/metrics"
)

// Guard decides whether a new downstream connection may be accepted,
// combining a hard connection cap, a token-bucket accept rate limit, and
// a periodically sampled CPU-percent safety valve.
type Guard struct {
	cfg    config.ResourceConfig
	logger *zap.Logger
	m      *metrics.Registry

	acceptLimiter *rate.Limiter
	currentConns  int64
	currentCPU    atomic.Value // float64
}

// NewGuard constructs a Guard. Call Run in a goroutine to keep the CPU
// sample fresh; ShouldAccept is safe to call before the first sample
// completes (it reads 0% CPU until then).
func NewGuard(cfg config.ResourceConfig, logger *zap.Logger, m *metrics.Registry) *Guard {
	g := &Guard{
		cfg:           cfg,
		logger:        logger,
		m:             m,
		acceptLimiter: rate.NewLimiter(rate.Limit(cfg.AcceptRatePerSec), cfg.AcceptBurst),
	}
	g.currentCPU.Store(0.0)
	return g
}

// ShouldAccept reports whether a new connection should be admitted, and
// if not, a short human-readable rejection reason for logging.
func (g *Guard) ShouldAccept() (accept bool, reason string) {
	conns := atomic.LoadInt64(&g.currentConns)
	if conns >= int64(g.cfg.MaxConnections) {
		g.reject("at_max_connections")
		return false, "at max connections"
	}

	if !g.acceptLimiter.Allow() {
		g.reject("accept_rate_limited")
		return false, "accept rate limit exceeded"
	}

	if cpuPct := g.currentCPU.Load().(float64); cpuPct > g.cfg.CPURejectThreshold {
		g.reject("cpu_overload")
		return false, "CPU overload"
	}

	return true, ""
}

func (g *Guard) reject(reason string) {
	if g.m != nil {
		g.m.AcceptRejectedTotal.WithLabelValues(reason).Inc()
	}
}

// ConnectionOpened records a newly admitted connection.
func (g *Guard) ConnectionOpened() { atomic.AddInt64(&g.currentConns, 1) }

// ConnectionClosed records a connection's teardown.
func (g *Guard) ConnectionClosed() { atomic.AddInt64(&g.currentConns, -1) }

// Run samples host CPU usage on cfg.CPUSampleInterval until stop is
// closed (or receives a value), or forever if it never is.
func (g *Guard) Run(stop <-chan struct{}) {
	interval := g.cfg.CPUSampleInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sample()
		case <-stop:
			return
		}
	}
}

func (g *Guard) sample() {
	pct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		g.logger.Warn("cpu sample failed", zap.Error(err))
		return
	}
	if len(pct) == 0 {
		return
	}
	g.currentCPU.Store(pct[0])
	g.logger.Debug("resource sample",
		zap.Float64("cpu_percent", pct[0]),
		zap.Int64("connections", atomic.LoadInt64(&g.currentConns)),
		zap.Int("goroutines", runtime.NumGoroutine()),
	)
}
