package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/mwren/tillpoint/internal/logging"
)

// HealthChecker is the slice of the backend client the probe needs.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Probe periodically checks backend reachability and feeds the result into
// the monitor. It stands in for platform connectivity events: an HTTP probe
// against the backend's health endpoint is the one signal that works the
// same on every device the register daemon runs on.
type Probe struct {
	monitor  *Monitor
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewProbe creates a Probe driving the given monitor.
func NewProbe(monitor *Monitor, checker HealthChecker, interval, timeout time.Duration) *Probe {
	return &Probe{
		monitor:  monitor,
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start begins probing in the background. The first probe fires immediately
// so the monitor starts from an observed state, not an assumed one.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)

	logging.Debug("connectivity probe started", map[string]interface{}{
		"interval": p.interval.String(),
	})
}

// Stop halts probing and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

func (p *Probe) loop(ctx context.Context) {
	defer p.wg.Done()

	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(probeCtx)
	p.monitor.SetOnline(err == nil)
}
