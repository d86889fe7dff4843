package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/squares/pkg/log"
	"github.com/rs/zerolog"
)

// Reporter receives the status of a dependency after every probe
type Reporter func(component string, healthy bool, message string)

type probe struct {
	name    string
	checker Checker
	config  Config
	status  *Status
}

// Monitor probes registered dependencies on their own intervals and
// forwards each resulting status to a Reporter
type Monitor struct {
	mu       sync.Mutex
	probes   map[string]*probe
	reporter Reporter
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewMonitor creates a monitor reporting to reporter
func NewMonitor(reporter Reporter) *Monitor {
	return &Monitor{
		probes:   make(map[string]*probe),
		reporter: reporter,
		logger:   log.WithComponent("health"),
	}
}

// Register adds a dependency. Registering after Start has no effect until
// the next Start.
func (m *Monitor) Register(name string, checker Checker, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = &probe{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
	}
}

// Start launches one probe loop per registered dependency
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = cancel
	for _, p := range m.probes {
		m.wg.Add(1)
		go m.loop(ctx, p)
	}
}

// Stop cancels every probe loop and waits for them to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Status returns a copy of a dependency's current status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.probes[name]
	if !ok {
		return Status{}, false
	}
	return *p.status, true
}

func (m *Monitor) loop(ctx context.Context, p *probe) {
	defer m.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	m.run(ctx, p)
	for {
		select {
		case <-ticker.C:
			m.run(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce probes every dependency a single time
func (m *Monitor) RunOnce(ctx context.Context) {
	m.mu.Lock()
	probes := make([]*probe, 0, len(m.probes))
	for _, p := range m.probes {
		probes = append(probes, p)
	}
	m.mu.Unlock()

	for _, p := range probes {
		m.run(ctx, p)
	}
}

func (m *Monitor) run(ctx context.Context, p *probe) {
	checkCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	result := p.checker.Check(checkCtx)

	m.mu.Lock()
	wasHealthy := p.status.Healthy
	p.status.Update(result, p.config)
	healthy := p.status.Healthy
	m.mu.Unlock()

	if wasHealthy != healthy {
		m.logger.Warn().
			Str("dependency", p.name).
			Bool("healthy", healthy).
			Str("message", result.Message).
			Msg("Dependency health changed")
	}
	if m.reporter != nil {
		m.reporter(p.name, healthy, result.Message)
	}
}
