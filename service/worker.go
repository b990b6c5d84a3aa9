package service

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/modular"
)

// Runner is a long-running loop that returns when its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// WorkerModule runs a Runner in the background between Start and Stop.
type WorkerModule struct {
	name   string
	runner Runner
	logger modular.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewWorkerModule wraps runner as a lifecycle module.
func NewWorkerModule(name string, runner Runner) *WorkerModule {
	return &WorkerModule{name: name, runner: runner}
}

func (m *WorkerModule) Name() string { return m.name }

func (m *WorkerModule) Init(app modular.Application) error {
	m.logger = app.Logger()
	return nil
}

// Start launches the runner. Its context is independent of ctx and ends
// in Stop.
func (m *WorkerModule) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		if err := m.runner.Run(runCtx); err != nil {
			m.logger.Error("Worker exited", "name", m.name, "error", err)
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
		}
	}()
	return nil
}

// Stop cancels the runner and waits for it, up to ctx's deadline.
func (m *WorkerModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthStatus reports unhealthy once the runner has stopped by itself.
func (m *WorkerModule) HealthStatus() HealthCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		return HealthCheckResult{Status: StatusDegraded, Message: "not started"}
	}
	select {
	case <-m.done:
		msg := "stopped"
		if m.lastErr != nil {
			msg = m.lastErr.Error()
		}
		return HealthCheckResult{Status: StatusUnhealthy, Message: msg}
	default:
		return HealthCheckResult{Status: StatusHealthy}
	}
}

func (m *WorkerModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: m.name, Description: "Background worker", Instance: m},
	}
}

func (m *WorkerModule) RequiresServices() []modular.ServiceDependency {
	return nil
}
