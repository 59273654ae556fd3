// Package lifecycle owns process shutdown: components register teardown
// hooks (sandbox destroys, log flushes) and the manager runs them on
// normal exit and on termination signals. Hooks must themselves be
// idempotent, since the signal path and the deferred path may both fire.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Manager holds a registered list of shutdown hooks.
type Manager struct {
	mu     sync.Mutex
	nextID int
	hooks  map[int]func()
	log    *zap.Logger
}

// NewManager creates a Manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{hooks: make(map[int]func()), log: log}
}

// OnShutdown registers a hook and returns its deregistration function.
// Components deregister at clean shutdown so a later signal does not rerun
// teardown for resources that are already gone.
func (m *Manager) OnShutdown(fn func()) (deregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.hooks[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.hooks, id)
	}
}

// RunHooks invokes every registered hook, best-effort. Panics in one hook
// must not stop the others; secondary errors are swallowed because the goal is
// only that no orphaned sandbox is left running.
func (m *Manager) RunHooks() {
	m.mu.Lock()
	hooks := make([]func(), 0, len(m.hooks))
	for _, fn := range m.hooks {
		hooks = append(hooks, fn)
	}
	m.mu.Unlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Warn("shutdown hook panicked", zap.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}

// Trap installs a SIGINT/SIGTERM handler that runs the hooks once and
// exits. A second signal forces immediate exit. The returned stop function
// uninstalls the handler for a clean shutdown path.
func (m *Manager) Trap() (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			m.log.Info("received signal, tearing down", zap.String("signal", sig.String()))
			go func() {
				<-sigCh
				m.log.Warn("received second signal, forcing exit")
				os.Exit(1)
			}()
			m.RunHooks()
			os.Exit(1)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}
