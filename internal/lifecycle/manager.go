// Package lifecycle tears down the gateway's long-lived resources in
// reverse registration order. The KVS, chain client, crawl logger, and
// heartbeat monitor register here so cmd/gateway/main.go shuts everything
// down with one call.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager collects cleanup functions and runs them LIFO on Close.
type Manager struct {
	mu       sync.Mutex
	names    []string
	cleanups []func() error
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a resource to close during shutdown. Later registrations
// close first, mirroring dependency order.
func (m *Manager) Register(name string, closer io.Closer) {
	m.RegisterFunc(name, closer.Close)
}

// RegisterFunc registers a bare cleanup function under a resource name.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	m.cleanups = append(m.cleanups, fn)
}

// Close runs every registered cleanup in reverse order. A failure does not
// stop the sweep; all failures come back joined, each wrapped with its
// resource name. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.cleanups) - 1; i >= 0; i-- {
		if err := m.cleanups[i](); err != nil {
			log.Error().
				Err(err).
				Str("resource", m.names[i]).
				Msg("lifecycle.close_resource_failed")
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	m.names = nil
	m.cleanups = nil

	return errors.Join(errs...)
}
