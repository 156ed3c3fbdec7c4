// Package connectivity tracks whether the backing store is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"realtime_chat/pkg/logger"
)

// Monitor reports the current online state and notifies listeners on every
// transition.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners map[int]func(bool)
	nextID    int
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, listeners: make(map[int]func(bool))}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the state; listeners run only when it changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for transitions and returns an unsubscribe func.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe pings target every interval and feeds the result into m until ctx is
// done.
func Probe(ctx context.Context, m *Monitor, target Pinger, interval time.Duration, log logger.Logger) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		err := target.Ping(pingCtx)
		if ctx.Err() != nil {
			return
		}
		online := err == nil
		if online != m.Online() {
			if online {
				log.Info("Store reachable again")
			} else {
				log.Warn("Store unreachable", "error", err)
			}
		}
		m.Set(online)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
