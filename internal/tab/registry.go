package tab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/catnip/internal/platform"
	"github.com/starford/catnip/internal/sse"
)

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("tab: registry closed")

// Registry maps browser cookies to tabs.
type Registry struct {
	provider    platform.Provider
	broker      *sse.Broker
	log         *slog.Logger
	idleTimeout time.Duration

	mu     sync.Mutex
	tabs   map[string]*Tab
	closed bool
}

// NewRegistry returns an empty registry. Tabs idle for longer than
// idleTimeout are removed by Sweep.
func NewRegistry(provider platform.Provider, broker *sse.Broker, log *slog.Logger, idleTimeout time.Duration) *Registry {
	return &Registry{
		provider:    provider,
		broker:      broker,
		log:         log,
		idleTimeout: idleTimeout,
		tabs:        make(map[string]*Tab),
	}
}

// Get returns the tab with id and records activity on it.
func (r *Registry) Get(id string) (*Tab, bool) {
	r.mu.Lock()
	t, ok := r.tabs[id]
	r.mu.Unlock()
	if ok {
		t.Touch(time.Now())
	}
	return t, ok
}

// Create starts a tab with a fresh platform client.
func (r *Registry) Create() (*Tab, error) {
	client, err := r.provider.NewClient()
	if err != nil {
		return nil, fmt.Errorf("tab: new client: %w", err)
	}
	id := uuid.NewString()
	t := newTab(id, client, r.broker, r.log.With(slog.String("tab", id[:8])))

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, ErrClosed
	}
	r.tabs[id] = t
	r.mu.Unlock()

	r.log.Debug("tab created", slog.String("tab", id[:8]))
	return t, nil
}

// ChangedAll tells every browser to reload, e.g. after a template edit.
func (r *Registry) ChangedAll() {
	r.mu.Lock()
	tabs := make([]*Tab, 0, len(r.tabs))
	for _, t := range r.tabs {
		tabs = append(tabs, t)
	}
	r.mu.Unlock()

	for _, t := range tabs {
		t.Changed()
	}
}

// Len returns the number of live tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// Sweep closes the tabs idle at now and returns how many it closed.
func (r *Registry) Sweep(now time.Time) int {
	var expired []*Tab
	r.mu.Lock()
	for id, t := range r.tabs {
		if t.IdleSince(now) > r.idleTimeout {
			expired = append(expired, t)
			delete(r.tabs, id)
		}
	}
	r.mu.Unlock()

	for _, t := range expired {
		t.Close()
	}
	if len(expired) > 0 {
		r.log.Debug("expired idle tabs", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// RunCleanup sweeps idle tabs every interval until ctx is cancelled.
func (r *Registry) RunCleanup(ctx context.Context, interval time.Duration) error {
	r.log.Debug("starting tab cleanup worker", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.Sweep(now)
		case <-ctx.Done():
			r.log.Info("stopping tab cleanup worker")
			return nil
		}
	}
}

// Close closes every tab. Create fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	tabs := r.tabs
	r.tabs = make(map[string]*Tab)
	r.mu.Unlock()

	for _, t := range tabs {
		t.Close()
	}
}
