// Package tab holds the server-side state of each browser: its platform
// client, session holder, record store and form state.
package tab

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/catnip/internal/platform"
	"github.com/starford/catnip/internal/records"
	"github.com/starford/catnip/internal/session"
	"github.com/starford/catnip/internal/sse"
	"github.com/starford/catnip/internal/view"
)

// Tab is one browser's application instance.
type Tab struct {
	ID     string
	Client platform.Client
	Holder *session.Holder
	Store  *records.Store
	UI     *view.UI

	broker  *sse.Broker
	log     *slog.Logger
	version atomic.Uint64
	seen    atomic.Int64 // unix nanos of the last request

	ctx       context.Context
	cancel    context.CancelFunc
	unsubAuth func()
	done      chan struct{}
	closeOnce sync.Once

	userMu   sync.Mutex
	lastUser string

	lastRetry atomic.Int64 // unix nanos of the last page-view retry
}

// loadRetryInterval bounds how often page views retry a failed load. The
// reload the browser makes after a failed retry falls inside it, so a
// platform outage does not turn into a reload loop.
const loadRetryInterval = 10 * time.Second

func newTab(id string, client platform.Client, broker *sse.Broker, log *slog.Logger) *Tab {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tab{
		ID:     id,
		Client: client,
		Holder: session.NewHolder(client, log),
		Store:  records.NewStore(client, log),
		UI:     view.NewUI(),
		broker: broker,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.Touch(time.Now())

	holderCh, cancelHolder := t.Holder.Subscribe()
	storeCh, cancelStore := t.Store.Subscribe()
	go t.forward(holderCh, storeCh, func() {
		cancelHolder()
		cancelStore()
	})

	t.unsubAuth = client.OnAuthStateChange(t.onAuth)
	go t.Holder.Init(ctx)
	return t
}

// Context is cancelled when the tab closes. Background work started on
// behalf of the tab uses it.
func (t *Tab) Context() context.Context {
	return t.ctx
}

// Version counts the state changes announced to the browser.
func (t *Tab) Version() uint64 {
	return t.version.Load()
}

// Touch records activity at now.
func (t *Tab) Touch(now time.Time) {
	t.seen.Store(now.UnixNano())
}

// IdleSince returns how long the tab has been idle at now.
func (t *Tab) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, t.seen.Load()))
}

// Page snapshots everything the renderer needs. The version is read first
// so that a concurrent change always triggers another reload.
func (t *Tab) Page() view.Page {
	return view.Page{
		Version: t.Version(),
		Session: t.Holder.State(),
		Records: t.Store.State(),
		UI:      t.UI.Snapshot(),
	}
}

// Changed bumps the version and tells the browser to reload.
func (t *Tab) Changed() {
	v := t.version.Add(1)
	t.broker.Publish(t.ID, sse.StateChanged(v))
}

// onAuth loads the records whenever a different user signs in and clears
// them on sign-out.
func (t *Tab) onAuth(ev platform.AuthEvent) {
	id := ""
	if u := ev.User(); u != nil {
		id = u.ID
	}

	t.userMu.Lock()
	changed := id != t.lastUser
	t.lastUser = id
	t.userMu.Unlock()
	if !changed {
		return
	}

	// The previous user's cats must not outlive their session.
	t.Store.Reset()
	if id == "" {
		t.UI.ResetList()
		return
	}
	t.log.Debug("user changed, loading cats")
	t.Store.StartLoad(t.ctx)
}

// RetryLoad reloads the cats of a signed-in user when the last load failed,
// at most once per loadRetryInterval. It is called on page views.
func (t *Tab) RetryLoad(now time.Time) bool {
	if t.Holder.State().User == nil {
		return false
	}
	if st := t.Store.State(); st.Loading || !st.Failed {
		return false
	}
	last := t.lastRetry.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < loadRetryInterval {
		return false
	}
	if !t.lastRetry.CompareAndSwap(last, now.UnixNano()) {
		return false
	}
	t.log.Debug("retrying failed cat load")
	t.Store.StartLoad(t.ctx)
	return true
}

func (t *Tab) forward(holderCh <-chan session.State, storeCh <-chan records.State, stop func()) {
	defer close(t.done)
	defer stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-holderCh:
		case <-storeCh:
		}
		t.Changed()
	}
}

// Close stops the tab's background work and disconnects its event streams.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.unsubAuth()
		t.Holder.Close()
		<-t.done
		t.broker.Drop(t.ID)
	})
}
