package platform

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
)

func TestSubscribeEmitsInitialSession(t *testing.T) {
	a := NewAuthState(0)
	a.Set(EventSignedIn, &models.Session{User: models.User{ID: "u1"}})

	var got []AuthEvent
	unsub := a.Subscribe(func(ev AuthEvent) { got = append(got, ev) })
	defer unsub()

	if len(got) != 1 || got[0].Kind != EventInitialSession {
		t.Fatalf("events = %+v, want one INITIAL_SESSION", got)
	}
	if u := got[0].User(); u == nil || u.ID != "u1" {
		t.Errorf("initial user = %+v, want u1", u)
	}
}

func TestSetNotifiesUntilUnsubscribed(t *testing.T) {
	a := NewAuthState(0)
	var kinds []EventKind
	unsub := a.Subscribe(func(ev AuthEvent) { kinds = append(kinds, ev.Kind) })

	a.Set(EventSignedIn, &models.Session{})
	a.Set(EventSignedOut, nil)
	unsub()
	a.Set(EventSignedIn, &models.Session{})

	want := []EventKind{EventInitialSession, EventSignedIn, EventSignedOut}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestCurrentRefreshesExpiredSession(t *testing.T) {
	a := NewAuthState(10 * time.Second)
	a.Set(EventSignedIn, &models.Session{
		AccessToken:  "old",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(5 * time.Second),
	})

	var refreshedWith string
	s, err := a.Current(context.Background(), func(_ context.Context, rt string) (*models.Session, error) {
		refreshedWith = rt
		return &models.Session{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if refreshedWith != "r1" {
		t.Errorf("refresh token = %q, want r1", refreshedWith)
	}
	if s.AccessToken != "new" || a.Session().AccessToken != "new" {
		t.Errorf("session not replaced: %+v", s)
	}
}

func TestCurrentKeepsFreshSession(t *testing.T) {
	a := NewAuthState(10 * time.Second)
	a.Set(EventSignedIn, &models.Session{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	s, err := a.Current(context.Background(), func(context.Context, string) (*models.Session, error) {
		t.Fatal("refresh must not be called")
		return nil, nil
	})
	if err != nil || s.AccessToken != "tok" {
		t.Fatalf("Current = %+v, %v", s, err)
	}
}

func TestCurrentClearsSessionWhenRefreshRejected(t *testing.T) {
	a := NewAuthState(0)
	a.Set(EventSignedIn, &models.Session{RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	var last AuthEvent
	defer a.Subscribe(func(ev AuthEvent) { last = ev })()

	rejected := &apperr.PlatformError{Op: "refresh", Status: http.StatusBadRequest, Code: CodeRefreshTokenNotFound,
		Message: "Invalid Refresh Token: Refresh Token Not Found"}
	s, err := a.Current(context.Background(), func(context.Context, string) (*models.Session, error) {
		return nil, rejected
	})
	if !errors.Is(err, rejected) || s != nil {
		t.Fatalf("Current = %+v, %v; want nil, %v", s, err, rejected)
	}
	if a.Session() != nil {
		t.Error("session should be cleared")
	}
	if last.Kind != EventSignedOut {
		t.Errorf("last event = %s, want SIGNED_OUT", last.Kind)
	}
}

func TestCurrentKeepsSessionOnTransientFailure(t *testing.T) {
	a := NewAuthState(0)
	a.Set(EventSignedIn, &models.Session{RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	var events int
	defer a.Subscribe(func(AuthEvent) { events++ })()

	boom := errors.New("connection reset")
	if _, err := a.Current(context.Background(), func(context.Context, string) (*models.Session, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if s := a.Session(); s == nil || s.RefreshToken != "r1" {
		t.Errorf("session = %+v, want the stored one", s)
	}
	if events != 1 {
		t.Errorf("events = %d, want only the initial one", events)
	}
}

func TestCurrentSharesConcurrentRefresh(t *testing.T) {
	a := NewAuthState(0)
	a.Set(EventSignedIn, &models.Session{RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	// Refresh tokens are single-use: a second exchange of r1 is rejected.
	var (
		mu    sync.Mutex
		calls int
		used  = map[string]bool{}
	)
	refresh := func(_ context.Context, rt string) (*models.Session, error) {
		mu.Lock()
		calls++
		spent := used[rt]
		used[rt] = true
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		if spent {
			return nil, &apperr.PlatformError{Op: "refresh", Status: http.StatusBadRequest, Code: CodeRefreshTokenNotFound}
		}
		return &models.Session{AccessToken: "new", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	const callers = 32
	var (
		wg       sync.WaitGroup
		failures atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := a.Current(context.Background(), refresh)
			if err != nil || s == nil || s.AccessToken != "new" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1", calls)
	}
	if n := failures.Load(); n != 0 {
		t.Errorf("failed callers = %d, want 0", n)
	}
	if s := a.Session(); s == nil || s.RefreshToken != "r2" {
		t.Errorf("session = %+v, want the refreshed one", s)
	}
}

func TestCurrentRefreshSurvivesCancelledCaller(t *testing.T) {
	a := NewAuthState(0)
	a.Set(EventSignedIn, &models.Session{RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	_, _ = a.Current(ctx, func(rctx context.Context, _ string) (*models.Session, error) {
		defer close(done)
		if err := rctx.Err(); err != nil {
			return nil, err
		}
		return &models.Session{AccessToken: "new", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never ran")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := a.Session()
		if s == nil {
			t.Fatal("a cancelled request cleared the session")
		}
		if s.RefreshToken == "r2" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session = %+v, want the refreshed one", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionGone(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&apperr.PlatformError{Status: http.StatusUnauthorized}, true},
		{&apperr.PlatformError{Status: http.StatusNotFound}, true},
		{&apperr.PlatformError{Status: http.StatusBadRequest, Code: CodeRefreshTokenNotFound}, true},
		{&apperr.PlatformError{Status: http.StatusBadRequest, Code: CodeInvalidGrant}, true},
		{&apperr.PlatformError{Status: http.StatusBadRequest, Code: "validation_failed"}, false},
		{&apperr.PlatformError{Status: http.StatusBadGateway}, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := SessionGone(tt.err); got != tt.want {
			t.Errorf("SessionGone(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
