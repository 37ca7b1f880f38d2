// Package web implements catnip's HTML and event-stream endpoints using chi.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/starford/catnip/internal/tab"
)

// CookieName holds the browser's tab id.
const CookieName = "catnip_tab"

type ctxKey struct{}

// TabMiddleware resolves the browser's tab from its cookie, creating a new
// tab (and cookie) when the cookie is missing or its tab has expired.
// secure controls the cookie's Secure attribute.
func TabMiddleware(reg *tab.Registry, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(CookieName); err == nil {
				if t, ok := reg.Get(c.Value); ok {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, t)))
					return
				}
			}

			t, err := reg.Create()
			if err != nil {
				slog.Error("create tab failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, errorBody("unavailable"))
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    t.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, t)))
		})
	}
}

// tabFrom returns the tab stored by TabMiddleware.
func tabFrom(r *http.Request) *tab.Tab {
	t, _ := r.Context().Value(ctxKey{}).(*tab.Tab)
	return t
}
