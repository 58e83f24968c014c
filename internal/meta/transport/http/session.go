package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
)

// session resolves the caller's session from the cookie, lazily: no
// database round-trip happens on endpoints that never ask for it.
func (h *Handler) session(r *http.Request) (*domain.Session, error) {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return nil, errcode.New(errcode.NotLoggedIn, "")
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return nil, errcode.New(errcode.NotLoggedIn, "")
	}
	return h.svc.ResolveSession(r.Context(), id)
}

// deviceSession is session plus the requirement that it was opened from a
// device, not the website.
func (h *Handler) deviceSession(r *http.Request) (*domain.Session, error) {
	session, err := h.session(r)
	if err != nil {
		return nil, err
	}
	if session.DeviceID == nil {
		return nil, errcode.New(errcode.OperationNotPermitted, "device session required")
	}
	return session, nil
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id domain.SessionID, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id.String(),
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
	})
}
