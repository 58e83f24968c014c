package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/infinitio/oracles/internal/meta/dto"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	resp, err := h.svc.Login(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.setSessionCookie(w, resp.SessionID, h.sessionTTL)
	writeSuccess(w, resp)
}

func (h *Handler) webLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.WebLoginRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	session, err := h.svc.WebLogin(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.setSessionCookie(w, session.ID, h.sessionTTL)
	writeSuccess(w, map[string]any{"session_id": session.ID})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.Logout(r.Context(), session); err != nil {
		writeFailure(w, err)
		return
	}
	h.clearSessionCookie(w)
	writeSuccess(w, nil)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	resp, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *Handler) lostPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.LostPasswordRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.LostPassword(r.Context(), req.Email); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) resetAccountGet(w http.ResponseWriter, r *http.Request) {
	email, err := h.svc.ResetAccountEmail(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"email": email})
}

func (h *Handler) resetAccountPost(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetAccountRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.ResetAccount(r.Context(), chi.URLParam(r, "hash"), req.Password); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}
