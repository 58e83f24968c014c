package http

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
)

func (h *Handler) self(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	view, err := h.svc.Self(r.Context(), session)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}

func (h *Handler) userView(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err != nil {
		writeFailure(w, err)
		return
	}
	view, err := h.svc.UserViewByIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err != nil {
		writeFailure(w, err)
		return
	}
	q := r.URL.Query().Get("search")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	views, err := h.svc.SearchUsers(r.Context(), q, limit, skip)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"users": views})
}

func (h *Handler) swaggers(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	views, err := h.svc.Swaggers(r.Context(), session)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"swaggers": views})
}

func (h *Handler) favorite(w http.ResponseWriter, r *http.Request) {
	h.favoriteChange(w, r, h.svc.Favorite)
}

func (h *Handler) unfavorite(w http.ResponseWriter, r *http.Request) {
	h.favoriteChange(w, r, h.svc.Unfavorite)
}

func (h *Handler) favoriteChange(w http.ResponseWriter, r *http.Request,
	change func(context.Context, *domain.Session, domain.UserID) error) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.FavoriteRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.UserID == uuid.Nil {
		writeFailure(w, errcode.New(errcode.UserIDNotValid, ""))
		return
	}
	if err := change(r.Context(), session, req.UserID); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) editUser(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.EditUserRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.EditUser(r.Context(), session, req); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

const maxAvatarBytes = 1 << 20

func (h *Handler) setAvatar(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	avatar, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarBytes+1))
	if err != nil {
		writeFailure(w, errcode.New(errcode.BadRequest, "unreadable body"))
		return
	}
	if len(avatar) > maxAvatarBytes {
		writeFailure(w, errcode.New(errcode.BadRequest, "avatar too large"))
		return
	}
	if err := h.svc.SetAvatar(r.Context(), session, avatar); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) avatar(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "identifier"))
	if err != nil {
		writeFailure(w, errcode.New(errcode.UserIDNotValid, ""))
		return
	}
	avatar, err := h.svc.Avatar(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(avatar)
}

func (h *Handler) genocide(w http.ResponseWriter, r *http.Request) {
	notified, err := h.svc.Genocide(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"notified": notified})
}
