package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
)

func (h *Handler) createDevice(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.CreateDeviceRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	view, err := h.svc.CreateDevice(r.Context(), session, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}

func (h *Handler) updateDevice(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.UpdateDeviceRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	view, err := h.svc.UpdateDevice(r.Context(), session, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}

func (h *Handler) deleteDevice(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.DeleteDeviceRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.DeleteDevice(r.Context(), session, req.ID); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) devices(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	views, err := h.svc.Devices(r.Context(), session)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"devices": views})
}

func (h *Handler) deviceView(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, errcode.New(errcode.DeviceIDNotValid, ""))
		return
	}
	view, err := h.svc.DeviceView(r.Context(), session, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}
