package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
)

func (h *Handler) pickTrophonius(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session(r); err != nil {
		writeFailure(w, err)
		return
	}
	view, err := h.svc.PickTrophonius(r.Context(), r.URL.Query().Get("zone"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, view)
}

func (h *Handler) registerTrophonius(w http.ResponseWriter, r *http.Request) {
	var hb dto.TrophoniusHeartbeat
	if err := decode(r, &hb); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.RegisterTrophonius(r.Context(), chi.URLParam(r, "uid"), hb); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) unregisterTrophonius(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UnregisterTrophonius(r.Context(), chi.URLParam(r, "uid")); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) deviceBinding(r *http.Request) (string, uuid.UUID, uuid.UUID, error) {
	gateway := chi.URLParam(r, "uid")
	user, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		return "", uuid.Nil, uuid.Nil, errcode.New(errcode.UserIDNotValid, "")
	}
	device, err := uuid.Parse(chi.URLParam(r, "device"))
	if err != nil {
		return "", uuid.Nil, uuid.Nil, errcode.New(errcode.DeviceIDNotValid, "")
	}
	return gateway, user, device, nil
}

func (h *Handler) connectDevice(w http.ResponseWriter, r *http.Request) {
	gateway, user, device, err := h.deviceBinding(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.ConnectDevice(r.Context(), gateway, user, device); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	gateway, user, device, err := h.deviceBinding(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.DisconnectDevice(r.Context(), gateway, user, device); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) registerApertus(w http.ResponseWriter, r *http.Request) {
	var hb dto.ApertusHeartbeat
	if err := decode(r, &hb); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.RegisterApertus(r.Context(), chi.URLParam(r, "uid"), hb); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) unregisterApertus(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UnregisterApertus(r.Context(), chi.URLParam(r, "uid")); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) apertusBandwidth(w http.ResponseWriter, r *http.Request) {
	var hb dto.ApertusBandwidth
	if err := decode(r, &hb); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.ApertusBandwidth(r.Context(), chi.URLParam(r, "uid"), hb); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *Handler) fallback(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := h.txID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp, err := h.svc.Fallback(r.Context(), session, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *Handler) cron(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sweep(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, res)
}

func (h *Handler) dailySummary(w http.ResponseWriter, r *http.Request) {
	sent, err := h.svc.DailySummary(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"sent": sent})
}

func (h *Handler) debugReport(w http.ResponseWriter, r *http.Request) {
	var req dto.ReportRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if err := h.svc.DebugReport(r.Context(), chi.URLParam(r, "type"), req); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}
