package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/store"
)

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	session, err := h.deviceSession(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.CreateTransactionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.DeviceID == uuid.Nil {
		req.DeviceID = *session.DeviceID
	}
	resp, err := h.svc.CreateTransaction(r.Context(), session, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *Handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	session, err := h.deviceSession(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.UpdateTransactionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.TransactionID == uuid.Nil {
		writeFailure(w, errcode.New(errcode.TransactionIDNotValid, ""))
		return
	}
	resp, err := h.svc.UpdateTransaction(r.Context(), session, req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *Handler) txID(r *http.Request) (domain.TransactionID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errcode.New(errcode.TransactionIDNotValid, chi.URLParam(r, "id"))
	}
	return id, nil
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
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
	tr, err := h.svc.GetTransaction(r.Context(), session, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, tr)
}

// parseListFilter reads filter=1,2,3&negate=1&peer_id=&count=&offset=.
func parseListFilter(r *http.Request) (store.ListFilter, error) {
	var f store.ListFilter
	q := r.URL.Query()
	if raw := q.Get("filter"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return f, errcode.New(errcode.BadRequest, "bad status filter")
			}
			f.Statuses = append(f.Statuses, domain.Status(n))
		}
	}
	if raw := q.Get("negate"); raw != "" {
		f.Negate = raw == "1" || strings.EqualFold(raw, "true")
	}
	if raw := q.Get("peer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, errcode.New(errcode.UserIDNotValid, raw)
		}
		f.PeerID = &id
	}
	f.Count, _ = strconv.Atoi(q.Get("count"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	session, err := h.session(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	trs, err := h.svc.ListTransactions(r.Context(), session, filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"transactions": trs})
}

func (h *Handler) updateEndpoints(w http.ResponseWriter, r *http.Request) {
	session, err := h.deviceSession(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := h.txID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req dto.EndpointsRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, err)
		return
	}
	if req.DeviceID == uuid.Nil {
		req.DeviceID = *session.DeviceID
	}
	if err := h.svc.UpdateEndpoints(r.Context(), session, id, req); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, nil)
}

// readEndpoints is the query-parameter counterpart of updateEndpoints: it
// returns the endpoints the peer device published, once both sides are in.
func (h *Handler) readEndpoints(w http.ResponseWriter, r *http.Request) {
	session, err := h.deviceSession(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := h.txID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	q := r.URL.Query()
	peerDevice, err := uuid.Parse(q.Get("device_id"))
	if err != nil {
		writeFailure(w, errcode.New(errcode.DeviceIDNotValid, q.Get("device_id")))
		return
	}
	selfDevice := *session.DeviceID
	if v := q.Get("self_device_id"); v != "" {
		selfDevice, err = uuid.Parse(v)
		if err != nil {
			writeFailure(w, errcode.New(errcode.DeviceIDNotValid, v))
			return
		}
	}
	resp, err := h.svc.PeerEndpoints(r.Context(), session, id, selfDevice, peerDevice)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *Handler) cloudBuffer(w http.ResponseWriter, r *http.Request) {
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
	resp, err := h.svc.CloudBuffer(r.Context(), session, id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, resp)
}
