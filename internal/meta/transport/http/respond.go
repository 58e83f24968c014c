package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/service"
)

// writeSuccess renders v inside the success envelope. v must marshal to a
// JSON object (or be nil for a bare {"success": true}).
func writeSuccess(w http.ResponseWriter, v any) {
	body := map[string]any{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			writeFailure(w, err)
			return
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			writeFailure(w, err)
			return
		}
	}
	body["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// writeFailure renders the failure envelope with the wire code and the HTTP
// status it maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errcode.Unknown
	details := "internal error"

	var typed *errcode.Error
	switch {
	case errors.Is(err, service.ErrNoTrophonius):
		status = http.StatusServiceUnavailable
		details = err.Error()
	case errors.As(err, &typed):
		code = typed.Code
		details = typed.Details
		status = errcode.HTTPStatus(code)
	default:
		slog.Error("request failed", "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":       false,
		"error_code":    int(code),
		"error_details": details,
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errcode.New(errcode.BadRequest, "malformed JSON body")
	}
	return nil
}
