// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smartvenue/venued/internal/adoption"
	"github.com/smartvenue/venued/internal/protocol"
	"github.com/smartvenue/venued/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto HTTP codes. Anything
// unmapped is a 400: handlers only surface errors caused by the request.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var protoErr *protocol.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, adoption.ErrAlreadyAdopted):
		return http.StatusConflict
	case errors.Is(err, adoption.ErrUniqueIDCollision):
		return http.StatusConflict
	case errors.Is(err, adoption.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, adoption.ErrProtocolProbeFailed):
		return http.StatusBadGateway
	case errors.As(err, &protoErr):
		// the device, not the caller, is at fault
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
