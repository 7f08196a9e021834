package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/collective"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/firewall"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/remediation"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/shield"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors from the domain packages onto
// status codes; anything unrecognized is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrBadTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, shield.ErrInvalidScan),
		errors.Is(err, firewall.ErrInvalidRule),
		errors.Is(err, collective.ErrInvalidSignal),
		errors.Is(err, remediation.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON parses a request body into v, rejecting unknown garbage with
// a uniform message.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
