package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/page-restyle/internal/restyle"
)

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the
// caller; internalDetails are logged server-side but never sent.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// validationResponse is the 400 body for a request that failed validation.
type validationResponse struct {
	Error  string               `json:"error"`
	Fields []restyle.FieldError `json:"fields"`
}

func validationError(w http.ResponseWriter, fields []restyle.FieldError) {
	respondJSON(w, http.StatusBadRequest, validationResponse{
		Error:  "invalid restyle request",
		Fields: fields,
	})
}
