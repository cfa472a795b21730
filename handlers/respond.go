// handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gewnthar/propcat/logger"
	"github.com/gewnthar/propcat/models"
)

// respondWithJSON writes payload as the JSON body with the given status.
func respondWithJSON(w http.ResponseWriter, log *logger.Logger, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithError(w http.ResponseWriter, log *logger.Logger, code int, message string) {
	if code >= http.StatusInternalServerError {
		log.Error("API error", "status", code, "message", message)
	} else {
		log.Debug("API error", "status", code, "message", message)
	}
	respondWithJSON(w, log, code, map[string]string{"error": message})
}

// respondWithServiceError maps a catalog error onto a status code.
func respondWithServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	var unavailable *models.RepositoryUnavailableError
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondWithError(w, log, http.StatusNotFound, err.Error())
	case errors.As(err, &unavailable):
		respondWithError(w, log, http.StatusServiceUnavailable, "storage unavailable")
		log.Error("storage fault", "op", unavailable.Op, "error", unavailable.Err)
	default:
		respondWithError(w, log, http.StatusInternalServerError, err.Error())
	}
}
