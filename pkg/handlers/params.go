package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// parseUUID extracts and parses a UUID path value, writing a 400 response on
// failure.
func parseUUID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Debug("invalid path parameter",
			zap.String("param", name),
			zap.String("value", raw))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+name, "Invalid "+name+" format"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// ParseProjectID extracts the {pid} path value.
func ParseProjectID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "pid", logger)
}

// ParseSessionID extracts the {sid} path value.
func ParseSessionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "sid", logger)
}
