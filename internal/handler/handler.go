package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"orders-service/internal/model"

	"github.com/rs/zerolog"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent
		return
	}
}

// writeError writes an error response with the given status code, code and message.
func writeError(w http.ResponseWriter, status int, code, message string, logger zerolog.Logger) {
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Str("code", code).Str("error", message).Int("status", status).Msg("handler error")
	writeJSON(w, status, model.ErrorResponse{Error: code, Message: message})
}

// writeServiceError maps a classified service error onto an HTTP response.
func writeServiceError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	status, code, message := statusFor(err)
	writeError(w, status, code, message, logger)
}

func statusFor(err error) (int, string, string) {
	var de *model.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error"
	}

	switch de.Kind {
	case model.KindValidation:
		return http.StatusBadRequest, de.Code, de.Message
	case model.KindNotFound:
		return http.StatusNotFound, de.Code, de.Message
	case model.KindDependency:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, de.Code, de.Message
		}
		return http.StatusBadGateway, de.Code, de.Message
	case model.KindIntegrity:
		return http.StatusConflict, de.Code, de.Message
	case model.KindStorage:
		// Driver details stay in the logs
		return http.StatusInternalServerError, de.Code, de.Message
	default:
		return http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error"
	}
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns the liveness handler. A nil db reports healthy unconditionally.
func Health(db Pinger, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				logger.Error().Err(err).Msg("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
