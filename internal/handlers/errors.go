package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wa-console/instance-manager/internal/service"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a service error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case service.ErrCodeValidation:
		return http.StatusBadRequest
	case service.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case service.ErrCodeForbidden:
		return http.StatusForbidden
	case service.ErrCodeNotFound:
		return http.StatusNotFound
	case service.ErrCodeConflict:
		return http.StatusConflict
	case service.ErrCodeGateway:
		return http.StatusBadGateway
	case service.ErrCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError writes err as {"error": message}. Errors that are not service
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, statusFor(svcErr.Code), errorBody{Error: svcErr.Message})
}
