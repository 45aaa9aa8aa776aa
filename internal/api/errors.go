package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/rules"
)

// respondError maps domain errors onto HTTP statuses. Anything untyped is a
// 500 with a generic body; the detail goes to the log, not the client.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var (
		validation rules.ValidationError
		notFound   rules.NotFoundError
		duplicate  rules.DuplicateNameError
	)
	switch {
	case errors.As(err, &validation):
		s.respond(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
	case errors.As(err, &notFound):
		s.respond(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
	case errors.As(err, &duplicate):
		s.respond(w, http.StatusConflict, map[string]string{"error": duplicate.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respond(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
