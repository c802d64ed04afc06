package handlers

import (
	"errors"
	"net/http"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/services/recommend"
	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrPasswordMismatch),
		errors.Is(err, session.ErrMissingCode),
		errors.Is(err, recommend.ErrInvalidID),
		errors.Is(err, recommend.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownProvider):
		return http.StatusNotFound
	}
	return apierr.HTTPStatus(err)
}

// writeError answers with the user-facing message of err.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(logger.HANDLER, "%s failed: %v", op, err)
	} else {
		logger.Debug(logger.HANDLER, "%s rejected: %v", op, err)
	}
	httpext.JsonError(w, apierr.Message(err), status)
}
