package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gwillem/signal-mock/internal/state"
)

// apiError is a handler failure carrying the HTTP status and a small JSON
// body for the client. Everything a handler cannot convert bubbles to the
// translator as a 500.
type apiError struct {
	status int
	code   string
	body   any // optional structured body; overrides code/message when set
	err    error
}

func (e *apiError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s (%d): %v", e.code, e.status, e.err)
	}
	return fmt.Sprintf("%s (%d)", e.code, e.status)
}

func (e *apiError) Unwrap() error { return e.err }

func protocolError(err error) *apiError {
	return &apiError{status: http.StatusBadRequest, code: "malformed request", err: err}
}

func validationError(err error) *apiError {
	return &apiError{status: http.StatusUnprocessableEntity, code: "validation failed", err: err}
}

func authError(err error) *apiError {
	return &apiError{status: http.StatusUnauthorized, code: "unauthorized", err: err}
}

func forbiddenError(err error) *apiError {
	return &apiError{status: http.StatusForbidden, code: "forbidden", err: err}
}

func notFoundError(err error) *apiError {
	return &apiError{status: http.StatusNotFound, code: "not found", err: err}
}

func conflictError(body any, err error) *apiError {
	return &apiError{status: http.StatusConflict, code: "conflict", body: body, err: err}
}

// translateError maps state-package sentinels to their protocol statuses.
func translateError(err error) *apiError {
	var api *apiError
	if errors.As(err, &api) {
		return api
	}
	switch {
	case errors.Is(err, state.ErrNoAccount),
		errors.Is(err, state.ErrNoDevice),
		errors.Is(err, state.ErrNoGroup),
		errors.Is(err, state.ErrNoAttachment),
		errors.Is(err, state.ErrNoCallLink):
		return notFoundError(err)
	case errors.Is(err, state.ErrBadCredentials):
		return authError(err)
	case errors.Is(err, state.ErrNumberTaken),
		errors.Is(err, state.ErrGroupVersion),
		errors.Is(err, state.ErrGroupExists),
		errors.Is(err, state.ErrUsernameTaken),
		errors.Is(err, state.ErrNoReservation):
		return conflictError(nil, err)
	case errors.Is(err, state.ErrInvalidRegistrationID):
		return validationError(err)
	default:
		return &apiError{status: http.StatusInternalServerError, code: "internal error", err: err}
	}
}

// writeError renders an apiError to the response and logs 5xx failures.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	api := translateError(err)
	if api.status >= http.StatusInternalServerError {
		log.Error().Err(api.err).Msg("internal error")
	} else {
		log.Debug().Err(api.err).Int("status", api.status).Msg("request failed")
	}

	body := api.body
	if body == nil {
		body = map[string]string{"error": api.code}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(api.status)
	_ = json.NewEncoder(w).Encode(body)
}
