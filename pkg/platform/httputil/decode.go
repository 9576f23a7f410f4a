package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "tagconsent/pkg/domain-errors"
	"tagconsent/pkg/platform/sentinel"
	"tagconsent/pkg/requestcontext"
	"tagconsent/pkg/validation"
)

// Normalizable is implemented by request types that canonicalize their input.
type Normalizable interface {
	Normalize()
}

// Validatable is implemented by request types with semantic checks beyond
// struct tags.
type Validatable interface {
	Validate() error
}

// DecodeJSON decodes the request body into T. On failure it writes a 400
// and returns nil, false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	ctx := r.Context()
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// PrepareRequest normalizes req, checks its struct tags, then runs its
// Validate method.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if err := validation.Validate(req); err != nil {
		return err
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare combines DecodeJSON with PrepareRequest.
//
//	req, ok := httputil.DecodeAndPrepare[models.CustomRequest](w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger)
	if !ok {
		return nil, false
	}

	if err := PrepareRequest(req); err != nil {
		ctx := r.Context()
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, asDomainError(err))
		return nil, false
	}
	return req, true
}

func asDomainError(err error) error {
	var domainErr *dErrors.Error
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, sentinel.ErrInvalidInput):
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error())
	default:
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
}
