package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hookline/hookline/internal/werrors"
)

// mapError translates tagged domain errors into HTTP responses. Unknown
// errors become a 500 with a generic message; internal detail stays in logs.
func mapError(err error) error {
	var we *werrors.Error
	if !errors.As(err, &we) {
		return huma.Error500InternalServerError("internal error")
	}

	switch we.Kind {
	case werrors.KindNotFound:
		return huma.Error404NotFound(we.Msg)
	case werrors.KindAlreadyExists:
		return huma.Error409Conflict(we.Msg)
	case werrors.KindStorageConflict:
		return huma.Error409Conflict(we.Msg)
	case werrors.KindInvalidPayload, werrors.KindConfiguration:
		return huma.Error422UnprocessableEntity(we.Msg)
	case werrors.KindMissingSignature, werrors.KindInvalidSignatureFormat:
		return huma.Error400BadRequest(we.Msg)
	case werrors.KindInvalidSignature:
		return huma.Error401Unauthorized(we.Msg)
	case werrors.KindTransportUnavailable, werrors.KindPublishTimeout:
		return huma.Error503ServiceUnavailable(we.Msg)
	default:
		return huma.Error500InternalServerError(we.Msg)
	}
}
