package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, utils.ErrInvalidArgument), errors.Is(err, engine.ErrInvalidTelemetry):
		return codes.InvalidArgument
	case errors.Is(err, engine.ErrIncidentNotFound), errors.Is(err, engine.ErrActionNotFound), errors.Is(err, engine.ErrBaselineNotFound):
		return codes.NotFound
	case errors.Is(err, engine.ErrActionNotPending), errors.Is(err, engine.ErrActionNotRevertible), errors.Is(err, engine.ErrIncidentInactive):
		return codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(codeFor(err), err.Error())
}

func httpStatusFor(err error) int {
	switch codeFor(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Canceled, codes.DeadlineExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
