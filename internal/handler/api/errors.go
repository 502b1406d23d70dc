package api

import (
	"errors"

	domrepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/scheduler"
	"MarketPull/internal/usecase"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/queue"
)

// appError maps use-case errors onto HTTP errors. Anything unknown is a 500.
func appError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, usecase.ErrInvalidQuery):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, scheduler.ErrUnknownFamily), errors.Is(err, queue.ErrUnknownQueue):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		return xhttp.NotFoundError("not found").WithError(err)
	case errors.Is(err, usecase.ErrSyncInProgress):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, service.ErrRateLimited), errors.Is(err, queue.ErrQueueStopped):
		return xhttp.UnavailableError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
