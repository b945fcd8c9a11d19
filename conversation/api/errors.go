package api

import (
	"context"
	"errors"

	"school-portal/backend/conversation/models"
	apperrors "school-portal/backend/pkg/errors"
	"school-portal/backend/pkg/lock"
	"school-portal/backend/pkg/resilience"
)

// toAppError maps domain failures onto HTTP errors
func toAppError(err error) *apperrors.AppError {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return apperrors.NewBadRequestError(apperrors.CodeValidation, "The request violates one or more rules").
			WithDetails(ve.Violations).WithCause(err)
	case errors.Is(err, models.ErrCapacityExceeded):
		return apperrors.NewUnprocessableError(apperrors.CodeCapacityExceeded,
			"The conversation is full; start a new conversation").WithCause(err)
	case errors.Is(err, models.ErrNotFound):
		return apperrors.NewNotFoundError(apperrors.CodeNotFound, "Conversation not found").WithCause(err)
	case errors.Is(err, models.ErrForbidden):
		return apperrors.NewForbiddenError(apperrors.CodeForbidden, "You are not allowed to change this conversation").WithCause(err)
	case errors.Is(err, models.ErrConflict):
		return apperrors.NewConflictError(apperrors.CodeConflict, "The conversation was modified concurrently; retry").WithCause(err)
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "The service is busy; retry shortly").WithCause(err)
	default:
		return apperrors.FromError(err)
	}
}

func badRequest(message string, err error) *apperrors.AppError {
	appErr := apperrors.NewBadRequestError(apperrors.CodeBadRequest, message)
	if err != nil {
		appErr = appErr.WithDetails(err.Error()).WithCause(err)
	}
	return appErr
}
