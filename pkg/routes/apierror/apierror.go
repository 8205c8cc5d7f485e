// Package apierror translates domain errors into httperror values the echo
// error handler renders.
package apierror

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/go-playground/validator/v10"
)

var statusByError = []struct {
	err    error
	status int
}{
	{resolver.ErrInvalidRecord, http.StatusBadRequest},
	{resolver.ErrRetryable, http.StatusServiceUnavailable},
	{resolver.ErrNoTarget, http.StatusUnprocessableEntity},
	{review.ErrNotFound, http.StatusNotFound},
	{review.ErrAlreadyClaimed, http.StatusConflict},
	{review.ErrNotClaimant, http.StatusForbidden},
	{review.ErrInvalidTransition, http.StatusConflict},
	{ledger.ErrNotFound, http.StatusNotFound},
	{ledger.ErrAlreadyValidated, http.StatusConflict},
	{registry.ErrEntityNotFound, http.StatusNotFound},
	{registry.ErrIdentifierConflict, http.StatusConflict},
	{registry.ErrEntityExists, http.StatusConflict},
}

// From maps err to an httperror. Domain errors take precedence over any
// storage httperror they wrap; anything unrecognized becomes a 500.
func From(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return httperror.NewHTTPError(m.status, err.Error())
		}
	}
	if httperror.IsHTTPError(err) {
		return err
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Status returns the status code From would assign
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return httperror.GetStatusCode(From(err))
}
