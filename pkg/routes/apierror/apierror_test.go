package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/Ramsey-B/clover/pkg/routes/apierror"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid record", fmt.Errorf("%w: raw_name too long", resolver.ErrInvalidRecord), http.StatusBadRequest},
		{"retryable", &resolver.RetryableError{Op: "registry lookup", Err: errors.New("conn reset")}, http.StatusServiceUnavailable},
		{"retryable wrapping storage error", &resolver.RetryableError{Op: "create", Err: httperror.NewHTTPError(http.StatusInternalServerError, "db down")}, http.StatusServiceUnavailable},
		{"queue entry missing", fmt.Errorf("%w: abc", review.ErrNotFound), http.StatusNotFound},
		{"already claimed", review.ErrAlreadyClaimed, http.StatusConflict},
		{"not claimant", review.ErrNotClaimant, http.StatusForbidden},
		{"bad transition", review.ErrInvalidTransition, http.StatusConflict},
		{"decision missing", ledger.ErrNotFound, http.StatusNotFound},
		{"already validated", ledger.ErrAlreadyValidated, http.StatusConflict},
		{"entity missing", fmt.Errorf("%w: e1", registry.ErrEntityNotFound), http.StatusNotFound},
		{"identifier conflict", &registry.IdentifierConflictError{Kind: "taxId", Value: "1", OwnerID: "e1"}, http.StatusConflict},
		{"http error passes through", httperror.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apierror.Status(tt.err))
		})
	}
}
