package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"lostnfound-shop/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{name: "validation", err: apperr.Validation("bad input"), want: apperr.KindValidation},
		{name: "signature", err: apperr.Signature("mismatch", nil), want: apperr.KindSignature},
		{name: "config", err: apperr.Config("missing secret"), want: apperr.KindConfig},
		{name: "wrapped", err: fmt.Errorf("outer: %w", apperr.NotFound("gone")), want: apperr.KindNotFound},
		{name: "plain_error_defaults_to_transient", err: errors.New("boom"), want: apperr.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(tt.err))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, apperr.StatusCode(apperr.Validation("bad")))
	assert.Equal(t, http.StatusBadRequest, apperr.StatusCode(apperr.Signature("bad", nil)))
	assert.Equal(t, http.StatusNotFound, apperr.StatusCode(apperr.NotFound("gone")))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusCode(apperr.Config("missing")))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusCode(errors.New("boom")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := apperr.Transient("provider call", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "root cause")
}
