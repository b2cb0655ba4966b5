package apierr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moltgrid/agentforge/internal/apierr"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  *apierr.Error
		want int
	}{
		{apierr.NewBadRequest("bad"), 400},
		{apierr.NewUnauthorized("nope"), 401},
		{apierr.NewNotFound("missing"), 404},
		{apierr.NewRateLimited("slow down"), 429},
		{apierr.Wrap(errors.New("boom"), "internal failure"), 500},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, tt.err.StatusCode())
	}
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := apierr.Wrap(cause, "could not persist entry")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "could not persist entry")
}

func TestAs_ExtractsTypedError(t *testing.T) {
	wrapped := fmtErrorf(apierr.NewNotFound("agent not found"))

	got, ok := apierr.As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, apierr.NotFound, got.Class)
}

func TestAs_FalseForPlainError(t *testing.T) {
	_, ok := apierr.As(errors.New("plain"))
	assert.False(t, ok)
}

func fmtErrorf(e *apierr.Error) error {
	return errors.Join(e)
}
