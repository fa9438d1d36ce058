package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("invalid_code")
	err := Wrap(ErrUpstreamRejected, cause)

	assert.ErrorIs(t, err, ErrUpstreamRejected)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream rejected: invalid_code", err.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(ErrTransport, nil))
}

func TestWrap_AlreadyTagged(t *testing.T) {
	err := New(ErrConflict, "bot already running")
	assert.Same(t, err, Wrap(ErrConflict, err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrInvalidRequest, "empty code"), http.StatusBadRequest},
		{New(ErrConflict, "dup"), http.StatusConflict},
		{New(ErrUpstreamRejected, "denied"), http.StatusBadGateway},
		{New(ErrTransport, "dial"), http.StatusServiceUnavailable},
		{New(ErrPersistence, "disk"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
