package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	sentinel := New(Expired, "link code expired")
	wrapped := fmt.Errorf("claim: %w", sentinel)

	assert.Equal(t, Expired, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Internal, KindOf(nil))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(Internal, "x", nil))

	cause := errors.New("connection refused")
	err := Wrap(Internal, "store session", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store session: connection refused", err.Error())
}

func TestMessage_HidesInternalCause(t *testing.T) {
	assert.Equal(t, "internal error", Message(Wrap(Internal, "db", errors.New("password=secret"))))
	assert.Equal(t, "internal error", Message(errors.New("raw")))
	assert.Equal(t, "session_id is required", Message(New(InvalidInput, "session_id is required")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		InvalidInput: http.StatusBadRequest,
		NotFound:     http.StatusNotFound,
		Expired:      http.StatusGone,
		Conflict:     http.StatusConflict,
		Unauthorized: http.StatusUnauthorized,
		Forbidden:    http.StatusForbidden,
		RateLimited:  http.StatusTooManyRequests,
		Internal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		t.Run(kind.String(), func(t *testing.T) {
			assert.Equal(t, want, HTTPStatus(kind))
		})
	}
}
