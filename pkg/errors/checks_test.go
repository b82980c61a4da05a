package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsError(t *testing.T) {
	t.Run("direct", func(t *testing.T) {
		err := New(CodeAuthentication, "nope")
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeAuthentication, e.Code)
	})

	t.Run("wrapped in fmt chain", func(t *testing.T) {
		inner := New(CodeRefreshFailed, "refresh rejected")
		err := fmt.Errorf("guard: %w", inner)
		e, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeRefreshFailed, e.Code)
	})

	t.Run("plain error", func(t *testing.T) {
		_, ok := AsError(stderrors.New("plain"))
		assert.False(t, ok)
	})

	t.Run("nil", func(t *testing.T) {
		_, ok := AsError(nil)
		assert.False(t, ok)
	})
}

func TestHasCode(t *testing.T) {
	err := New(CodeKeyUnavailable, "kid missing")
	assert.True(t, HasCode(err, CodeKeyUnavailable))
	assert.False(t, HasCode(err, CodeAuthenticationExpired))
	assert.False(t, HasCode(nil, CodeKeyUnavailable))
}

func TestCategoryChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation match", Validation("bad input"), IsValidation, true},
		{"authentication match", New(CodeAuthenticationMalformed, "garbage"), IsAuthentication, true},
		{"key unavailable is authentication", New(CodeKeyUnavailable, "no key"), IsAuthentication, true},
		{"authorization match", Forbidden("no role"), IsAuthorization, true},
		{"not found match", New(CodeNotFound, "missing"), IsNotFound, true},
		{"internal match", Internal("boom"), IsInternal, true},
		{"unavailable match", New(CodeUnavailableDependency, "down"), IsUnavailable, true},
		{"timeout match", Timeout("slow"), IsTimeout, true},
		{"category mismatch", Validation("bad"), IsAuthentication, false},
		{"plain error", stderrors.New("plain"), IsAuthentication, false},
		{"nil", nil, IsValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestIsKeyUnavailable(t *testing.T) {
	assert.True(t, IsKeyUnavailable(New(CodeKeyUnavailable, "rotation broke")))
	assert.False(t, IsKeyUnavailable(New(CodeAuthenticationInvalid, "bad signature")))
}

func TestIsConfiguration(t *testing.T) {
	assert.True(t, IsConfiguration(New(CodeInternalConfiguration, "no verification source")))
	assert.False(t, IsConfiguration(Internal("other")))
}

func TestFromError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, FromError(nil))
	})

	t.Run("already coded", func(t *testing.T) {
		orig := New(CodeAuthenticationExpired, "expired")
		assert.Same(t, orig, FromError(orig))
	})

	t.Run("plain becomes internal", func(t *testing.T) {
		e := FromError(stderrors.New("surprise"))
		assert.Equal(t, CodeInternal, e.Code)
	})
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, CodeValidation, Validationf("field %q", "x").Code)
	assert.Equal(t, CodeAuthentication, Unauthorized("no").Code)
	assert.Equal(t, CodeAuthorizationDenied, Forbidden("no").Code)
	assert.Equal(t, CodeUnavailable, Unavailable("down").Code)
	assert.Equal(t, CodeTimeout, Timeout("slow").Code)
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, CodeInternal, "ignored %d", 1))

	wrapped := Wrapf(stderrors.New("io"), CodeUnavailableDependency, "fetch %s", "jwks")
	assert.Equal(t, "UNAVAIL_002: fetch jwks: io", wrapped.Error())
}
