package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platform "github.com/gatehouse-io/gatehouse/kit/platform/errors"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
		},
		{
			name: "simple error",
			err:  &platform.Error{Msg: "rule not found"},
			want: "rule not found",
		},
		{
			name: "message drawn from the wrapped error",
			err:  &platform.Error{Err: &platform.Error{Msg: "inner message"}},
			want: "inner message",
		},
		{
			name: "opaque error stays generic",
			err:  fmt.Errorf("pg: connection reset"),
			want: "An internal error has occurred.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, platform.ErrorMessage(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
		},
		{
			name: "explicit code",
			err:  &platform.Error{Code: platform.ENotFound},
			want: platform.ENotFound,
		},
		{
			name: "code drawn from the wrapped error",
			err:  &platform.Error{Err: &platform.Error{Code: platform.EConflict}},
			want: platform.EConflict,
		},
		{
			name: "opaque error maps to internal",
			err:  fmt.Errorf("any old thing"),
			want: platform.EInternal,
		},
		{
			name: "codeless chain maps to internal",
			err:  &platform.Error{Msg: "no code anywhere"},
			want: platform.EInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, platform.ErrorCode(tt.err))
		})
	}
}

func TestError_Error(t *testing.T) {
	err := &platform.Error{
		Msg: "failed to remove grant",
		Err: errors.New("connection refused"),
	}
	assert.Equal(t, "failed to remove grant: connection refused", err.Error())

	codeOnly := &platform.Error{Code: platform.EInvalid}
	assert.Equal(t, "<invalid>", codeOnly.Error())
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := &platform.Error{Code: platform.EInternal, Msg: "outer", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestError_JSONRoundTrip(t *testing.T) {
	original := &platform.Error{
		Code: platform.EInternal,
		Msg:  "permission store unavailable",
		Op:   "authorization.HasPermission",
		Err: &platform.Error{
			Code: platform.EUnavailable,
			Msg:  "dial tcp: refused",
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	decoded := new(platform.Error)
	require.NoError(t, json.Unmarshal(raw, decoded))

	assert.Equal(t, original.Code, decoded.Code)
	assert.Equal(t, original.Msg, decoded.Msg)
	assert.Equal(t, original.Op, decoded.Op)
	assert.Equal(t, platform.EUnavailable, platform.ErrorCode(decoded.Err))
}
