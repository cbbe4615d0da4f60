package errors_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/chatquiz/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantCode errors.Code
		wantHTTP int
	}{
		"coded error is returned as is": {
			err:      errors.New(errors.CodeNotFound, errors.WithMessagef("quiz %q not found", "x")),
			wantCode: errors.CodeNotFound,
			wantHTTP: http.StatusNotFound,
		},
		"wrapped coded error is unwrapped": {
			err:      fmt.Errorf("init: %w", errors.New(errors.CodePermissionDenied)),
			wantCode: errors.CodePermissionDenied,
			wantHTTP: http.StatusForbidden,
		},
		"context cancellation is aborted": {
			err:      fmt.Errorf("wait: %w", context.Canceled),
			wantCode: errors.CodeAborted,
			wantHTTP: http.StatusConflict,
		},
		"unknown error is internal": {
			err:      fmt.Errorf("boom"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			e := errors.Convert(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			assert.Equal(t, codes.Code(tt.wantCode), status.Code(e))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("start: %w", errors.New(errors.CodeFailedPrecondition))

	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	assert.False(t, errors.Is(err, errors.CodeNotFound))
	assert.False(t, errors.Is(fmt.Errorf("plain"), errors.CodeInternal))
}
