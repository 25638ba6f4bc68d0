package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline exceeded", context.DeadlineExceeded, CodeLLMTimeout},
		{"wrapped deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), CodeLLMTimeout},
		{"timeout in message", stderrors.New("upstream request timeout"), CodeLLMTimeout},
		{"canceled", context.Canceled, CodeAborted},
		{"abort in message", stderrors.New("AbortError: the operation was aborted"), CodeAborted},
		{"generic", stderrors.New("bad gateway"), CodeLLMFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got == nil {
				t.Fatal("Classify returned nil")
			}
			if got.Code != tt.want {
				t.Errorf("Classify(%v).Code = %s, want %s", tt.err, got.Code, tt.want)
			}
			if got.Reason != tt.err.Error() {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.err.Error())
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestClassify_PassesThroughStreamError(t *testing.T) {
	orig := NewUnauthorizedStreamError("session mismatch")
	got := Classify(fmt.Errorf("wrap: %w", orig))
	if got != orig {
		t.Errorf("Classify should return the wrapped StreamError, got %+v", got)
	}
}

func TestAPIError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		msg := NewNotFoundError("search not found").Error()
		for _, s := range []string{"not_found_error", "search not found", "404"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error message %q should contain %q", msg, s)
			}
		}
	})

	t.Run("status codes", func(t *testing.T) {
		tests := []struct {
			err  *APIError
			want int
		}{
			{NewUnauthorizedError("x"), http.StatusUnauthorized},
			{NewInvalidRequestError("x"), http.StatusBadRequest},
			{NewRateLimitError("x"), http.StatusTooManyRequests},
			{NewServiceUnavailableError("x"), http.StatusServiceUnavailable},
			{NewInternalError("x"), http.StatusInternalServerError},
			{&APIError{}, http.StatusInternalServerError},
		}
		for _, tt := range tests {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		}
	})
}
