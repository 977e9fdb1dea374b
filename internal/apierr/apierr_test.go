package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unauthorized", err: Unauthorized(errors.New("no token")), want: http.StatusUnauthorized},
		{name: "invalid_argument", err: InvalidArgument(errors.New("bad shape")), want: http.StatusBadRequest},
		{name: "not_found", err: NotFound(errors.New("missing")), want: http.StatusNotFound},
		{name: "internal", err: Internal(errors.New("boom")), want: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFound(errors.New("missing"))), want: http.StatusNotFound},
		{name: "plain", err: errors.New("anything"), want: http.StatusInternalServerError},
		{name: "nil", err: nil, want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusOf(tc.err); got != tc.want {
				t.Fatalf("StatusOf: got=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestErrorMessagePrecedence(t *testing.T) {
	if got := New(400, "invalid_argument", errors.New("cart must be an array")).Error(); got != "cart must be an array" {
		t.Fatalf("wrapped message: %q", got)
	}
	if got := New(400, "invalid_argument", nil).Error(); got != "invalid_argument" {
		t.Fatalf("code fallback: %q", got)
	}
	if got := New(418, "", nil).Error(); got != "api error (418)" {
		t.Fatalf("status fallback: %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("row missing")
	err := NotFound(inner)
	if !errors.Is(err, inner) {
		t.Fatal("expected errors.Is to reach the wrapped error")
	}
}
