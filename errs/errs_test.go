package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("rest/request", CodeNetwork,
		WithHTTP(502),
		WithMessage("upstream unavailable"),
		WithRawCode("50000"),
		WithCause(cause),
	)

	got := err.Error()
	for _, want := range []string{
		"op=rest/request",
		"code=network",
		"http=502",
		`message="upstream unavailable"`,
		`raw_code="50000"`,
		`cause="connection reset"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("error string %q missing %q", got, want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New("book/bootstrap", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	inner := New("transport/read", CodeNetwork)
	wrapped := fmt.Errorf("stream loop: %w", inner)
	if code := CodeOf(wrapped); code != CodeNetwork {
		t.Fatalf("expected network code, got %q", code)
	}
	if code := CodeOf(errors.New("plain")); code != "" {
		t.Fatalf("expected empty code for foreign error, got %q", code)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code Code
		want bool
	}{
		{CodeNetwork, true},
		{CodeUnavailable, true},
		{CodeExchange, false},
		{CodeInvalid, false},
		{CodeSequenceGap, false},
	}
	for _, tc := range cases {
		err := New("test", tc.code)
		if got := IsRetryable(err); got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if IsRetryable(nil) {
		t.Fatal("nil error must not be retryable")
	}
}
