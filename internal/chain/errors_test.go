package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", Transient(fmt.Errorf("boom")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancel", context.Canceled, false},
		{"rate limit text", fmt.Errorf("429 too many requests"), true},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"bad gateway", fmt.Errorf("unexpected status 502"), true},
		{"plain error", fmt.Errorf("invalid argument"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestTransientNilPassthrough(t *testing.T) {
	if Transient(nil) != nil {
		t.Fatalf("Transient(nil) should be nil")
	}
}

func TestTransientUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	wrapped := Transient(inner)

	var te *TransientError
	if !errors.As(wrapped, &te) {
		t.Fatalf("expected *TransientError")
	}
	if te.Unwrap() != inner {
		t.Fatalf("unwrap mismatch")
	}
}
