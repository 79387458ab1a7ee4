package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewStoreError(t *testing.T) {
	if NewStoreError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if err := NewStoreError("op", fmt.Errorf("wrapped: %w", ErrNotFound)); !errors.Is(err, ErrNotFound) || ErrorCode(err) != CodeNotFound {
		t.Fatalf("not found must pass through, got %v", err)
	}
	inner := NewStoreError("inner", errUnavailable)
	if outer := NewStoreError("outer", inner); outer != inner {
		t.Fatalf("store errors must not be double wrapped: %v", outer)
	}
	if got := inner.Error(); got != "store inner: connection refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"":             nil,
		CodeNotFound:   ErrNotFound,
		CodeValidation: invalid("owner", "required"),
		CodeStore:      &StoreError{Op: "x", Err: errUnavailable},
		CodeInternal:   errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestValidateUser(t *testing.T) {
	if err := ValidateUser(UserProfile{Email: "a@b.io", Name: "A"}); err != nil {
		t.Fatalf("valid user rejected: %v", err)
	}
	err := ValidateUser(UserProfile{Email: "not-an-email"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "email" {
		t.Fatalf("expected email validation error, got %v", err)
	}
	if err := ValidateUser(UserProfile{Email: "a@b.io", PhotoURL: "::"}); ErrorCode(err) != CodeValidation {
		t.Fatalf("expected photo url rejection, got %v", err)
	}
}
