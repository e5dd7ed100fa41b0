package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	err := E(KindValidation, "bad input: %s", "amount")
	if !IsKind(err, KindValidation) {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if err.Error() != "bad input: amount" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapPreservesChain(t *testing.T) {
	inner := errors.New("disk full")
	err := Wrap(KindStorageFatal, inner, "failed to save %s", "journal_entries/e1")

	if !errors.Is(err, inner) {
		t.Error("wrapped cause lost from chain")
	}
	if !IsKind(err, KindStorageFatal) {
		t.Errorf("KindOf = %q", KindOf(err))
	}

	// A further fmt wrap still exposes the kind.
	outer := fmt.Errorf("request failed: %w", err)
	if !IsKind(outer, KindStorageFatal) {
		t.Error("kind lost through fmt.Errorf wrapping")
	}

	if Wrap(KindStorageFatal, nil, "ignored") != nil {
		t.Error("wrapping nil should stay nil")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindStorageTransient: true,
		KindConflict:         true,
		KindValidation:       false,
		KindNotFound:         false,
		KindStorageFatal:     false,
		KindIntegrity:        false,
		KindTenantViolation:  false,
	}
	for kind, want := range cases {
		if got := Retryable(E(kind, "x")); got != want {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
	if Retryable(errors.New("plain")) {
		t.Error("unkinded errors are not retryable")
	}
}
