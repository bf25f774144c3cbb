package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	t.Run("returns the code of a typed error", func(t *testing.T) {
		err := New(ErrCodeConflict, "already linked")
		if Code(err) != ErrCodeConflict {
			t.Errorf("expected CONFLICT, got %s", Code(err))
		}
	})

	t.Run("walks the chain through fmt wrapping", func(t *testing.T) {
		inner := New(ErrCodeNotFound, "order missing")
		outer := fmt.Errorf("loading order: %w", inner)
		if Code(outer) != ErrCodeNotFound {
			t.Errorf("expected NOT_FOUND through the chain, got %s", Code(outer))
		}
	})

	t.Run("defaults untyped errors to internal", func(t *testing.T) {
		if Code(stderrors.New("boom")) != ErrCodeInternal {
			t.Error("expected INTERNAL for plain errors")
		}
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil cause yields nil", func(t *testing.T) {
		if err := Wrap(nil, ErrCodeInternal, "query failed"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("keeps the cause reachable", func(t *testing.T) {
		cause := stderrors.New("connection reset")
		err := Wrap(cause, ErrCodeInternal, "query failed")
		if !stderrors.Is(err, cause) {
			t.Error("expected the cause in the chain")
		}
		if Code(err) != ErrCodeInternal {
			t.Errorf("expected INTERNAL, got %s", Code(err))
		}
	})
}

func TestHelpers(t *testing.T) {
	err := NotFound("payment_order", "abc")
	if err.Error() != "NOT_FOUND: payment_order 'abc' not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	verr := InvalidInput("bank_id", "target bank is required")
	if !HasCode(verr, ErrCodeValidation) {
		t.Errorf("expected VALIDATION, got %s", Code(verr))
	}
	if HasCode(nil, ErrCodeValidation) {
		t.Error("nil carries no code")
	}
}
