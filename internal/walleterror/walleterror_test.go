package walleterror

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := New(BadAddress, errors.New("not a valid address"))
	wrapped := fmt.Errorf("createAddress: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatalf("expected to find a Kind in wrapped error")
	}
	if kind != BadAddress {
		t.Fatalf("got kind %v, want %v", kind, BadAddress)
	}
}

func TestKindOfNoKind(t *testing.T) {
	if _, ok := KindOf(errors.New("plain error")); ok {
		t.Fatalf("expected no Kind in a plain error")
	}
}

func TestClassification(t *testing.T) {
	cases := map[Kind]Class{
		BadAddress:          ClassValidation,
		ZeroDestination:     ClassValidation,
		AlreadyInitialized:  ClassStateMachine,
		TxCancelImpossible:  ClassStateMachine,
		NodeError:           ClassTransport,
		Interrupted:         ClassTransport,
		InternalWalletError: ClassFatal,
	}
	for kind, want := range cases {
		if got := kind.Class(); got != want {
			t.Errorf("%v.Class() = %v, want %v", kind, got, want)
		}
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := New(WrongAmount, errors.New("amount exceeds available balance"))
	want := "wrong amount: amount exceeds available balance"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
