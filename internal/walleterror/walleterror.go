// Package walleterror defines the closed set of error kinds the wallet
// core surfaces across its public boundary, modeled on the
// ClientErrorKind/ClientError pairing rivine's types package uses for its
// own boundary errors.
package walleterror

import (
	"fmt"

	"github.com/amjuarez/bytecoin-sub000/internal/xbuild"
)

// Kind enumerates the error codes the wallet engine, synchronizer and
// consumer can surface to a caller.
type Kind uint32

const (
	WrongPassword Kind = iota
	NotInitialized
	AlreadyInitialized
	Stopped
	OperationStopped
	IndexOutOfRange
	AddressNotFound
	BadAddress
	WrongAmount
	MixinCountTooBig
	FeeTooSmall
	ZeroDestination
	TransactionSizeTooBig
	DestinationAddressRequired
	TxTransferImpossible
	TxCancelImpossible
	InternalWalletError
	NodeError
	Interrupted

	maxKind = Interrupted
)

func (k Kind) String() string {
	switch k {
	case WrongPassword:
		return "wrong password"
	case NotInitialized:
		return "wallet not initialized"
	case AlreadyInitialized:
		return "wallet already initialized"
	case Stopped:
		return "wallet stopped"
	case OperationStopped:
		return "operation stopped"
	case IndexOutOfRange:
		return "index out of range"
	case AddressNotFound:
		return "address not found"
	case BadAddress:
		return "bad address"
	case WrongAmount:
		return "wrong amount"
	case MixinCountTooBig:
		return "mixin count too big"
	case FeeTooSmall:
		return "fee too small"
	case ZeroDestination:
		return "zero destination"
	case TransactionSizeTooBig:
		return "transaction size too big"
	case DestinationAddressRequired:
		return "destination address required"
	case TxTransferImpossible:
		return "transaction transfer impossible"
	case TxCancelImpossible:
		return "transaction cancel impossible"
	case InternalWalletError:
		return "internal wallet error"
	case NodeError:
		return "node error"
	case Interrupted:
		return "interrupted"
	default:
		return "???"
	}
}

// Class groups kinds by the handling discipline the caller should apply.
type Class int

const (
	// ClassValidation: surfaced synchronously, no state mutation.
	ClassValidation Class = iota
	// ClassStateMachine: surfaced synchronously, no state mutation.
	ClassStateMachine
	// ClassTransport: retriable; the triggering operation's effects may
	// be left pending for the caller to retry or roll back.
	ClassTransport
	// ClassFatal: the offending operation's effects are fully rolled
	// back; the wallet remains usable afterward.
	ClassFatal
)

func (k Kind) Class() Class {
	switch k {
	case BadAddress, ZeroDestination, WrongAmount, FeeTooSmall, MixinCountTooBig,
		DestinationAddressRequired, IndexOutOfRange, WrongPassword:
		return ClassValidation
	case AlreadyInitialized, NotInitialized, Stopped, TxTransferImpossible, TxCancelImpossible:
		return ClassStateMachine
	case NodeError, Interrupted, OperationStopped:
		return ClassTransport
	default:
		return ClassFatal
	}
}

// Error is the concrete error type carried across the wallet boundary,
// pairing a Kind with the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

// New builds an Error, panicking in debug builds if kind is outside the
// declared set (mirrors build.Severe's "should never happen" guard).
func New(kind Kind, err error) Error {
	if kind > maxKind {
		xbuild.Severe("invalid wallet error kind", kind, err)
		kind = InternalWalletError
	}
	return Error{Kind: kind, Err: err}
}

// Newf is a convenience wrapper building the cause with fmt.Errorf.
func Newf(kind Kind, format string, args ...interface{}) Error {
	return New(kind, fmt.Errorf(format, args...))
}

func (e Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a walleterror.Error of the given kind,
// enabling `errors.Is(err, walleterror.New(walleterror.BadAddress, nil))`-
// style checks as well as the more direct KindOf helper below.
func (e Error) Is(target error) bool {
	other, ok := target.(Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind carried by err, if any, and reports whether one
// was found.
func KindOf(err error) (Kind, bool) {
	var walletErr Error
	for err != nil {
		if we, ok := err.(Error); ok {
			walletErr = we
			return walletErr.Kind, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return 0, false
}
