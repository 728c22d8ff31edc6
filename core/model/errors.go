package model

import (
	"errors"
	"fmt"
)

type ErrorKind int8

const (
	KindUnknown ErrorKind = iota
	KindProviderUnavailable
	KindDisconnected
	KindNetworkChanged
	KindUserRejected
	KindCancelled
	KindValidation
	KindEstimation
	KindContractRevert
	KindRpc
)

func (kind ErrorKind) String() string {
	messages := map[ErrorKind]string{
		KindUnknown:             "Unknown error",
		KindProviderUnavailable: "Wallet provider unavailable",
		KindDisconnected:        "Wallet disconnected",
		KindNetworkChanged:      "Network changed",
		KindUserRejected:        "Rejected by user",
		KindCancelled:           "Cancelled",
		KindValidation:          "Validation failed",
		KindEstimation:          "Gas estimation failed",
		KindContractRevert:      "Contract reverted",
		KindRpc:                 "RPC error",
	}

	msg, ok := messages[kind]
	if !ok {
		return "Unrecognized error kind"
	}
	return msg
}

// Fatal reports whether the kind requires the session to be rebuilt before
// any further action can succeed.
func (kind ErrorKind) Fatal() bool {
	switch kind {
	case KindProviderUnavailable, KindDisconnected, KindNetworkChanged:
		return true
	}
	return false
}

// Benign reports whether the kind was a user decision rather than a fault.
func (kind ErrorKind) Benign() bool {
	return kind == KindUserRejected || kind == KindCancelled
}

// Error is the failure type surfaced by the connector, the session and the
// orchestrator. Two errors match under errors.Is when their kinds match.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrDisconnected        = &Error{Kind: KindDisconnected}
	ErrNetworkChanged      = &Error{Kind: KindNetworkChanged}
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrEstimation          = &Error{Kind: KindEstimation}
	ErrContractRevert      = &Error{Kind: KindContractRevert}
	ErrRpc                 = &Error{Kind: KindRpc}

	ErrNotConnected          = errors.New("session not connected")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotOwner              = errors.New("item not owned by identity")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrTransferToSelf        = errors.New("transfer to self")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrEmptyDescription      = errors.New("description is empty")
)

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Validationf builds a KindValidation error wrapping cause.
func Validationf(op string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Reason: fmt.Sprintf(format, args...), Err: cause}
}
