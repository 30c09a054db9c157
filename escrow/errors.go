package escrow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of escrow failures. Provider
// error text is matched once, here, so callers branch on kinds instead
// of re-guessing message substrings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindWalletUnavailable
	KindUserRejected
	KindInsufficientFunds
	KindWrongAccount
	KindInvalidAddress
	KindOnChainState
	KindNotMined
	KindRPC
)

func (k ErrorKind) String() string {
	switch k {
	case KindWalletUnavailable:
		return "WalletUnavailable"
	case KindUserRejected:
		return "UserRejected"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindWrongAccount:
		return "WrongAccount"
	case KindInvalidAddress:
		return "InvalidAddress"
	case KindOnChainState:
		return "OnChainState"
	case KindNotMined:
		return "NotMined"
	case KindRPC:
		return "RPC"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an escrow error chain, KindUnknown for
// anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// classify maps raw provider/node error text to a kind. This is the
// only place message matching is allowed.
func classify(err error, fallback ErrorKind) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return KindInsufficientFunds
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "user rejected"), strings.Contains(msg, "request rejected"):
		return KindUserRejected
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return KindWalletUnavailable
	default:
		return fallback
	}
}
