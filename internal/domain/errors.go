package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindBalance
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBalance:
		return "balance"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the ledger core. Two errors are
// equal under errors.Is when their codes match, so the package-level values
// below work as sentinels while carrying request-specific messages.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidPlanType      = &Error{Kind: KindValidation, Code: "InvalidPlanType"}
	ErrInvalidAmount        = &Error{Kind: KindValidation, Code: "InvalidAmount"}
	ErrInvalidDate          = &Error{Kind: KindValidation, Code: "InvalidDate"}
	ErrMissingField         = &Error{Kind: KindValidation, Code: "MissingField"}
	ErrInvalidField         = &Error{Kind: KindValidation, Code: "InvalidField"}
	ErrUnknownInstallment   = &Error{Kind: KindValidation, Code: "UnknownInstallment"}
	ErrSubscriptionRequired = &Error{Kind: KindValidation, Code: "SubscriptionRequired"}

	ErrStudentNotFound = &Error{Kind: KindNotFound, Code: "StudentNotFound"}
	ErrLedgerNotFound  = &Error{Kind: KindNotFound, Code: "LedgerNotFound"}
	ErrExportNotFound  = &Error{Kind: KindNotFound, Code: "ExportNotFound"}

	ErrAlreadyPaid      = &Error{Kind: KindConflict, Code: "AlreadyPaid"}
	ErrDuplicateLedger  = &Error{Kind: KindConflict, Code: "DuplicateLedger"}
	ErrStaleLedger      = &Error{Kind: KindConflict, Code: "StaleLedger"}
	ErrSubscriptionOpen = &Error{Kind: KindConflict, Code: "SubscriptionExists"}
	ErrRequestInFlight  = &Error{Kind: KindConflict, Code: "RequestInFlight"}

	ErrAmountExceedsBalance = &Error{Kind: KindBalance, Code: "AmountExceedsBalance"}
	ErrZeroFeeLedger        = &Error{Kind: KindBalance, Code: "ZeroFeeLedger"}

	ErrCounterUnavailable = &Error{Kind: KindInternal, Code: "CounterUnavailable"}
)

// Errorf derives a request-specific error from one of the sentinels above.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a sentinel.
func Wrap(base *Error, err error, message string) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: message, Err: err}
}

// KindOf reports the kind of err, treating anything foreign as internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
