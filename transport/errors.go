package transport

import (
	"errors"
	"fmt"
)

// Result classifies the outcome of a send or registration. Send and
// RegisterPeer share one taxonomy so callers handle both paths uniformly.
type Result uint8

const (
	// ResultOK means the operation succeeded.
	ResultOK Result = iota
	// ResultExists means the peer is already in the peer table.
	ResultExists
	// ResultNotInitialized means the transport is not running.
	ResultNotInitialized
	// ResultInvalidArgument means the address, channel or payload was rejected.
	ResultInvalidArgument
	// ResultInternal means the link failed to transmit.
	ResultInternal
	// ResultNoMemory means the transport ran out of buffers.
	ResultNoMemory
	// ResultNotFound means the peer is not in the peer table.
	ResultNotFound
	// ResultTableFull means the peer table has no free slot.
	ResultTableFull
	// ResultUnknown is any failure the transport could not classify.
	ResultUnknown
)

// Sentinel errors, one per failure Result, for use with errors.Is.
var (
	ErrExists          = errors.New("peer exists")
	ErrNotInitialized  = errors.New("transport not initialized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal link error")
	ErrNoMemory        = errors.New("out of memory")
	ErrNotFound        = errors.New("peer not found")
	ErrTableFull       = errors.New("peer table full")
	ErrUnknown         = errors.New("unknown transport error")
)

var resultNames = [...]string{
	ResultOK:              "ok",
	ResultExists:          "exists",
	ResultNotInitialized:  "not_initialized",
	ResultInvalidArgument: "invalid_argument",
	ResultInternal:        "internal",
	ResultNoMemory:        "no_memory",
	ResultNotFound:        "not_found",
	ResultTableFull:       "table_full",
	ResultUnknown:         "unknown",
}

// String returns the snake_case name used in logs and metric attributes.
func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Fatal reports whether r means the transport itself is unusable, as
// opposed to a per-peer or per-datagram failure worth retrying.
func (r Result) Fatal() bool {
	return r == ResultNotInitialized
}

// Sentinel returns the sentinel error for r, nil for ResultOK.
func (r Result) Sentinel() error {
	switch r {
	case ResultOK:
		return nil
	case ResultExists:
		return ErrExists
	case ResultNotInitialized:
		return ErrNotInitialized
	case ResultInvalidArgument:
		return ErrInvalidArgument
	case ResultInternal:
		return ErrInternal
	case ResultNoMemory:
		return ErrNoMemory
	case ResultNotFound:
		return ErrNotFound
	case ResultTableFull:
		return ErrTableFull
	default:
		return ErrUnknown
	}
}

// Error is the tagged error returned by every Transport operation.
type Error struct {
	// Op is the operation that failed: "send", "register" or "scan".
	Op string

	// Result classifies the failure.
	Result Result

	// Addr is the peer involved, zero for scans.
	Addr Addr

	// Err is the underlying cause, if any.
	Err error
}

// NewError builds an *Error.
func NewError(op string, result Result, addr Addr, cause error) *Error {
	return &Error{Op: op, Result: result, Addr: addr, Err: cause}
}

// Error implements error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Addr, e.Result.Sentinel())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the Result sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Result.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Fatal reports whether the failure means the transport is unusable.
func (e *Error) Fatal() bool {
	return e.Result.Fatal()
}

// ResultOf classifies any error: nil is ResultOK, an *Error carries its own
// Result, and anything else is ResultUnknown.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Result
	}
	return ResultUnknown
}
