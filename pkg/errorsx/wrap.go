package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a reason code next to the error chain so observers
// can tag failures without string matching.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with reason. The innermost reason wins, so a restart that
// fails on a send keeps reporting the send.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if _, ok := reasoned(err); ok {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Newf builds "<sentinel>: <detail>" tagged with reason. errors.Is matches
// the sentinel.
func Newf(sentinel error, reason ReasonCode, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return ReasonedError{Err: fmt.Errorf("%w: %s", sentinel, detail), Reason: reason}
}

// Reason returns the reason code attached to err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	if re, ok := reasoned(err); ok {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

func reasoned(err error) (ReasonedError, bool) {
	var re ReasonedError
	if err == nil || !errors.As(err, &re) {
		return ReasonedError{}, false
	}
	return re, true
}
