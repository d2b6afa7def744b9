package transport

import (
	"errors"
	"fmt"
	"slices"
)

// Transport error codes produced by the adapters in this repository.
const (
	CodeUnknown            = 1
	CodeNetwork            = 2
	CodeNotLoggedIn        = 3
	CodeInvalidTarget      = 4
	CodeTimeout            = 5
	CodeAlreadyDelivered   = 10
	CodeDeliveredElsewhere = 11
)

// DefaultBenignCodes are the codes meaning the message already reached the
// peer through another path.
var DefaultBenignCodes = []int{CodeAlreadyDelivered, CodeDeliveredElsewhere}

// Error is a failure reported by the transport.
type Error struct {
	Code int
	Desc string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error %d: %s: %v", e.Code, e.Desc, e.Err)
	}
	return fmt.Sprintf("transport error %d: %s", e.Code, e.Desc)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error around err.
func Wrap(code int, desc string, err error) *Error {
	return &Error{Code: code, Desc: desc, Err: err}
}

// CodeOf extracts the transport code from err, CodeUnknown when err is not a
// transport error and 0 for nil.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeUnknown
}

// IsBenign reports whether err carries a code from the allow-list.
func IsBenign(err error, allow []int) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return slices.Contains(allow, te.Code)
}
