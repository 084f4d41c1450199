package versioning

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	NoErrCode       ErrorCode = ""
	ErrCodeSchema   ErrorCode = "schema"
	ErrCodeIdentity ErrorCode = "identity"
	ErrCodeNotFound ErrorCode = "not-found"
	ErrCodeRestore  ErrorCode = "restore"
)

// Error is returned for failures that the engine detects itself. Errors
// from the store are never wrapped in an Error.
type Error struct {
	cause error
	code  ErrorCode
	msg   string
}

func Errorf(code ErrorCode, format string, a ...any) error {
	e := fmt.Errorf(format, a...)

	return Error{
		cause: errors.Unwrap(e),
		code:  code,
		msg:   e.Error(),
	}
}

func (e Error) Error() string {
	return e.msg
}

func (e Error) Unwrap() error {
	return e.cause
}

func (e Error) Code() ErrorCode {
	return e.code
}

func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return NoErrCode
	}

	var e Error

	if errors.As(err, &e) {
		return e.code
	}

	return NoErrCode
}
