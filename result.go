package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

// AuthError is the failure half of a Result
type AuthError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// Result is the success/failure envelope returned by every fallible port
// operation. Exactly one of Data (when Success) or Error is meaningful.
type Result[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *AuthError `json:"error,omitempty"`
}

// Ok wraps data in a successful Result
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed Result from any error, deriving the code with CodeOf.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = ErrUnknown
	}

	message := err.Error()
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		message = richErr.Message
	}

	return Result[T]{
		Error: &AuthError{
			Code:    CodeOf(err),
			Message: message,
		},
	}
}

// FailWith builds a failed Result with an explicit code and message
func FailWith[T any](code ErrorCode, message string) Result[T] {
	return Result[T]{Error: &AuthError{Code: code, Message: message}}
}

// Forward re-types a failed Result, keeping its error verbatim.
func Forward[T, U any](r Result[U]) Result[T] {
	if r.Error == nil {
		return FailWith[T](CodeUnknown, "operation failed")
	}
	return Result[T]{Error: &AuthError{Code: r.Error.Code, Message: r.Error.Message}}
}

// Code returns the failure code, or an empty code on success
func (r Result[T]) Code() ErrorCode {
	if r.Success || r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// Err converts a failed Result into a rich error, nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return NewError(CodeUnknown, "")
	}
	return NewError(r.Error.Code, r.Error.Message)
}

// Unwrap returns the data and the error in Go style
func (r Result[T]) Unwrap() (T, error) {
	return r.Data, r.Err()
}
