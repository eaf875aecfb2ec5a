package retry

import (
	"errors"
	"time"
)

// Result is the uniform envelope every remote-facing operation returns.
// Expected failures travel here instead of panicking or being raised.
type Result[T any] struct {
	Success   bool
	Value     T
	Error     string
	Critical  bool
	Timestamp time.Time
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Success: true, Value: v, Timestamp: time.Now()}
}

func Fail[T any](err error) Result[T] {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result[T]{Error: msg, Timestamp: time.Now()}
}

// Failf is Fail with a payload, for failures that still carry diagnostics.
func Failf[T any](v T, err error) Result[T] {
	r := Fail[T](err)
	r.Value = v
	return r
}

// Err returns nil for a successful result and the carried message otherwise.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return errors.New(r.Error)
}
