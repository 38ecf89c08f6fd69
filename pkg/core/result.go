package core

import "time"

// Result is the outcome of decoding one response body. Exactly one of Data
// (when Err is nil) or Err is meaningful. Results are not modified after the
// decoder returns them.
type Result[T any] struct {
	Data T
	// OriginalData holds the raw payload when it was requested.
	OriginalData string
	// ResponseTime is the request round trip, zero when unknown.
	ResponseTime  time.Duration
	CorrelationID int64
	Err           *DeserializeError
}

// Success wraps a decoded value.
func Success[T any](data T) Result[T] {
	return Result[T]{Data: data}
}

// Failure wraps a decoding error.
func Failure[T any](err *DeserializeError) Result[T] {
	return Result[T]{Err: err, CorrelationID: err.CorrelationID}
}

// FailureAs carries the failure of r over to a result of another type.
func FailureAs[U, T any](r Result[T]) Result[U] {
	return Result[U]{
		Err:           r.Err,
		OriginalData:  r.OriginalData,
		ResponseTime:  r.ResponseTime,
		CorrelationID: r.CorrelationID,
	}
}

// OK reports whether decoding succeeded.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// AsError returns the failure as an error, or nil on success.
func (r Result[T]) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Unwrap returns the decoded value and the failure, if any.
func (r Result[T]) Unwrap() (T, error) {
	return r.Data, r.AsError()
}
