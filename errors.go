package calcmq

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the calcmq protocol
const (
	ErrCodeNotConnected         = "CALCMQ_NOT_CONNECTED"
	ErrCodeDisposed             = "CALCMQ_DISPOSED"
	ErrCodeDivisionByZero       = "CALCMQ_DIVISION_BY_ZERO"
	ErrCodeUnsupportedOperation = "CALCMQ_UNSUPPORTED_OPERATION"
	ErrCodeDecode               = "CALCMQ_DECODE"
	ErrCodeTransport            = "CALCMQ_TRANSPORT"
	ErrCodeTimeout              = "CALCMQ_TIMEOUT"
	ErrCodeShutdownTimeout      = "CALCMQ_SHUTDOWN_TIMEOUT"
	ErrCodeConfig               = "CALCMQ_CONFIG"
	ErrCodeServiceNotFound      = "CALCMQ_SERVICE_NOT_FOUND"
)

// DivisionByZeroMessage is the error message carried by responses to a
// division whose divisor is exactly zero.
const DivisionByZeroMessage = "Division by zero is not allowed"

// InternalErrorMessage is the error message of the failure response sent when
// dispatching a request fails for a reason other than the arithmetic itself.
const InternalErrorMessage = "Internal server error occurred while processing the request"

func newNotConnectedError(op string) *errors.Error {
	return errors.New(ErrCodeNotConnected, "not connected to queue manager").
		WithContext("operation", op).
		WithSeverity("error")
}

func newDisposedError(op string) *errors.Error {
	return errors.New(ErrCodeDisposed, "connection has been disposed").
		WithContext("operation", op).
		WithSeverity("error")
}

func newDivisionByZeroError(dividend float64) *errors.Error {
	return errors.New(ErrCodeDivisionByZero, DivisionByZeroMessage).
		WithContext("dividend", dividend).
		WithSeverity("warning")
}

func newUnsupportedOperationError(op Operation) *errors.Error {
	return errors.New(ErrCodeUnsupportedOperation, "unsupported operation: "+string(op)).
		WithContext("operation", string(op)).
		WithSeverity("error")
}

func newDecodeError(what string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeDecode, "failed to decode "+what).
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeDecode, "failed to decode "+what).
		WithSeverity("error")
}

func newTransportError(op, queue string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeTransport, "transport "+op+" failed").
		WithContext("queue", queue).
		WithSeverity("error").
		AsRetryable()
}

func newShutdownTimeoutError(grace string) *errors.Error {
	return errors.New(ErrCodeShutdownTimeout, "consumer did not stop within grace period").
		WithContext("grace", grace).
		WithSeverity("error")
}

func newConfigError(field, reason string) *errors.Error {
	return errors.New(ErrCodeConfig, "invalid configuration: "+field+" "+reason).
		WithContext("field", field).
		WithSeverity("error")
}

func newServiceNotFoundError(serviceID string) *errors.Error {
	return errors.New(ErrCodeServiceNotFound, "service not found: "+serviceID).
		WithContext("service_id", serviceID).
		WithSeverity("error")
}

// HasCode reports whether err, or an error it wraps, is a calcmq error with
// the given code.
func HasCode(err error, code string) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return false
	}
	return string(e.Code) == code
}
