// Package errs classifies broker errors and maps them to in-band client results.
package errs

import (
	"errors"
	"fmt"

	"github.com/ghalamif/sensorhub/internal/domain"
)

// ErrorClass tells callers how to react to an error.
type ErrorClass int

const (
	// ErrorTransient may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid is caused by the caller's input.
	ErrorInvalid
	// ErrorFatal ends the current firmware generation.
	ErrorFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrProtocol          = errors.New("malformed client message")
	ErrResourceNotFound  = errors.New("resource not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrFirmwareIO        = errors.New("firmware channel i/o failed")
	ErrPersistence       = errors.New("calibration persistence failed")
	ErrCapacity          = errors.New("capacity exhausted")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrWrongResourceType = errors.New("action not supported on resource")
	ErrPropertyTooLarge  = errors.New("property request too large")
)

// ClassifiedError carries the class and origin of a wrapped error.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	if e.Component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s.%s: %v", e.Component, e.Operation, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Wrap annotates err with where it happened. The class is inferred from the sentinel it wraps.
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     classOf(err),
		Err:       fmt.Errorf("%s failed: %w", action, err),
		Component: component,
		Operation: operation,
	}
}

func WrapTransient(err error, component, operation, action string) error {
	return wrapAs(ErrorTransient, err, component, operation, action)
}

func WrapInvalid(err error, component, operation, action string) error {
	return wrapAs(ErrorInvalid, err, component, operation, action)
}

func WrapFatal(err error, component, operation, action string) error {
	return wrapAs(ErrorFatal, err, component, operation, action)
}

func wrapAs(class ErrorClass, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       fmt.Errorf("%s failed: %w", action, err),
		Component: component,
		Operation: operation,
	}
}

// Invalidf builds an invalid-argument error.
func Invalidf(format string, args ...any) error {
	return &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))}
}

// Capacityf builds a capacity error.
func Capacityf(format string, args ...any) error {
	return &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("%w: %s", ErrCapacity, fmt.Sprintf(format, args...))}
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return classOf(err)
}

func IsFatal(err error) bool     { return err != nil && Classify(err) == ErrorFatal }
func IsTransient(err error) bool { return err != nil && Classify(err) == ErrorTransient }
func IsInvalid(err error) bool   { return err != nil && Classify(err) == ErrorInvalid }

func classOf(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrProtocol),
		errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrWrongResourceType),
		errors.Is(err, ErrPropertyTooLarge):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// ResultCode maps err to the result code reported to a client.
func ResultCode(err error) domain.Result {
	switch {
	case err == nil:
		return domain.ResultOK
	case errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrSessionNotFound):
		return domain.ResultNotAvailable
	case errors.Is(err, ErrWrongResourceType):
		return domain.ResultWrongActionOnSensorType
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrProtocol):
		return domain.ResultWrongParameter
	case errors.Is(err, ErrPropertyTooLarge):
		return domain.ResultPropertyNotSupported
	case errors.Is(err, ErrCapacity):
		return domain.ResultNoCapacity
	case errors.Is(err, ErrFirmwareIO):
		return domain.ResultMessageNotSent
	default:
		return domain.ResultCanNotGetReply
	}
}
