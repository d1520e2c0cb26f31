package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass tells a caller what it can do about a failure
type ErrorClass int

const (
	// ErrorTransient may succeed if tried again later
	ErrorTransient ErrorClass = iota
	// ErrorInvalid will fail again until the request or config changes
	ErrorInvalid
	// ErrorFatal means the component cannot continue
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (c ErrorClass) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return "unknown"
	}
	return classNames[c]
}

type sentinel struct {
	err   error
	kind  string
	class ErrorClass
}

var sentinels []sentinel

// define creates a sentinel with its stable kind name and default class
func define(msg, kind string, class ErrorClass) error {
	err := errors.New(msg)
	sentinels = append(sentinels, sentinel{err: err, kind: kind, class: class})
	return err
}

// Canvas bring-up
var (
	ErrContainerNotFound = define("container not found", "ContainerNotFound", ErrorFatal)
	ErrGraphInitFailed   = define("graph init failed", "GraphInitFailed", ErrorFatal)
	ErrNotReady          = define("canvas not ready", "NotReady", ErrorTransient)
)

// Rejected requests
var (
	ErrInvalidArgument      = define("invalid argument", "InvalidArgument", ErrorInvalid)
	ErrNodeNotFound         = define("node not found", "NodeNotFound", ErrorInvalid)
	ErrSelfLoop             = define("self loop", "SelfLoop", ErrorInvalid)
	ErrDuplicatePreviewLine = define("duplicate preview line", "DuplicatePreviewLine", ErrorInvalid)
	ErrLimitExceeded        = define("limit exceeded", "LimitExceeded", ErrorInvalid)
	ErrNotFound             = define("not found", "NotFound", ErrorInvalid)
	ErrValidationFailed     = define("validation failed", "ValidationFailed", ErrorInvalid)
	ErrProtected            = define("protected", "Protected", ErrorInvalid)
	ErrConflict             = define("version conflict", "Conflict", ErrorInvalid)
)

// Event pipeline
var (
	ErrHandlerTimeout = define("handler timeout", "HandlerTimeout", ErrorTransient)
	ErrQueueFull      = define("queue full", "QueueFull", ErrorTransient)
	ErrBusy           = define("operation already in progress", "Busy", ErrorTransient)
)

// Configuration and storage
var (
	ErrInvalidConfig      = define("invalid configuration", "InvalidConfig", ErrorFatal)
	ErrStorageUnavailable = define("storage unavailable", "StorageUnavailable", ErrorTransient)
	ErrDataCorrupted      = define("data corrupted", "DataCorrupted", ErrorFatal)
)

func lookup(err error) (sentinel, bool) {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s, true
		}
	}
	return sentinel{}, false
}

// Kind names the sentinel err wraps, as carried in event payloads and
// gateway error bodies. It is "" for errors without one.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	s, _ := lookup(err)
	return s.kind
}

// ClassifiedError carries an explicit class and where the failure happened
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (e *ClassifiedError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Class.String() + " error"
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify decides the class of err. An explicit ClassifiedError wins, then
// the class of a wrapped sentinel. Context expiry and network timeouts are
// transient. Anything else counts as transient too, since a caller cannot
// tell it apart from a passing fault.
func Classify(err error) ErrorClass {
	class, _ := classOf(err)
	return class
}

// classOf also reports whether the class was known rather than assumed
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	if s, ok := lookup(err); ok {
		return s.class, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient, true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTransient, true
	}
	return ErrorTransient, false
}

// IsTransient reports errors known to be worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	class, known := classOf(err)
	return known && class == ErrorTransient
}

// IsInvalid reports errors caused by the request or configuration
func IsInvalid(err error) bool {
	return err != nil && Classify(err) == ErrorInvalid
}

// IsFatal reports errors the component cannot recover from
func IsFatal(err error) bool {
	return err != nil && Classify(err) == ErrorFatal
}

// Wrap adds context in the form "component.method: action failed: cause"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func classify(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as retryable
func WrapTransient(err error, component, method, action string) error {
	return classify(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as a rejected request
func WrapInvalid(err error, component, method, action string) error {
	return classify(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as unrecoverable
func WrapFatal(err error, component, method, action string) error {
	return classify(ErrorFatal, err, component, method, action)
}

// Newf wraps sentinel with a formatted detail:
// Newf(ErrNodeNotFound, "node %s", id) reads "node not found: node n1".
func Newf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
