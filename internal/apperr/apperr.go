// Package apperr defines the single tagged error type shared by every layer
// of the client. Errors are constructed once, at the boundary that detects
// the condition, and inspected upstream with errors.As or the helpers below.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

// Error kinds.
const (
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindTransport        Kind = "transport"
	KindPartialBatch     Kind = "partial_batch"
)

// Class is the HTTP-derived status class of a transport error.
type Class string

// Transport classes.
const (
	ClassClient  Class = "client"
	ClassServer  Class = "server"
	ClassNetwork Class = "network"
)

// Error is the tagged error value.
type Error struct {
	Kind Kind
	// Class and Status are set for KindTransport. Status is 0 for network errors.
	Class  Class
	Status int
	// Resource is set for KindPermissionDenied.
	Resource string
	// Field is set for KindValidation when a single input is at fault.
	Field string
	// Succeeded and Attempted are set for KindPartialBatch.
	Succeeded int
	Attempted int
	Message   string
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		if e.Status > 0 {
			return fmt.Sprintf("%s error (status %d): %s", e.Class, e.Status, e.Message)
		}
		return fmt.Sprintf("%s error: %s", e.Class, e.Message)
	case KindPartialBatch:
		return fmt.Sprintf("%s (%d of %d succeeded)", e.Message, e.Succeeded, e.Attempted)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport builds a transport error of the given class.
func Transport(class Class, status int, message string, err error) *Error {
	return &Error{Kind: KindTransport, Class: class, Status: status, Message: message, Err: err}
}

// ClassForStatus maps an HTTP status code to a transport class.
func ClassForStatus(status int) Class {
	switch {
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	default:
		return ClassNetwork
	}
}

// Validation builds a local pre-flight validation error.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// PermissionDenied builds a denial error for a device resource.
func PermissionDenied(resource, message string) *Error {
	return &Error{Kind: KindPermissionDenied, Resource: resource, Message: message}
}

// PartialBatch reports a batch that stopped at its first failure.
func PartialBatch(succeeded, attempted int, cause error) *Error {
	msg := "batch stopped at first failure"
	if cause != nil {
		msg = "batch stopped at first failure: " + Message(cause)
	}
	return &Error{Kind: KindPartialBatch, Succeeded: succeeded, Attempted: attempted, Message: msg, Err: cause}
}

// As returns the tagged error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the tagged error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsPermissionDenied reports whether err is a permission denial.
func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }

// IsTransport reports whether err came from the remote service boundary.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsNotFound reports whether err is a transport error with status 404.
func IsNotFound(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == KindTransport && e.Status == 404
}

// Message returns the user-visible message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
