package provider

import (
	"errors"
	"fmt"
)

// Error kinds. Every error crossing a component boundary wraps one of these.
var (
	ErrTransport   = errors.New("transport error")
	ErrAnalysis    = errors.New("analysis error")
	ErrPersistence = errors.New("persistence error")
	ErrLogic       = errors.New("logic error")
)

var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrBuildNotFound   = errors.New("build not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrNetworkTimeout  = errors.New("network timeout")
	ErrBuildInProgress = errors.New("build in progress")
)

// Error tags an underlying error with its kind and the failing operation.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transport marks a CI server communication failure.
func Transport(op string, err error) error { return wrap(ErrTransport, op, err) }

// Analysis marks an analyzer failure.
func Analysis(op string, err error) error { return wrap(ErrAnalysis, op, err) }

// Persistence marks a durable store failure.
func Persistence(op string, err error) error { return wrap(ErrPersistence, op, err) }

// Logic marks a remediation failure caused by malformed or unexpected data.
func Logic(op string, err error) error { return wrap(ErrLogic, op, err) }

// UserError wraps errors with user-friendly messages
type UserError struct {
	Message string
	Hint    string
	Err     error
}

func (e *UserError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n\nDetails: %v", e.Err)
	}
	return msg
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// WrapError converts API errors to user-friendly messages
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	if errors.Is(err, ErrInvalidURL) {
		return &UserError{
			Message: "Invalid build URL",
			Hint:    "Supported formats:\n  - https://jenkins.example.com/job/<name>/<number>/\n  - https://jenkins.example.com/job/<folder>/job/<name>/<number>/",
			Err:     err,
		}
	}

	if msg == "401 Unauthorized" || errors.Is(err, ErrAuthFailed) {
		return &UserError{
			Message: "Authentication failed",
			Hint:    "Check that your API token is valid and has the correct permissions.\n  - Set JENKINS_USER and JENKINS_TOKEN",
			Err:     err,
		}
	}

	if msg == "404 Not Found" || errors.Is(err, ErrBuildNotFound) {
		return &UserError{
			Message: "Build not found",
			Hint:    "Check that the build URL is correct and you have access to the job.",
			Err:     err,
		}
	}

	return err
}
