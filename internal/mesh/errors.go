package mesh

import (
	"errors"
	"net/http"
)

// Error classes. Handlers map each class to an HTTP status; tests match them
// with errors.Is.
var (
	ErrRegistrationRejected = errors.New("registration rejected")
	ErrAuthRejected         = errors.New("auth rejected")
	ErrSendRejected         = errors.New("send rejected")
	ErrCommandRejected      = errors.New("command rejected")
	ErrNotFound             = errors.New("not found")
	ErrAdminOnly            = errors.New("admin only")
)

// Error carries the wire-visible reason alongside its class. Error() returns
// the bare reason, which is what ends up in the {"success":false,"error":...}
// envelope.
type Error struct {
	class  error
	Reason string
}

func (e *Error) Error() string { return e.Reason }
func (e *Error) Unwrap() error { return e.class }

// Status maps the error class to the HTTP status of the failure response.
func (e *Error) Status() int {
	switch e.class {
	case ErrRegistrationRejected, ErrAuthRejected, ErrAdminOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func rejectRegistration(reason string) error {
	return &Error{class: ErrRegistrationRejected, Reason: reason}
}

func rejectAuth() error {
	return &Error{class: ErrAuthRejected, Reason: "Invalid token"}
}

func rejectAdmin() error {
	return &Error{class: ErrAdminOnly, Reason: "Admin only"}
}

func rejectSend(reason string) error {
	return &Error{class: ErrSendRejected, Reason: reason}
}

func rejectCommand(reason string) error {
	return &Error{class: ErrCommandRejected, Reason: reason}
}

func notFound(reason string) error {
	return &Error{class: ErrNotFound, Reason: reason}
}
