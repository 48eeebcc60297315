// Package apperrors defines the domain error taxonomy shared by the HTTP
// API and the realtime gateway. Every error carries a stable kind string
// that clients can switch on and a human-readable message.
package apperrors

import "errors"

type Kind string

const (
	KindForbidden         Kind = "forbidden"
	KindInvalidPhase      Kind = "invalid_phase"
	KindNotFound          Kind = "not_found"
	KindInsufficientTeams Kind = "insufficient_teams"
	KindEmptyTeam         Kind = "empty_team"
	KindValidation        Kind = "validation"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Forbidden(message string) *Error         { return New(KindForbidden, message) }
func InvalidPhase(message string) *Error      { return New(KindInvalidPhase, message) }
func NotFound(message string) *Error          { return New(KindNotFound, message) }
func InsufficientTeams(message string) *Error { return New(KindInsufficientTeams, message) }
func EmptyTeam(message string) *Error         { return New(KindEmptyTeam, message) }
func Validation(message string) *Error        { return New(KindValidation, message) }

// KindOf extracts the kind from err, unwrapping as needed. Unknown errors
// report an empty kind.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
