// Package launchererr implements the error taxonomy of the specification's
// Error Handling Design section: a closed set of Kinds, a dedicated
// sub-taxonomy for authentication failures, and an Error type that wraps
// causes while remaining matchable with errors.Is/As.
package launchererr

import (
	"errors"
	"fmt"
)

// Kind is the top-level error taxonomy.
type Kind string

const (
	Network          Kind = "Network"
	Integrity        Kind = "Integrity"
	Schema           Kind = "Schema"
	Auth             Kind = "Auth"
	Config           Kind = "Config"
	Filesystem       Kind = "Filesystem"
	Child            Kind = "Child"
	InstallProcessor Kind = "InstallProcessor"
	AlreadyRunning   Kind = "AlreadyRunning"
	AlreadyExists    Kind = "AlreadyExists"
	NotFound         Kind = "NotFound"
)

// AuthKind enumerates the Auth sub-kinds named in §4.6/§7.
type AuthKind string

const (
	NoXboxAccount     AuthKind = "NoXboxAccount"
	RegionBanned      AuthKind = "RegionBanned"
	ChildAccount      AuthKind = "ChildAccount"
	RefreshRejected   AuthKind = "RefreshRejected"
	DeviceCodeExpired AuthKind = "DeviceCodeExpired"
)

// Error is the structured error returned across the RPC surface: a kind
// tag, a human-readable detail, and an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error

	// AuthSub is populated only when Kind == Auth.
	AuthSub AuthKind
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error of the given kind, wrapping cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// WrapAuth builds an Auth-kind Error with the given sub-kind.
func WrapAuth(sub AuthKind, detail string, cause error) *Error {
	return &Error{Kind: Auth, AuthSub: sub, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
