package access

import (
	"errors"
	"fmt"
)

// Kind classifies admission failures so callers can tell permanent
// validation problems from host misconfiguration and transport faults.
type Kind string

const (
	KindInvalidMac             Kind = "invalid_mac"
	KindBulkAccessDenied       Kind = "bulk_access_denied"
	KindAlreadyActive          Kind = "already_active"
	KindForwardingDisabled     Kind = "forwarding_disabled"
	KindNatMissing             Kind = "nat_missing"
	KindFirewallTransportError Kind = "firewall_transport_error"
	KindInvalidTransition      Kind = "invalid_transition"
	KindPresenceUnavailable    Kind = "presence_unavailable"
	KindInvalidDuration        Kind = "invalid_duration"
	KindNotFound               Kind = "not_found"
	// KindRevoked reports a grant revoked before it could become active.
	KindRevoked Kind = "revoked"
)

// Sentinels for errors.Is matching. Any *Error with the same Kind matches.
var (
	ErrInvalidMac          = &Error{Kind: KindInvalidMac}
	ErrBulkAccessDenied    = &Error{Kind: KindBulkAccessDenied}
	ErrAlreadyActive       = &Error{Kind: KindAlreadyActive}
	ErrForwardingDisabled  = &Error{Kind: KindForwardingDisabled}
	ErrNatMissing          = &Error{Kind: KindNatMissing}
	ErrFirewallTransport   = &Error{Kind: KindFirewallTransportError}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrPresenceUnavailable = &Error{Kind: KindPresenceUnavailable}
	ErrInvalidDuration     = &Error{Kind: KindInvalidDuration}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrRevoked             = &Error{Kind: KindRevoked}
)

// Error is the typed admission error.
type Error struct {
	Kind        Kind
	MAC         MAC
	Message     string
	Remediation string
	Err         error
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, mac MAC, format string, args ...any) *Error {
	return &Error{Kind: kind, MAC: mac, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a lower-level cause.
func Wrap(kind Kind, mac MAC, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, MAC: mac, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Permanent reports whether retrying err can never help: validation and
// prerequisite failures.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindInvalidMac, KindBulkAccessDenied, KindAlreadyActive, KindInvalidDuration,
		KindForwardingDisabled, KindNatMissing, KindNotFound, KindRevoked:
		return true
	}
	return false
}
