// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"context"
	"errors"
	"fmt"

	iso "cunicu.li/go-iso7816"
)

var (
	// ErrReaderUnavailable is returned when no matching reader is connected or
	// the card could not be reached through it.
	ErrReaderUnavailable = errors.New("reader unavailable")

	// ErrReaderBusy is returned when the reader is held by another verification
	// attempt for longer than the configured lock timeout.
	ErrReaderBusy = errors.New("reader busy")

	// ErrTransport is wrapped by every TransportError.
	ErrTransport = errors.New("transport error")

	// ErrCardProtocol is wrapped by every StatusError and by ErrRecordTooLong.
	ErrCardProtocol = errors.New("card protocol error")

	// ErrAuthenticationFailed is returned when the card rejected the PIN.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMalformedCertificate is returned when a record does not parse as a certificate.
	ErrMalformedCertificate = errors.New("malformed certificate")

	// ErrAttributeNotFound is returned when a certificate carries no birthdate attribute.
	ErrAttributeNotFound = errors.New("birthdate attribute not found")

	// ErrBirthdateNotFound is returned when no birthdate could be located in a record.
	ErrBirthdateNotFound = errors.New("birthdate not found")

	// ErrInvalidBirthdate is returned for values which are not a real calendar
	// date within the accepted year range.
	ErrInvalidBirthdate = errors.New("invalid birthdate")

	// ErrInternal is returned when a collaborator panicked during an attempt.
	ErrInternal = errors.New("internal error")

	// ErrRecordTooLong is returned when a file does not end within the bounded
	// number of READ BINARY chunks.
	ErrRecordTooLong = fmt.Errorf("%w: record exceeds read limit", ErrCardProtocol)

	errSessionClosed    = errors.New("session closed")
	errUnexpectedLength = errors.New("unexpected length")
	errInvalidPIN       = fmt.Errorf("%w: PIN must be 1-16 digits", ErrAuthenticationFailed)
)

//nolint:gochecknoglobals
var (
	// StatusSuccess is the only status word accepted as success.
	StatusSuccess = iso.Code{0x90, 0x00}

	statusEndOfFile    = iso.Code{0x62, 0x82}
	statusWrongOffset  = iso.Code{0x6b, 0x00}
	statusAuthBlocked  = iso.ErrAuthenticationMethodBlocked
	statusFileNotFound = iso.ErrFileOrAppNotFound
)

// TransportError is an I/O fault while exchanging a command with the card.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// StatusError is returned when the card answered a command with an
// unexpected status word.
type StatusError struct {
	// Command is the name of the failing command, e.g. "SELECT FILE".
	Command string
	Code    iso.Code
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s failed with status %02X%02X", e.Command, e.Code[0], e.Code[1])
	if e.Code == statusFileNotFound {
		msg += " (file or application not found)"
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return ErrCardProtocol
}

// AuthError is an error indicating that the card rejected the PIN.
type AuthError struct {
	Code iso.Code

	// Retries is the number of retries remaining as reported by the card. It is
	// -1 if the card did not report a counter.
	Retries int
}

func (e AuthError) Error() string {
	switch {
	case e.Code == statusAuthBlocked:
		return "verification failed (PIN blocked)"
	case e.Retries < 0:
		return fmt.Sprintf("verification failed with status %02X%02X", e.Code[0], e.Code[1])
	case e.Retries == 1:
		return "verification failed (1 retry remaining)"
	default:
		return fmt.Sprintf("verification failed (%d retries remaining)", e.Retries)
	}
}

func (e AuthError) Unwrap() error {
	return ErrAuthenticationFailed
}

// authError maps the status word of a rejected VERIFY command.
func authError(c iso.Code) AuthError {
	switch {
	case c == statusAuthBlocked:
		return AuthError{c, 0}

	case c[0] == 0x63 && c[1]&0xf0 == 0xc0:
		return AuthError{c, int(c[1] & 0xf)}

	case c[0] == 0x63 && c[1]>>4 == 0x0 && c[1] != 0x00:
		// Some cards report the counter as 630N instead of 63CN.
		return AuthError{c, int(c[1] & 0xf)}

	default:
		return AuthError{c, -1}
	}
}

// Reason classifies why an attempt was aborted.
type Reason int

// Abort reasons.
const (
	ReasonNone Reason = iota
	ReasonReaderUnavailable
	ReasonReaderBusy
	ReasonTransport
	ReasonCardProtocol
	ReasonAuthenticationFailed
	ReasonMalformedCertificate
	ReasonAttributeNotFound
	ReasonBirthdateNotFound
	ReasonInvalidBirthdate
	ReasonCanceled
	ReasonInternal
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonReaderUnavailable:
		return "reader_unavailable"
	case ReasonReaderBusy:
		return "reader_busy"
	case ReasonTransport:
		return "transport_error"
	case ReasonCardProtocol:
		return "card_protocol_error"
	case ReasonAuthenticationFailed:
		return "authentication_failed"
	case ReasonMalformedCertificate:
		return "malformed_certificate"
	case ReasonAttributeNotFound:
		return "attribute_not_found"
	case ReasonBirthdateNotFound:
		return "birthdate_not_found"
	case ReasonInvalidBirthdate:
		return "invalid_birthdate"
	case ReasonCanceled:
		return "canceled"
	default:
		return "internal_error"
	}
}

// ReasonOf classifies an error returned by any stage of a verification attempt.
//
// A TransportError is classified as such even if its cause is a reader error,
// e.g. a card removed during an exchange.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrTransport):
		return ReasonTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, ErrReaderBusy):
		return ReasonReaderBusy
	case errors.Is(err, ErrReaderUnavailable):
		return ReasonReaderUnavailable
	case errors.Is(err, ErrAuthenticationFailed):
		return ReasonAuthenticationFailed
	case errors.Is(err, ErrCardProtocol):
		return ReasonCardProtocol
	case errors.Is(err, ErrMalformedCertificate):
		return ReasonMalformedCertificate
	case errors.Is(err, ErrAttributeNotFound):
		return ReasonAttributeNotFound
	case errors.Is(err, ErrBirthdateNotFound):
		return ReasonBirthdateNotFound
	case errors.Is(err, ErrInvalidBirthdate):
		return ReasonInvalidBirthdate
	default:
		return ReasonInternal
	}
}
