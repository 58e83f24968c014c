// Package errcode carries the numeric error codes shared with the clients.
// The codes are a wire contract and must not be renumbered.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

type Code int

const (
	// Authentication.
	NotLoggedIn            Code = -101
	AlreadyLoggedIn        Code = -102
	UnknownUser            Code = -103
	OperationNotPermitted  Code = -104
	EmailPasswordDontMatch Code = -10101

	// Validation.
	BadRequest                Code = -200
	FieldIsEmpty              Code = -201
	EmailNotValid             Code = -210
	HandleNotValid            Code = -211
	DeviceNotValid            Code = -212
	PasswordNotValid          Code = -213
	UserIDNotValid            Code = -214
	DeviceIDNotValid          Code = -216
	TransactionIDNotValid     Code = -219
	FullnameNotValid          Code = -220
	HandleAlreadyRegistered   Code = -10005
	EmailAlreadyRegistered    Code = -10003
	DeviceAlreadyRegistered   Code = -10008
	ActivationCodeDoesntExist Code = -10009

	// Lookup.
	DeviceNotFound         Code = -20003
	TransactionDoesntExist Code = -50001

	// Authorization.
	TransactionDoesntBelongToYou Code = -50002
	DeviceDoesntBelongToYou      Code = -217

	// Transaction state machine.
	TransactionOperationNotPermitted Code = -50003
	TransactionCantBeAccepted        Code = -50004
	TransactionAlreadyFinalized      Code = -50006
	TransactionAlreadyHasThisStatus  Code = -50007

	// Capacity / infrastructure.
	NoApertus              Code = -50008
	UnableToGetCredentials Code = -300
	FileNameEmpty          Code = -40000
	UnknownEmailAddress    Code = -117
	UnknownEmailHash       Code = -118
	EmailAlreadyConfirmed  Code = -106
	Unknown                Code = -666666
)

// Error is the typed error raised by the deep layers; the HTTP boundary
// turns it into the failure envelope.
type Error struct {
	Code    Code
	Details string
}

func (e *Error) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("error %d", e.Code)
	}
	return fmt.Sprintf("error %d: %s", e.Code, e.Details)
}

func New(code Code, details string) *Error {
	return &Error{Code: code, Details: details}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Details: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from err, or Unknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is makes errors.Is(err, &Error{Code: c}) match on code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps a wire code to the HTTP status the original API used.
func HTTPStatus(code Code) int {
	switch code {
	case NotLoggedIn, EmailPasswordDontMatch:
		return http.StatusForbidden
	case OperationNotPermitted, TransactionDoesntBelongToYou, DeviceDoesntBelongToYou:
		return http.StatusForbidden
	case UnknownUser, DeviceNotFound, TransactionDoesntExist, UnknownEmailAddress, UnknownEmailHash:
		return http.StatusNotFound
	case TransactionOperationNotPermitted, TransactionAlreadyFinalized,
		TransactionAlreadyHasThisStatus, TransactionCantBeAccepted,
		AlreadyLoggedIn, EmailAlreadyRegistered, HandleAlreadyRegistered,
		DeviceAlreadyRegistered, EmailAlreadyConfirmed:
		return http.StatusConflict
	case NoApertus:
		return http.StatusServiceUnavailable
	case Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
