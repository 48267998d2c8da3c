// Package businessflow contains the use cases behind the operator API
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Access errors
	ErrAccountRequired     = errors.New("account id is required")
	ErrAccountAccessDenied = errors.New("operator cannot access this account")

	// Run lifecycle errors
	ErrAcquisitionInProgress = errors.New("an acquisition is already running for this account")
	ErrDispatchInProgress    = errors.New("a dispatch is already running for this account")
	ErrRunNotFound           = errors.New("run not found")
	ErrRunNotActive          = errors.New("run is not active")
	ErrRunNotFinished        = errors.New("run has not finished")
	ErrInvalidRunID          = errors.New("invalid run id")

	// Audience errors
	ErrRecordNotFound    = errors.New("audience record not found")
	ErrNoKnownRecipients = errors.New("none of the recipients are in the audience")

	// Dispatch errors
	ErrNoFailedRecipients = errors.New("run has no failed recipients")
	ErrDelayTooShort      = errors.New("delay is shorter than the minimum")
	ErrTemplateRequired   = errors.New("template is required")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsAccountRequired(err error) bool {
	return errors.Is(err, ErrAccountRequired)
}

func IsAccountAccessDenied(err error) bool {
	return errors.Is(err, ErrAccountAccessDenied)
}

func IsAcquisitionInProgress(err error) bool {
	return errors.Is(err, ErrAcquisitionInProgress)
}

func IsDispatchInProgress(err error) bool {
	return errors.Is(err, ErrDispatchInProgress)
}

func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

func IsRunNotActive(err error) bool {
	return errors.Is(err, ErrRunNotActive)
}

func IsRunNotFinished(err error) bool {
	return errors.Is(err, ErrRunNotFinished)
}

func IsInvalidRunID(err error) bool {
	return errors.Is(err, ErrInvalidRunID)
}

func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

func IsNoKnownRecipients(err error) bool {
	return errors.Is(err, ErrNoKnownRecipients)
}

func IsNoFailedRecipients(err error) bool {
	return errors.Is(err, ErrNoFailedRecipients)
}

func IsDelayTooShort(err error) bool {
	return errors.Is(err, ErrDelayTooShort)
}

func IsTemplateRequired(err error) bool {
	return errors.Is(err, ErrTemplateRequired)
}
