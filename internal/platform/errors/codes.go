// Package errors provides structured error handling for onboarding flows.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Answer validation errors
	CodeAnswerInvalidFormat  Code = "ANSWER_INVALID_FORMAT"
	CodeAnswerTooShort       Code = "ANSWER_TOO_SHORT"
	CodeAnswerNoSelection    Code = "ANSWER_NO_SELECTION"
	CodeAnswerEmptySelection Code = "ANSWER_EMPTY_SELECTION"
	CodeAnswerUnknownChoice  Code = "ANSWER_UNKNOWN_CHOICE"

	// Wizard errors
	CodeWizardCompleted      Code = "WIZARD_ALREADY_COMPLETED"
	CodeWizardNotCompleted   Code = "WIZARD_NOT_COMPLETED"
	CodeWizardUnknownFlow    Code = "WIZARD_UNKNOWN_FLOW"
	CodeWizardStepKind       Code = "WIZARD_WRONG_STEP_KIND"
	CodeWizardSessionClosed  Code = "WIZARD_SESSION_CLOSED"
	CodeWizardSubjectMissing Code = "WIZARD_SUBJECT_MISSING"

	// Linking errors
	CodeLinkUnknownProvider   Code = "LINK_UNKNOWN_PROVIDER"
	CodeLinkAuthorization     Code = "LINK_AUTHORIZATION_FAILED"
	CodeLinkWalletUnavailable Code = "LINK_WALLET_UNAVAILABLE"
	CodeLinkSessionClosed     Code = "LINK_SESSION_CLOSED"

	// Shared flow errors
	CodeAlreadyInProgress Code = "ALREADY_IN_PROGRESS"
	CodeBadRequest        Code = "BAD_REQUEST"

	// Subject token errors
	CodeTokenInvalid Code = "SUBJECT_TOKEN_INVALID"
	CodeTokenExpired Code = "SUBJECT_TOKEN_EXPIRED"

	// Storage errors
	CodeNotFound    Code = "NOT_FOUND"
	CodePersistence Code = "PERSISTENCE_FAILED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - user-correctable validation failures
	case CodeAnswerInvalidFormat,
		CodeAnswerTooShort,
		CodeAnswerNoSelection,
		CodeAnswerEmptySelection,
		CodeAnswerUnknownChoice,
		CodeWizardUnknownFlow,
		CodeWizardStepKind,
		CodeWizardSubjectMissing,
		CodeBadRequest:
		return http.StatusBadRequest

	// Unauthorized - token problems
	case CodeTokenInvalid, CodeTokenExpired:
		return http.StatusUnauthorized

	// Not found
	case CodeNotFound, CodeLinkUnknownProvider:
		return http.StatusNotFound

	// Conflict - duplicate or out-of-order operations
	case CodeAlreadyInProgress, CodeWizardCompleted, CodeWizardNotCompleted:
		return http.StatusConflict

	// Gone - the session no longer accepts events
	case CodeWizardSessionClosed, CodeLinkSessionClosed:
		return http.StatusGone

	// Bad gateway - an upstream provider or bridge failed
	case CodeLinkAuthorization, CodeLinkWalletUnavailable:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
