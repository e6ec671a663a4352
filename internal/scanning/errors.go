package scanning

import "fmt"

// ErrorKind classifies extraction failures so handlers can map each to the
// right user-facing message.
type ErrorKind string

const (
	// KindConfiguration means the provider credential is missing; no
	// network call was attempted.
	KindConfiguration ErrorKind = "configuration_error"

	// KindInvalidCredential means the provider rejected the credential.
	KindInvalidCredential ErrorKind = "invalid_credential"

	// KindModelUnavailable means the configured model is deprecated or
	// unknown; retrying after reconfiguration is the only fix.
	KindModelUnavailable ErrorKind = "model_unavailable"

	// KindProvider covers every other provider-side failure; the raw
	// message is preserved for display.
	KindProvider ErrorKind = "provider_error"

	// KindMalformedResponse means the provider replied but the reply did
	// not contain a parseable JSON object.
	KindMalformedResponse ErrorKind = "malformed_response"
)

// ScanError is a typed extraction failure.
type ScanError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *ScanError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.cause
}

// UserMessage returns the text shown to the user. Provider errors surface
// their raw message; the rest use fixed friendly wording.
func (e *ScanError) UserMessage() string {
	switch e.Kind {
	case KindConfiguration:
		return "Receipt scanning is not configured. Contact support to enable it."
	case KindInvalidCredential:
		return "The scanning service rejected our credentials. Contact support."
	case KindModelUnavailable:
		return "The scanning model is temporarily unavailable. Please try again."
	case KindMalformedResponse:
		return "The scanner returned an unreadable result. Please try again or enter the receipt manually."
	default:
		return e.Message
	}
}

func newScanError(kind ErrorKind, message string, cause error) *ScanError {
	return &ScanError{Kind: kind, Message: message, cause: cause}
}
