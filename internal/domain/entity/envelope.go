package entity

import "errors"

const (
	// GenericErrorMessage is returned for misconfiguration and empty upstream bodies
	GenericErrorMessage = "Something Went Wrong. Please contact to site administrator."

	// IncorrectDataMessage is returned when the upstream payload has no quotes
	IncorrectDataMessage = "Incorrect Data."

	// DefaultErrorCode is the envelope code for errors that are not upstream HTTP failures
	DefaultErrorCode = 400
)

// ErrorDetail is the body of a failure envelope
type ErrorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ErrorEnvelope is the JSON shape returned for every failure
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// NewErrorEnvelope creates a failure envelope
func NewErrorEnvelope(message string, code int) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorDetail{Message: message, Code: code}}
}

// EnvelopeFor maps a lookup error onto the failure envelope returned to callers
func EnvelopeFor(err error) ErrorEnvelope {
	var upstreamErr *UpstreamError

	switch {
	case errors.As(err, &upstreamErr):
		return NewErrorEnvelope(upstreamErr.Reason, upstreamErr.StatusCode)
	case errors.Is(err, ErrIncorrectData):
		return NewErrorEnvelope(IncorrectDataMessage, DefaultErrorCode)
	default:
		// Missing configuration, empty bodies and anything unexpected
		return NewErrorEnvelope(GenericErrorMessage, DefaultErrorCode)
	}
}
