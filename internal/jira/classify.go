package jira

import (
	"fmt"

	"trackmirror.app/syncd/internal/model"
)

// Classification codes for failed remote calls.
const (
	CodeSuspendedPayment = "SUSPENDED_PAYMENT"
	CodeNetwork          = "NETWORK"
	CodeRateLimit        = "RATE_LIMIT"
	CodeServerError      = "SERVER_ERROR"
	CodeBadRequest       = "BAD_REQUEST"
)

// RemoteError is a classified failure from the remote tracker. The sync
// activities surface it unchanged so the backoff controller can read the
// classification off the error chain.
type RemoteError struct {
	Classification model.Classification
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("jira: %s: %s", e.Classification.Code, e.Classification.Message)
}

// Retryable reports whether the engine's activity retry policy should keep
// attempting the call.
func (e *RemoteError) Retryable() bool {
	return e.Classification.Retryable
}

// Classify converts an HTTP outcome into a Classification. A status of 0 means
// the request never produced a response (connection refused, DNS failure,
// timeout).
func Classify(status int, errorCode, message string) model.Classification {
	switch {
	case status == 0:
		return model.Classification{
			Code:      CodeNetwork,
			Message:   message,
			Retryable: true,
			Severity:  model.SeverityError,
		}
	case status == 403 && errorCode == CodeSuspendedPayment:
		return model.Classification{
			Code:      CodeSuspendedPayment,
			Message:   message,
			Retryable: false,
			Severity:  model.SeverityError,
		}
	case status == 429:
		return model.Classification{
			Code:      CodeRateLimit,
			Message:   message,
			Retryable: true,
			Severity:  model.SeverityWarn,
		}
	case status >= 500:
		return model.Classification{
			Code:      CodeServerError,
			Message:   message,
			Retryable: true,
			Severity:  model.SeverityError,
		}
	case status == 400:
		return model.Classification{
			Code:      CodeBadRequest,
			Message:   message,
			Retryable: false,
			Severity:  model.SeverityError,
		}
	default:
		return model.Classification{
			Code:      fmt.Sprintf("HTTP_%d", status),
			Message:   message,
			Retryable: false,
			Severity:  model.SeverityError,
		}
	}
}
