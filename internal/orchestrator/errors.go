package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed RPC.
type ErrorKind int

const (
	KindUnreachable ErrorKind = iota + 1
	KindStatus
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// ProtocolError is the only error type returned by Client.
type ProtocolError struct {
	Err       error
	Op        string
	Message   string
	Kind      ErrorKind
	Code      int
	Retryable bool
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case KindUnreachable:
		return fmt.Sprintf("%s: [CONNECTION] unable to reach orchestrator: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient orchestrator failure worth
// backing off and retrying. Errors that are not *ProtocolError are not.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Retryable
}

// KindOf returns the kind of err, or 0 when err is not a *ProtocolError.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return 0
	}
	return pe.Kind
}

func unreachable(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Kind: KindUnreachable, Retryable: true, Err: err}
}

func decodeFailure(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Kind: KindDecode, Err: err}
}

// statusFailure maps a non-2xx response to a human readable error.
func statusFailure(op string, code int, body []byte) *ProtocolError {
	e := &ProtocolError{Op: op, Kind: KindStatus, Code: code}
	switch {
	case code == http.StatusBadRequest:
		e.Message = "[400] Invalid request"
	case code == http.StatusUnauthorized:
		e.Message = "[401] Authentication failed. Please check your credentials."
	case code == http.StatusForbidden:
		e.Message = "[403] You don't have permission to perform this action."
	case code == http.StatusNotFound:
		e.Message = "[404] The requested resource was not found."
	case code == http.StatusRequestTimeout:
		e.Message = "[408] The server timed out waiting for your request. Please try again."
		e.Retryable = true
	case code == http.StatusTooManyRequests:
		e.Message = "[429] Too many requests. Please try again later."
		e.Retryable = true
	case code == http.StatusBadGateway:
		e.Message = "[502] Unable to reach the server. Please try again later."
		e.Retryable = true
	case code == http.StatusGatewayTimeout:
		e.Message = "[504] Gateway Timeout: The server took too long to respond. Please try again later."
		e.Retryable = true
	case code >= 500 && code <= 599:
		e.Message = fmt.Sprintf("[%d] A server error occurred. Please try again later.", code)
		e.Retryable = true
	default:
		e.Message = fmt.Sprintf("[%d] Unexpected error: %s", code, cleanBody(code, body))
	}
	return e
}

// cleanBody keeps error pages out of log lines.
func cleanBody(code int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" || strings.Contains(strings.ToLower(text), "<html") {
		return fmt.Sprintf("HTTP %d", code)
	}
	const max = 256
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
