// Package taskerr defines the harness's stable error taxonomy and the
// classification helpers the session supervisor uses to decide whether a
// failed turn is retried, surfaced as an auth problem, or surfaced plain.
package taskerr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/corvid-labs/tendril/internal/server/dto"
)

// Kind is one of the stable error classes from the error handling design.
type Kind string

const (
	TransportClosed Kind = "transport-closed"
	RPCError        Kind = "rpc-error"
	Timeout         Kind = "timeout"
	RecoverableExit Kind = "recoverable-exit"
	AuthExpired     Kind = "auth-expired"
	NotFound        Kind = "not-found"
	AlreadyRunning  Kind = "already-running"
	Validation      Kind = "validation"
	Internal        Kind = "internal"
)

// httpStatus maps each Kind to the status code the HTTP layer reports it as.
var httpStatus = map[Kind]int{
	TransportClosed: http.StatusBadGateway,
	RPCError:        http.StatusBadGateway,
	Timeout:         http.StatusGatewayTimeout,
	RecoverableExit: http.StatusBadGateway,
	AuthExpired:     http.StatusUnauthorized,
	NotFound:        http.StatusNotFound,
	AlreadyRunning:  http.StatusConflict,
	Validation:      http.StatusBadRequest,
	Internal:        http.StatusInternalServerError,
}

// errorCode maps each Kind to the dto.ErrorCode the HTTP layer reports it as.
var errorCode = map[Kind]dto.ErrorCode{
	TransportClosed: dto.CodeInternalError,
	RPCError:        dto.CodeInternalError,
	Timeout:         dto.CodeInternalError,
	RecoverableExit: dto.CodeInternalError,
	AuthExpired:     dto.CodeInternalError,
	NotFound:        dto.CodeNotFound,
	AlreadyRunning:  dto.CodeConflict,
	Validation:      dto.CodeBadRequest,
	Internal:        dto.CodeInternalError,
}

// Error is the one error type carrying the taxonomy through the system: the
// supervisor classifies by Kind, the HTTP layer reports by StatusCode/Code.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

var _ dto.ErrorWithStatus = (*Error)(nil)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode implements dto.ErrorWithStatus.
func (e *Error) StatusCode() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Code implements dto.ErrorWithStatus.
func (e *Error) Code() dto.ErrorCode {
	if c, ok := errorCode[e.Kind]; ok {
		return c
	}
	return dto.CodeInternalError
}

// Details implements dto.ErrorWithStatus.
func (e *Error) Details() map[string]any { return nil }

// New builds a classified error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// recoverableExitSubstrings are matched case-sensitively against a turn's
// failure text to decide eligibility for automatic reconnect/retry.
var recoverableExitSubstrings = []string{
	"exit code: 143",
	"Exit code: 143",
	"exited with code 143",
	"SIGTERM",
	"process was terminated",
	"terminated by signal 15",
}

// IsRecoverableExit reports whether msg describes a termination signature
// eligible for one automatic reconnection retry.
func IsRecoverableExit(msg string) bool {
	for _, s := range recoverableExitSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// authExpiredSubstrings are matched case-insensitively against a turn's
// failure text to classify it as an authentication problem.
var authExpiredSubstrings = []string{
	"token_expired",
	"refresh_token_reused",
	"401",
	"unauthorized",
	"authentication token is expired",
	"access token refresh failed",
}

// IsAuthExpired reports whether msg describes an authentication failure.
func IsAuthExpired(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range authExpiredSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// Classify picks the error kind a raw turn-failure message should be
// reported as, per the propagation policy: recoverable-exit takes priority
// over auth-expired, which takes priority over a plain "error".
func Classify(msg string) Kind {
	switch {
	case IsRecoverableExit(msg):
		return RecoverableExit
	case IsAuthExpired(msg):
		return AuthExpired
	default:
		return Internal
	}
}
