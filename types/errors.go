package types

import (
	"errors"
	"fmt"
)

// Error codes. Failures are classified by kind, not identity; every
// settlement failure carries exactly one of these.
const (
	// ErrInvalidArgument marks a structurally malformed payment or
	// request (empty action identifier, zero payee, undecodable payload
	// before any transfer).
	ErrInvalidArgument = "invalid_argument"

	// ErrInvalidToken marks an asset identifier that classifies as
	// AssetInvalid.
	ErrInvalidToken = "invalid_token"

	// ErrUnauthorizedCaller marks a settlement initiated by an
	// intermediary instead of the direct party, or a deposit notification
	// whose declared kind does not match the asset's actual kind.
	ErrUnauthorizedCaller = "unauthorized_caller"

	// ErrInsufficientAllowance marks standing rights plus the supplied
	// permission falling short of the required amount.
	ErrInsufficientAllowance = "insufficient_allowance"

	// ErrPermissionNotGranted marks a pull-based non-fungible transfer
	// with no usable authorization path.
	ErrPermissionNotGranted = "permission_not_granted"

	// ErrTransferFailure marks the asset backend rejecting the movement.
	ErrTransferFailure = "transfer_failure"

	// ErrPaused marks a settlement attempted while the system-wide
	// paused flag is set.
	ErrPaused = "paused"

	// ErrReentrantCall marks an entry attempted while another settlement
	// holds the reentrancy guard. The guard is exclusive and fail-fast;
	// there is no queueing.
	ErrReentrantCall = "reentrant_call"

	// ErrActionFailed marks a downstream action failing after the payment
	// leg settled. It appears on receipts, never as a settlement error.
	ErrActionFailed = "action_failed"
)

// GatewayError is the typed failure returned by every settlement entry
// point. Code is one of the constants above; Err carries the collaborator
// error, if any.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Errf builds a GatewayError with a formatted message.
func Errf(code, format string, args ...any) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds a GatewayError around a collaborator error.
func WrapErr(code string, err error, format string, args ...any) *GatewayError {
	return &GatewayError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrCode extracts the gateway error code from err, or "" if err is not a
// GatewayError.
func ErrCode(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCode reports whether err is a GatewayError carrying the given code.
func IsCode(err error, code string) bool {
	return ErrCode(err) == code
}
