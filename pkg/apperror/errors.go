package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Webhook Boundary (WBK) ----

func ErrUnknownGateway(gatewayID string) *AppError {
	return New("WBK_001", fmt.Sprintf("Unknown gateway %q", gatewayID), http.StatusNotFound)
}

func ErrInvalidSignature() *AppError {
	return New("WBK_002", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrSignatureExpired() *AppError {
	return New("WBK_003", "Webhook signature timestamp outside tolerance", http.StatusUnauthorized)
}

func ErrUnparsablePayload(err error) *AppError {
	return Wrap("WBK_004", "Unparsable webhook payload", http.StatusBadRequest, err)
}

func ErrEventInFlight() *AppError {
	return New("WBK_005", "Event is already being processed", http.StatusConflict)
}

func ErrPayloadTooLarge() *AppError {
	return New("WBK_006", "Webhook payload exceeds size limit", http.StatusRequestEntityTooLarge)
}

// ---- Refund Lifecycle (RFD) ----

func ErrNotFound(entity string) *AppError {
	return New("RFD_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidAmount() *AppError {
	return New("RFD_002", "Invalid refund amount", http.StatusBadRequest)
}

func ErrIllegalTransition(from, to string) *AppError {
	return New("RFD_003", fmt.Sprintf("Illegal status transition %s -> %s", from, to), http.StatusConflict)
}

func ErrRefundTerminal(status string) *AppError {
	return New("RFD_004", fmt.Sprintf("Refund already in terminal status %s", status), http.StatusConflict)
}

func ErrNotEditable(status string) *AppError {
	return New("RFD_003", fmt.Sprintf("Refund in status %s is not editable", status), http.StatusConflict)
}

func ErrVersionConflict() *AppError {
	return New("RFD_005", "Refund was modified concurrently", http.StatusConflict)
}

// ---- Bank Accounts (ACC) ----

func ErrBankAccountInactive() *AppError {
	return New("ACC_001", "Bank account is not active", http.StatusUnprocessableEntity)
}

func ErrBankAccountRequired() *AppError {
	return New("ACC_002", "Bank transfer refunds require a bank account", http.StatusBadRequest)
}

// ---- Parameters (PRM) ----

func ErrParameterMalformed(key string) *AppError {
	return New("PRM_002", fmt.Sprintf("Parameter %s holds a malformed value", key), http.StatusUnprocessableEntity)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New("AUTH_002", "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns an RFD_002-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("RFD_002", message, http.StatusBadRequest)
}
