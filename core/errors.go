package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrNotFound              = errors.New("core: not found")
	ErrConfiguration         = errors.New("core: process configuration error")
	ErrInvalidTransition     = errors.New("core: invalid transition")
	ErrPaymentNotConfigured  = errors.New("core: payment not configured")
	ErrConflict              = errors.New("core: concurrent transition conflict")
	ErrNoAddress             = errors.New("core: recipient has no confirmed address")
	ErrJobCanceled           = errors.New("core: job canceled")
	ErrJobNotDue             = errors.New("core: job is not due yet")
	ErrGuardNotMet           = errors.New("core: side effect guard not met")
	ErrExecutorNotRegistered = errors.New("core: side effect executor not registered")
)

const (
	TransactionErrorBadInput             = "TRANSACTION_BAD_INPUT"
	TransactionErrorNotFound             = "TRANSACTION_NOT_FOUND"
	TransactionErrorConfiguration        = "TRANSACTION_PROCESS_MISCONFIGURED"
	TransactionErrorInvalidTransition    = "TRANSACTION_INVALID_TRANSITION"
	TransactionErrorPaymentNotConfigured = "TRANSACTION_PAYMENT_NOT_CONFIGURED"
	TransactionErrorConflict             = "TRANSACTION_CONFLICT"
	TransactionErrorInternal             = "TRANSACTION_INTERNAL_ERROR"
)

// IsRetryable reports whether a caller may re-read state and try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// MapError converts lifecycle errors into go-errors envelopes for transport layers.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureTransactionErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newTransactionError(err.Error(), goerrors.CategoryNotFound, TransactionErrorNotFound)
	case errors.Is(err, ErrConfiguration):
		return newTransactionError(err.Error(), goerrors.CategoryInternal, TransactionErrorConfiguration)
	case errors.Is(err, ErrInvalidTransition):
		return newTransactionError(err.Error(), goerrors.CategoryBadInput, TransactionErrorInvalidTransition)
	case errors.Is(err, ErrPaymentNotConfigured):
		return newTransactionError(err.Error(), goerrors.CategoryOperation, TransactionErrorPaymentNotConfigured)
	case errors.Is(err, ErrConflict):
		return newTransactionError(err.Error(), goerrors.CategoryConflict, TransactionErrorConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newTransactionError(err.Error(), goerrors.CategoryBadInput, TransactionErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureTransactionErrorEnvelope(mapped)
}

func newTransactionError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureTransactionErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureTransactionErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = transactionHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTransactionTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTransactionTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return TransactionErrorBadInput
	case goerrors.CategoryNotFound:
		return TransactionErrorNotFound
	case goerrors.CategoryConflict:
		return TransactionErrorConflict
	case goerrors.CategoryOperation:
		return TransactionErrorPaymentNotConfigured
	default:
		return TransactionErrorInternal
	}
}

func transactionHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
