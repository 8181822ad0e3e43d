package apierror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/money"
	"github.com/congo-pay/ledgerpay/internal/processor"
)

// Stable error codes returned to clients.
const (
	CodeValidation      = "validation_error"
	CodeInsufficient    = "insufficient_funds"
	CodeNotFound        = "not_found"
	CodeStateConflict   = "state_conflict"
	CodeInProgress      = "in_progress"
	CodeOTPInvalid      = "otp_invalid"
	CodeExternalService = "external_service_error"
	CodeOutcomeUnknown  = "outcome_unknown"
	CodeInvalidSig      = "invalid_signature"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)

// Error is an error with a client-facing status, code and message.
type Error struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Validation reports bad input, optionally per field.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Fields: fields}
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Internal() *Error {
	return New(http.StatusInternalServerError, CodeInternal, "internal server error")
}

// From maps errors of the shared packages onto client errors. Anything it
// does not recognise becomes a generic internal error.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return New(fiberErr.Code, codeForStatus(fiberErr.Code), fiberErr.Message)
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrTooPrecise), errors.Is(err, ledger.ErrMissingReference),
		errors.Is(err, ledger.ErrSelfTransfer):
		return Validation(err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return New(http.StatusUnprocessableEntity, CodeInsufficient, "insufficient funds")
	case errors.Is(err, ledger.ErrWalletNotFound):
		return NotFound("wallet not found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return NotFound("transaction not found")
	case errors.Is(err, ledger.ErrPaymentNotFound):
		return NotFound("payment record not found")
	case errors.Is(err, ledger.ErrRequestNotFound):
		return NotFound("money request not found")
	case errors.Is(err, ledger.ErrNotPayer):
		return New(http.StatusForbidden, CodeForbidden, "only the payer can act on this request")
	case errors.Is(err, ledger.ErrDuplicateReference):
		return New(http.StatusConflict, CodeStateConflict, "reference already used")
	case errors.Is(err, ledger.ErrStateConflict):
		return New(http.StatusConflict, CodeStateConflict, "operation not allowed in the current state")
	case errors.Is(err, idempotency.ErrInProgress):
		return New(http.StatusConflict, CodeInProgress, "a request with this key is already in progress")
	case errors.Is(err, processor.ErrOTPRejected):
		return New(http.StatusUnprocessableEntity, CodeOTPInvalid, "invalid otp")
	case errors.Is(err, processor.ErrOutcomeUnknown):
		return New(http.StatusAccepted, CodeOutcomeUnknown, "the payment processor did not answer in time; the operation will be reconciled")
	case errors.Is(err, processor.ErrRejected), errors.Is(err, processor.ErrNotFound):
		return New(http.StatusBadGateway, CodeExternalService, "payment processor rejected the request")
	}
	return Internal()
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeStateConflict
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeInternal
	default:
		return CodeValidation
	}
}

// Handler renders every error returned by a route as
// {"error": {"code": ..., "message": ...}}.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		apiErr := From(err)
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"request_id", c.Locals("X-Request-ID"),
				"error", err,
			)
		}
		return c.Status(apiErr.Status).JSON(fiber.Map{"error": apiErr})
	}
}
