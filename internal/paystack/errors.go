package paystack

import (
	"fmt"
	"strings"
)

// invalidOTPMessages are the finalize_transfer responses that mean the OTP
// itself was wrong, as opposed to the transfer being in the wrong state.
var invalidOTPMessages = map[string]bool{
	"invalid otp":    true,
	"otp is invalid": true,
	"incorrect otp":  true,
}

// APIError is a non-success response from Paystack. It unwraps to one of the
// processor sentinel errors.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	cause      error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (http %d)", e.cause, e.StatusCode)
	}
	return fmt.Sprintf("%v (http %d): %s", e.cause, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

func (e *APIError) invalidOTP() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	if e.Code == "invalid_otp" {
		return true
	}
	msg := strings.TrimRight(strings.ToLower(strings.TrimSpace(e.Message)), ".!")
	return invalidOTPMessages[msg]
}
