package validate

import (
	"testing"

	"github.com/shopspring/decimal"
)

type signup struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,phone"`
	OTP   string `json:"otp" validate:"omitempty,otp"`
}

func TestStructUsesJSONNames(t *testing.T) {
	fields := Struct(signup{Email: "nope", Phone: "12ab", OTP: "12"})
	for _, name := range []string{"email", "phone", "otp"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("expected error for %s, got %v", name, fields)
		}
	}
	if fields := Struct(signup{Email: "ada@example.com", Phone: "+2348030000000", OTP: "123456"}); fields != nil {
		t.Fatalf("expected valid struct, got %v", fields)
	}
}

func TestAmount(t *testing.T) {
	got, err := Amount("amount", decimal.RequireFromString("150.25"))
	if err != nil || got != 15_025 {
		t.Fatalf("Amount = %d, %v", got, err)
	}
	if _, err := Amount("amount", decimal.RequireFromString("-1")); err == nil {
		t.Fatal("expected negative amount to be rejected")
	}
	if _, err := Amount("amount", decimal.RequireFromString("1.001")); err == nil {
		t.Fatal("expected sub-kobo amount to be rejected")
	}
}
