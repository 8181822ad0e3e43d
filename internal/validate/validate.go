package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/money"
)

var (
	v       *validator.Validate
	phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

func init() {
	v = validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(fl.Field().String())
	})

	v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) < 4 || len(s) > 8 {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
}

// Struct validates s and returns a map of field errors keyed by JSON name.
func Struct(s any) map[string]string {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required", "required_without", "required_with":
			out[field] = "This field is required"
		case "email":
			out[field] = "Invalid email format"
		case "min":
			out[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			out[field] = "Value is too long (max: " + fe.Param() + ")"
		case "len":
			out[field] = "Value must be exactly " + fe.Param() + " characters"
		case "numeric":
			out[field] = "Value must be numeric"
		case "phone":
			out[field] = "Invalid phone number"
		case "otp":
			out[field] = "OTP must be 4 to 8 digits"
		case "oneof":
			out[field] = "Must be one of: " + fe.Param()
		default:
			out[field] = "Invalid value"
		}
	}
	return out
}

// Body parses the JSON body into dst and validates it.
func Body(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apierror.Validation("malformed request body", nil)
	}
	if fields := Struct(dst); fields != nil {
		return apierror.Validation("request validation failed", fields)
	}
	return nil
}

// Amount converts a major-unit amount from a request body into minor units.
func Amount(field string, d decimal.Decimal) (int64, error) {
	minor, err := money.FromDecimal(d)
	if err != nil {
		return 0, apierror.Validation("invalid amount", map[string]string{field: err.Error()})
	}
	return minor, nil
}
