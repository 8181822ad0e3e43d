package deposit

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// Users looks up the payer's checkout email.
type Users interface {
	Get(ctx context.Context, id string) (identity.User, error)
}

// Handler exposes the deposit endpoints.
type Handler struct {
	service *Service
	users   Users
}

// NewHandler constructs a deposit handler.
func NewHandler(service *Service, users Users) *Handler {
	return &Handler{service: service, users: users}
}

type initiateRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Initiate opens a hosted checkout for the authenticated user.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	amount, err := validate.Amount("amount", req.Amount)
	if err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)
	user, err := h.users.Get(c.UserContext(), uid)
	if err != nil {
		return apierror.Unauthorized("user not found")
	}

	res, err := h.service.Initiate(c.UserContext(), InitiateInput{OwnerID: uid, Email: user.Email, Amount: amount})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// Verify reconciles a deposit by reference. Payers land here from the
// checkout callback, so it is safe to call any number of times.
func (h *Handler) Verify(c *fiber.Ctx) error {
	ref := c.Query("reference")
	if ref == "" {
		return apierror.Validation("reference is required", map[string]string{"reference": "This field is required"})
	}
	res, err := h.service.Reconcile(c.UserContext(), ref)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrVerificationFailed):
		return apierror.New(http.StatusUnprocessableEntity, apierror.CodeExternalService, "payment could not be verified")
	case errors.Is(err, ErrEmailRequired):
		return apierror.Validation(err.Error(), nil)
	}
	return apierror.From(err)
}
