package withdrawal

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// Handler exposes the withdrawal endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type requestBody struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=100"`
}

type confirmBody struct {
	TransferCode string `json:"transfer_code" validate:"required,max=64"`
	OTP          string `json:"otp" validate:"required,otp"`
}

// Request reserves funds and starts a payout to the user's bank account.
func (h *Handler) Request(c *fiber.Ctx) error {
	var req requestBody
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	amount, err := validate.Amount("amount", req.Amount)
	if err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Request(c.UserContext(), RequestInput{OwnerID: uid, Amount: amount, Reason: req.Reason})
	if errors.Is(err, processor.ErrOutcomeUnknown) {
		// Funds stay reserved until the sweeper learns the outcome.
		return c.Status(http.StatusAccepted).JSON(res)
	}
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// Confirm submits the OTP for a pending payout.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmBody
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Confirm(c.UserContext(), uid, req.TransferCode, req.OTP)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

// Status returns a withdrawal by transfer code or reference.
func (h *Handler) Status(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.Status(c.UserContext(), uid, c.Params("transferCode"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrOTPInvalid):
		return apierror.New(http.StatusUnprocessableEntity, apierror.CodeOTPInvalid, err.Error())
	case errors.Is(err, ErrPayoutInitiationFailed):
		return apierror.New(http.StatusBadGateway, apierror.CodeExternalService, "payout could not be started; no funds were moved")
	case errors.Is(err, identity.ErrNoPayoutAccount):
		return apierror.Validation("add a payout bank account before withdrawing", nil)
	case errors.Is(err, identity.ErrUserNotFound):
		return apierror.Unauthorized("user not found")
	}
	return apierror.From(err)
}
