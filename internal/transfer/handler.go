package transfer

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	Recipient string          `json:"recipient" validate:"required,max=254"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note" validate:"max=140"`
	Reference string          `json:"reference" validate:"max=64"`
}

// Create processes a wallet-to-wallet transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	amount, err := validate.Amount("amount", req.Amount)
	if err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Transfer(c.UserContext(), Input{
		SenderID:  uid,
		Recipient: req.Recipient,
		Amount:    amount,
		Note:      req.Note,
		Reference: req.Reference,
	})
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			return apierror.NotFound("recipient not found")
		}
		return apierror.From(err)
	}

	status := http.StatusCreated
	if res.AlreadyApplied {
		status = http.StatusOK
	}
	return c.Status(status).JSON(res)
}
