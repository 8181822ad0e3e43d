package moneyrequest

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// Handler exposes money-request endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Payer  string          `json:"payer" validate:"required,max=254"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"max=140"`
}

// Create asks another user for funds.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	amount, err := validate.Amount("amount", req.Amount)
	if err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)

	res, err := h.service.Create(c.UserContext(), CreateInput{RequesterID: uid, Payer: req.Payer, Amount: amount, Note: req.Note})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// List returns the caller's sent and received requests.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	reqs, err := h.service.List(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"requests": reqs})
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.Approve(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

func (h *Handler) Decline(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	res, err := h.service.Decline(c.UserContext(), c.Params("id"), uid)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(res)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrPayerNotFound):
		return apierror.NotFound("payer not found")
	case errors.Is(err, ErrAlreadyProcessed):
		return apierror.New(http.StatusConflict, apierror.CodeStateConflict, "money request already processed")
	}
	return apierror.From(err)
}
