package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"required,phone"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type profileRequest struct {
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Phone           string `json:"phone" validate:"omitempty,phone"`
	FullName        string `json:"full_name" validate:"omitempty,max=120"`
	Password        string `json:"password" validate:"omitempty,min=8,max=72"`
	CurrentPassword string `json:"current_password" validate:"required_with=Password"`
}

type payoutAccountRequest struct {
	AccountName   string `json:"account_name" validate:"required,max=120"`
	AccountNumber string `json:"account_number" validate:"required,numeric,len=10"`
	BankCode      string `json:"bank_code" validate:"required,numeric,max=10"`
}

type payoutAccountResponse struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

type userResponse struct {
	UserID        string                 `json:"user_id"`
	Email         string                 `json:"email"`
	Phone         string                 `json:"phone"`
	FullName      string                 `json:"full_name"`
	PayoutAccount *payoutAccountResponse `json:"payout_account,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toResponse(u User) userResponse {
	out := userResponse{UserID: u.ID, Email: u.Email, Phone: u.Phone, FullName: u.FullName, CreatedAt: u.CreatedAt}
	if u.PayoutAccount != nil {
		out.PayoutAccount = &payoutAccountResponse{
			AccountName:   u.PayoutAccount.AccountName,
			AccountNumber: u.PayoutAccount.AccountNumber,
			BankCode:      u.PayoutAccount.BankCode,
		}
	}
	return out
}

// Register handles user onboarding. The user's wallet is provisioned in the
// same call.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	user, err := h.service.Register(c.UserContext(), RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		FullName: req.FullName,
		Password: req.Password,
	})
	switch {
	case errors.Is(err, ErrUserExists):
		return apierror.New(http.StatusConflict, apierror.CodeStateConflict, err.Error())
	case errors.Is(err, ErrWeakPassword):
		return apierror.Validation(err.Error(), map[string]string{"password": err.Error()})
	case err != nil:
		return err
	}

	h.logger.Info("identity.register completed", slog.String("user_id", user.ID))
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return apierror.Unauthorized("user not found")
	}
	return c.JSON(toResponse(user))
}

// UpdateProfile changes the caller's name, email, phone or password.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	var req profileRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.UpdateProfile(c.UserContext(), uid, ProfileUpdate{
		Email:           req.Email,
		Phone:           req.Phone,
		FullName:        req.FullName,
		Password:        req.Password,
		CurrentPassword: req.CurrentPassword,
	})
	switch {
	case errors.Is(err, ErrUserNotFound):
		return apierror.Unauthorized("user not found")
	case errors.Is(err, ErrUserExists):
		return apierror.New(http.StatusConflict, apierror.CodeStateConflict, err.Error())
	case errors.Is(err, ErrWeakPassword):
		return apierror.Validation(err.Error(), map[string]string{"password": err.Error()})
	case errors.Is(err, ErrWrongPassword):
		return apierror.Validation(err.Error(), map[string]string{"current_password": err.Error()})
	case err != nil:
		return err
	}
	h.logger.Info("identity.profile updated", slog.String("user_id", user.ID))
	return c.JSON(toResponse(user))
}

// UpdatePayoutAccount sets the bank account withdrawals are paid into.
func (h *Handler) UpdatePayoutAccount(c *fiber.Ctx) error {
	var req payoutAccountRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.UpdatePayoutAccount(c.UserContext(), uid, PayoutAccount{
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
	})
	if errors.Is(err, ErrUserNotFound) {
		return apierror.Unauthorized("user not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(toResponse(user))
}
