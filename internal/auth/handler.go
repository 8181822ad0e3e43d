package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/validate"
)

// ClaimsKey is the fiber Locals key holding the verified access claims.
const ClaimsKey = "auth_claims"

// Handler exposes auth endpoints for login/refresh/logout.
type Handler struct {
	ids *identity.Service
	svc *Service
}

func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	UserID       string `json:"user_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login validates credentials and returns a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return apierror.Unauthorized("invalid email or password")
	}
	if err != nil {
		return err
	}
	pair, err := h.svc.Login(user)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		UserID:       user.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh rotates a refresh token into a new pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return TokenError(err)
	}
	return c.Status(http.StatusOK).JSON(pair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout revokes the caller's access token and optional refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	claims, ok := c.Locals(ClaimsKey).(*Claims)
	if !ok {
		return apierror.Unauthorized("missing bearer token")
	}
	var req logoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apierror.Validation("malformed request body", nil)
		}
	}
	if err := h.svc.Logout(c.UserContext(), claims, req.RefreshToken); err != nil {
		return TokenError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// TokenError maps token verification failures onto client errors.
func TokenError(err error) error {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return apierror.Unauthorized("token expired")
	case errors.Is(err, ErrRevokedToken):
		return apierror.Unauthorized("token revoked")
	case errors.Is(err, ErrInvalidToken):
		return apierror.Unauthorized("invalid token")
	}
	return err
}

// MFAHandler exposes the email verification-code endpoints.
type MFAHandler struct {
	mfa *MFA
}

func NewMFAHandler(mfa *MFA) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

type mfaSetupRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type mfaVerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// Setup sends a verification code to the given email.
func (h *MFAHandler) Setup(c *fiber.Ctx) error {
	var req mfaSetupRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	if err := h.mfa.Setup(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "code_sent"})
}

// Verify checks a previously sent verification code.
func (h *MFAHandler) Verify(c *fiber.Ctx) error {
	var req mfaVerifyRequest
	if err := validate.Body(c, &req); err != nil {
		return err
	}
	err := h.mfa.Verify(c.UserContext(), req.Email, req.Code)
	if errors.Is(err, ErrMFACodeInvalid) {
		return apierror.Validation(err.Error(), map[string]string{"code": err.Error()})
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "verified"})
}
