package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/ledgerpay/internal/identity"
)

// Users is the identity lookup used when refreshing tokens.
type Users interface {
	Get(ctx context.Context, id string) (identity.User, error)
}

// Service issues, refreshes and revokes token pairs.
type Service struct {
	tokens  *Issuer
	revoked RevocationList
	users   Users
}

func NewService(tokens *Issuer, revoked RevocationList, users Users) *Service {
	return &Service{tokens: tokens, revoked: revoked, users: users}
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a fresh token pair for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	return s.pair(user.ID)
}

func (s *Service) pair(userID string) (TokenPair, error) {
	access, claims, err := s.tokens.issue(userID, TokenTypeAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.tokens.issue(userID, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(claims.ExpiresAtTime()).Seconds()),
	}, nil
}

// Verify returns the claims of a valid, unrevoked access token.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.checkRevoked(ctx, claims); err != nil {
		return TokenPair{}, err
	}
	if _, err := s.users.Get(ctx, claims.UserID()); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return TokenPair{}, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.pair(claims.UserID())
}

// Logout revokes the access token and, when given, the refresh token issued
// alongside it.
func (s *Service) Logout(ctx context.Context, access *Claims, refreshToken string) error {
	if err := s.revoked.Revoke(ctx, access.ID, access.ExpiresAtTime()); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		// Already unusable.
		return nil
	}
	if claims.UserID() != access.UserID() {
		return ErrInvalidToken
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Service) checkRevoked(ctx context.Context, claims *Claims) error {
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return ErrRevokedToken
	}
	return nil
}
