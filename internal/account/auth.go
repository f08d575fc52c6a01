package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

// LoginResult is returned on successful authentication. Token is the opaque
// session token; IdentityToken is a short-lived signed claim set for
// downstream services and is empty when no signing secret is configured.
type LoginResult struct {
	Token         string          `json:"token"`
	IdentityToken string          `json:"identityToken,omitempty"`
	Account       *entity.Account `json:"account"`
}

// Login authenticates a name/password pair and issues a session. Suspension
// is checked against the freshly loaded record, so a suspend committed before
// this point can never mint a new session. Accounts with an active two-factor
// enrollment must additionally present a valid second factor.
func (s *Service) Login(ctx context.Context, req *entity.LoginRequest) (*LoginResult, error) {
	name := entity.NormalizeName(req.Name)
	if name == "" || req.Password == "" {
		return nil, ErrAuthenticationFailed
	}

	acct, err := s.store.Authenticate(ctx, name, req.Password)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, ErrAuthenticationFailed
		}
		s.logger.Errorw("authentication failed", "name", name, "err", err)
		return nil, fmt.Errorf("authenticate %q: %w", name, err)
	}
	if acct.Suspended {
		return nil, ErrAccountSuspended
	}

	if acct.TwoFactorEnabled() {
		if req.SecondFactor == "" {
			return nil, ErrSecondFactorRequired
		}
		if err := s.twoFactor.provider.Verify(ctx, *acct.AuthID, req.SecondFactor); err != nil {
			s.logger.Debugw("second factor rejected", "name", name, "err", err)
			return nil, ErrAuthenticationFailed
		}
	}

	token, err := s.sessions.Create(ctx, acct)
	if err != nil {
		s.logger.Errorw("session creation failed", "name", name, "err", err)
		return nil, fmt.Errorf("create session for %q: %w", name, err)
	}

	idToken, err := s.identityToken(acct)
	if err != nil {
		// the session is already valid; losing the identity token is not fatal
		s.logger.Warnw("identity token signing failed", "name", name, "err", err)
		idToken = ""
	}

	return &LoginResult{Token: token, IdentityToken: idToken, Account: acct}, nil
}

// Logout destroys the caller's session.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrSessionNotFound
	}
	return s.sessions.Delete(ctx, token)
}

// identityToken signs a compact HS256 claim set describing the account.
func (s *Service) identityToken(acct *entity.Account) (string, error) {
	if s.cfg.TokenSecret == "" {
		return "", nil
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   acct.Name,
		"uuid":  acct.UUID,
		"admin": acct.Admin,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.TokenTTL).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(s.cfg.TokenSecret))
}
