package account

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

// Store is the durable account store. Credentials are owned by the store:
// hashing and verification never leave it. Lookups return (nil, nil) when the
// name is unknown. Update must provide compare-or-fail semantics on the
// request's Version and return ErrConflict for a stale writer.
type Store interface {
	FindByName(ctx context.Context, name string) (*entity.Account, error)
	FindAll(ctx context.Context) ([]*entity.Account, error)
	Create(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error)
	Update(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error)
	Delete(ctx context.Context, name string) error
	SetPassword(ctx context.Context, account *entity.Account, newPassword string) error
	ChangePassword(ctx context.Context, account *entity.Account, oldPassword, newPassword string) error
	Authenticate(ctx context.Context, name, password string) (*entity.Account, error)
}

// SessionRegistry maps session tokens to account snapshots. It is never the
// authority for permission decisions; it only stores what it is given.
// Find returns (nil, nil) for an unknown token.
type SessionRegistry interface {
	Create(ctx context.Context, account *entity.Account) (string, error)
	Find(ctx context.Context, token string) (*entity.Account, error)
	Refresh(ctx context.Context, token string, account *entity.Account) error
	Delete(ctx context.Context, token string) error
	InvalidateAll(ctx context.Context, accountUUID string) error
}

// TwoFactorProvider is the external enrollment service.
type TwoFactorProvider interface {
	Enroll(ctx context.Context, email, phone string, countryCode int) (string, error)
	Remove(ctx context.Context, authID string) error
	Verify(ctx context.Context, authID, code string) error
}

// Notifier delivers account lifecycle mail. All sends are best-effort from
// the pipeline's point of view.
type Notifier interface {
	SendWelcome(ctx context.Context, admin, created *entity.Account, password string) error
}

// sentinel errors for policy decisions and caller faults; anything else that
// escapes the service is an internal fault and maps to a 500 upstream
var (
	ErrSessionNotFound           = errors.New("session not found")
	ErrNotAdmin                  = errors.New("not an admin")
	ErrCannotSuspendSelf         = errors.New("cannot suspend own account")
	ErrCannotDeleteSelf          = errors.New("cannot delete own account")
	ErrCannotDeleteSystemAccount = errors.New("cannot delete system mailer account")
	ErrAccountNotFound           = errors.New("account not found")
	ErrAccountExists             = errors.New("account already exists")
	ErrAuthenticationFailed      = errors.New("authentication failed")
	ErrAccountSuspended          = errors.New("account suspended")
	ErrSecondFactorRequired      = errors.New("second factor required")
	ErrConflict                  = errors.New("stale account version")
	ErrTwoFactorProvider         = errors.New("two-factor provider error")
)

// Config carries the service knobs that must not come from ambient state.
type Config struct {
	// SystemMailerAccount is the delete-protected platform mail account.
	SystemMailerAccount string
	// TokenSecret signs the identity token returned at login. Empty disables
	// identity tokens; sessions still work.
	TokenSecret string
	TokenTTL    time.Duration
}

// ConfigFromEnv reads service config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		SystemMailerAccount: os.Getenv("SYSTEM_MAILER_ACCOUNT"),
		TokenSecret:         os.Getenv("AUTH_TOKEN_SECRET"),
		TokenTTL:            15 * time.Minute,
	}
	if cfg.SystemMailerAccount == "" {
		// the platform mailer logs in over SMTP with this account
		cfg.SystemMailerAccount = os.Getenv("SMTP_USER")
	}
	if v := os.Getenv("AUTH_TOKEN_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TokenTTL = time.Duration(n) * time.Minute
		}
	}
	return cfg
}

// Service orchestrates account mutation: lookup, authorization, sanitization,
// two-factor sync, persistence and the session effect, in that order. It is
// stateless and safe for concurrent use; per-name serialization is the
// store's job.
type Service struct {
	store     Store
	sessions  SessionRegistry
	twoFactor *twoFactorSync
	notifier  Notifier
	policy    Policy
	cfg       Config
	logger    *zap.SugaredLogger
}

func NewService(cfg Config, store Store, sessions SessionRegistry, provider TwoFactorProvider, notifier Notifier, logger *zap.SugaredLogger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &Service{
		store:     store,
		sessions:  sessions,
		twoFactor: &twoFactorSync{provider: provider, logger: logger},
		notifier:  notifier,
		policy:    Policy{SystemMailerAccount: entity.NormalizeName(cfg.SystemMailerAccount)},
		cfg:       cfg,
		logger:    logger,
	}
}

// actor resolves the caller's session token to an account snapshot.
func (s *Service) actor(ctx context.Context, token string) (*entity.Account, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	acct, err := s.sessions.Find(ctx, token)
	if err != nil {
		s.logger.Errorw("session lookup failed", "err", err)
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if acct == nil {
		return nil, ErrSessionNotFound
	}
	return acct, nil
}

// FindAll returns every account. Admins only.
func (s *Service) FindAll(ctx context.Context, token string) ([]*entity.Account, error) {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, OpListAll, "", nil); err != nil {
		return nil, err
	}
	accounts, err := s.store.FindAll(ctx)
	if err != nil {
		s.logger.Errorw("list accounts failed", "err", err)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Create makes a new account. Admins only. When the request asks for
// two-factor auth the enrollment happens before the store write; the welcome
// mail afterwards is best-effort.
func (s *Service) Create(ctx context.Context, token, name string, req *entity.AccountRequest) (*entity.Account, error) {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return nil, err
	}
	name = entity.NormalizeName(name)
	if err := s.policy.Authorize(actor, OpCreate, name, req); err != nil {
		return nil, err
	}

	eff := *req
	eff.Name = name
	enrolled := false
	if eff.TwoFactor {
		if enrolled, err = s.twoFactor.apply(ctx, &entity.Account{}, &eff); err != nil {
			return nil, err
		}
	}

	created, err := s.store.Create(ctx, &eff)
	if err != nil {
		if enrolled && eff.AuthID != nil {
			s.twoFactor.compensate(ctx, *eff.AuthID)
		}
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		s.logger.Errorw("create account failed", "name", name, "err", err)
		return nil, fmt.Errorf("create account %q: %w", name, err)
	}

	// fire-and-log: mail delivery failure never fails the create
	if err := s.notifier.SendWelcome(ctx, actor, created, req.Password); err != nil {
		s.logger.Warnw("welcome mail failed", "account", created.Name, "err", err)
	}
	return created, nil
}

// Update applies the desired state to an account. Admins can update anyone;
// everyone else only themselves, and never with the admin flag set. A
// suspending update invalidates every session of the target; any other
// update refreshes the caller's own session snapshot.
func (s *Service) Update(ctx context.Context, token, name string, req *entity.AccountRequest) (*entity.Account, error) {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return nil, err
	}
	name = entity.NormalizeName(name)

	eff := s.policy.EffectiveRequest(actor, *req)
	eff.Name = name
	if err := s.policy.Authorize(actor, OpUpdate, name, &eff); err != nil {
		return nil, err
	}

	found, err := s.store.FindByName(ctx, name)
	if err != nil {
		s.logger.Errorw("account lookup failed", "name", name, "err", err)
		return nil, fmt.Errorf("find account %q: %w", name, err)
	}
	if found == nil {
		return nil, ErrAccountNotFound
	}

	enrolled, err := s.twoFactor.apply(ctx, found, &eff)
	if err != nil {
		return nil, err
	}

	eff.Version = found.Version
	updated, err := s.store.Update(ctx, &eff)
	if err != nil {
		if enrolled && eff.AuthID != nil {
			s.twoFactor.compensate(ctx, *eff.AuthID)
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		s.logger.Errorw("update account failed", "name", name, "err", err)
		return nil, fmt.Errorf("update account %q: %w", name, err)
	}

	if updated.Suspended {
		// once suspension is committed no session of the target may
		// authenticate again
		if err := s.sessions.InvalidateAll(ctx, updated.UUID); err != nil {
			s.logger.Errorw("session invalidation failed", "account", updated.Name, "err", err)
			return nil, fmt.Errorf("invalidate sessions for %q: %w", updated.Name, err)
		}
	} else {
		snapshot := actor
		if strings.EqualFold(actor.Name, updated.Name) {
			snapshot = updated
		}
		if err := s.sessions.Refresh(ctx, token, snapshot); err != nil {
			s.logger.Warnw("session refresh failed", "account", snapshot.Name, "err", err)
		}
	}
	return updated, nil
}

// ChangePassword changes an account credential. An admin resetting someone
// else's password sets it directly and may trigger an invitation mail;
// everyone else must present their current password first.
func (s *Service) ChangePassword(ctx context.Context, token, name string, req *entity.ChangePasswordRequest) (*entity.Account, error) {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return nil, err
	}
	name = entity.NormalizeName(name)
	if err := s.policy.Authorize(actor, OpChangePassword, name, nil); err != nil {
		return nil, err
	}

	target, err := s.store.FindByName(ctx, name)
	if err != nil {
		s.logger.Errorw("account lookup failed", "name", name, "err", err)
		return nil, fmt.Errorf("find account %q: %w", name, err)
	}
	if target == nil {
		return nil, ErrAccountNotFound
	}

	if actor.Admin && !strings.EqualFold(actor.Name, name) {
		if err := s.store.SetPassword(ctx, target, req.NewPassword); err != nil {
			s.logger.Errorw("set password failed", "name", name, "err", err)
			return nil, fmt.Errorf("set password for %q: %w", name, err)
		}
		if req.SendInvite {
			if err := s.notifier.SendWelcome(ctx, actor, target, req.NewPassword); err != nil {
				s.logger.Warnw("invite mail failed", "account", target.Name, "err", err)
			}
		}
		return target, nil
	}

	if err := s.store.ChangePassword(ctx, target, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return nil, ErrAuthenticationFailed
		}
		s.logger.Errorw("change password failed", "name", name, "err", err)
		return nil, fmt.Errorf("change password for %q: %w", name, err)
	}
	return target, nil
}

// Find looks up a single account. Non-admins only see themselves, and a
// suspended target is reported as not found rather than forbidden.
func (s *Service) Find(ctx context.Context, token, name string) (*entity.Account, error) {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return nil, err
	}
	name = entity.NormalizeName(name)
	if err := s.policy.Authorize(actor, OpFind, name, nil); err != nil {
		return nil, err
	}

	found, err := s.store.FindByName(ctx, name)
	if err != nil {
		s.logger.Errorw("account lookup failed", "name", name, "err", err)
		return nil, fmt.Errorf("find account %q: %w", name, err)
	}
	if found == nil || !s.policy.Visible(actor, found) {
		return nil, ErrAccountNotFound
	}
	return found, nil
}

// Delete removes an account. Admins only, never themselves and never the
// system mailer account. An existing two-factor enrollment is cleaned up
// best-effort before the store delete; remaining sessions of the target are
// dropped the same way.
func (s *Service) Delete(ctx context.Context, token, name string) error {
	actor, err := s.actor(ctx, token)
	if err != nil {
		return err
	}
	name = entity.NormalizeName(name)
	if err := s.policy.Authorize(actor, OpDelete, name, nil); err != nil {
		return err
	}

	toDelete, err := s.store.FindByName(ctx, name)
	if err != nil {
		s.logger.Errorw("account lookup failed", "name", name, "err", err)
		return fmt.Errorf("find account %q: %w", name, err)
	}
	if toDelete == nil {
		return ErrAccountNotFound
	}

	s.twoFactor.cleanup(ctx, toDelete)

	if err := s.store.Delete(ctx, name); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		s.logger.Errorw("delete account failed", "name", name, "err", err)
		return fmt.Errorf("delete account %q: %w", name, err)
	}

	if err := s.sessions.InvalidateAll(ctx, toDelete.UUID); err != nil {
		s.logger.Warnw("session cleanup after delete failed", "account", name, "err", err)
	}
	return nil
}
