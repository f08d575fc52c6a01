package account

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

type twoFactorAction int

const (
	twoFactorNoop twoFactorAction = iota
	twoFactorEnroll
	twoFactorRemove
	twoFactorReplace
)

// planTwoFactor compares the current enrollment of an account against the
// desired state of a request and picks the provider transition to run.
// Re-submitting a request whose desired state matches the current state is a
// no-op; the provider is never called.
func planTwoFactor(found *entity.Account, req *entity.AccountRequest) twoFactorAction {
	switch {
	case req.TwoFactor && !found.TwoFactorEnabled():
		return twoFactorEnroll
	case !req.TwoFactor && found.TwoFactorEnabled():
		return twoFactorRemove
	case req.TwoFactor && found.TwoFactorEnabled() && req.MobilePhone != found.MobilePhone:
		return twoFactorReplace
	default:
		return twoFactorNoop
	}
}

// twoFactorSync executes enrollment transitions against the provider and
// keeps req.AuthID consistent with the outcome.
type twoFactorSync struct {
	provider TwoFactorProvider
	logger   *zap.SugaredLogger
}

// apply runs the planned transition for found -> req. On return req.AuthID
// holds the enrollment the persisted record must carry. enrolled reports
// whether a new enrollment was created during this call so the caller can
// compensate it if the store write fails afterwards. Provider failures abort
// the mutation: the error wraps ErrTwoFactorProvider and nothing has been
// persisted yet.
func (s *twoFactorSync) apply(ctx context.Context, found *entity.Account, req *entity.AccountRequest) (enrolled bool, err error) {
	switch planTwoFactor(found, req) {
	case twoFactorEnroll:
		id, err := s.provider.Enroll(ctx, req.Email, req.MobilePhone, req.MobilePhoneCountryCode)
		if err != nil {
			return false, fmt.Errorf("%w: enroll: %v", ErrTwoFactorProvider, err)
		}
		req.AuthID = &id
		return true, nil
	case twoFactorRemove:
		if err := s.provider.Remove(ctx, *found.AuthID); err != nil {
			return false, fmt.Errorf("%w: remove: %v", ErrTwoFactorProvider, err)
		}
		req.AuthID = nil
		return false, nil
	case twoFactorReplace:
		// phone number changed: drop the old enrollment, then enroll the new one
		if err := s.provider.Remove(ctx, *found.AuthID); err != nil {
			return false, fmt.Errorf("%w: remove: %v", ErrTwoFactorProvider, err)
		}
		id, err := s.provider.Enroll(ctx, req.Email, req.MobilePhone, req.MobilePhoneCountryCode)
		if err != nil {
			return false, fmt.Errorf("%w: enroll: %v", ErrTwoFactorProvider, err)
		}
		req.AuthID = &id
		return true, nil
	default:
		req.AuthID = found.AuthID
		return false, nil
	}
}

// cleanup removes the enrollment ahead of account deletion. Best-effort: a
// provider failure leaves the enrollment orphaned rather than blocking an
// admin-initiated deletion.
func (s *twoFactorSync) cleanup(ctx context.Context, found *entity.Account) {
	if !found.TwoFactorEnabled() {
		return
	}
	if err := s.provider.Remove(ctx, *found.AuthID); err != nil {
		s.logger.Warnw("two-factor cleanup failed, enrollment orphaned",
			"account", found.Name, "err", err)
	}
}

// compensate undoes an enrollment created earlier in a request whose store
// write was then rejected. Best-effort, log only.
func (s *twoFactorSync) compensate(ctx context.Context, authID string) {
	if err := s.provider.Remove(ctx, authID); err != nil {
		s.logger.Warnw("two-factor compensation failed, enrollment orphaned",
			"auth_id", authID, "err", err)
	}
}
