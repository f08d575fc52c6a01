package account

import (
	"strings"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

// Op enumerates the operations the policy can rule on.
type Op int

const (
	OpListAll Op = iota
	OpCreate
	OpUpdate
	OpChangePassword
	OpFind
	OpDelete
)

// Policy is the pure authorization component. It holds no connections and
// reads no ambient state; the system mailer account name is injected at
// construction so decisions stay unit-testable.
type Policy struct {
	// SystemMailerAccount is the account the platform sends mail as. It can
	// never be deleted.
	SystemMailerAccount string
}

// Authorize rules on one operation, first matching rule wins. target is the
// normalized name of the account the operation addresses; req is the desired
// state (Update only) after sanitization via EffectiveRequest.
func (p Policy) Authorize(actor *entity.Account, op Op, target string, req *entity.AccountRequest) error {
	if actor == nil {
		return ErrSessionNotFound
	}
	switch op {
	case OpListAll, OpCreate:
		if !actor.Admin {
			return ErrNotAdmin
		}
	case OpUpdate:
		if !actor.Admin && !strings.EqualFold(actor.Name, target) {
			return ErrNotAdmin
		}
		// an admin may suspend anyone but themselves
		if actor.Admin && req != nil && req.SameName(actor) && req.Suspended {
			return ErrCannotSuspendSelf
		}
	case OpChangePassword, OpFind:
		if !actor.Admin && !strings.EqualFold(actor.Name, target) {
			return ErrNotAdmin
		}
	case OpDelete:
		if !actor.Admin {
			return ErrNotAdmin
		}
		if strings.EqualFold(actor.Name, target) {
			return ErrCannotDeleteSelf
		}
		if p.SystemMailerAccount != "" && strings.EqualFold(target, p.SystemMailerAccount) {
			return ErrCannotDeleteSystemAccount
		}
	}
	return nil
}

// EffectiveRequest returns the request as it will actually be applied for the
// actor. Non-admin callers get a sanitized copy with the admin flag cleared;
// the original request value is never mutated.
func (p Policy) EffectiveRequest(actor *entity.Account, req entity.AccountRequest) entity.AccountRequest {
	if actor != nil && actor.Admin {
		return req
	}
	return req.Sanitized()
}

// Visible reports whether the target record may be disclosed to the actor.
// Suspended accounts are invisible to non-admins, not merely forbidden: the
// pipeline turns an invisible hit into a not-found result.
func (p Policy) Visible(actor, target *entity.Account) bool {
	if actor == nil || target == nil {
		return false
	}
	return actor.Admin || !target.Suspended
}
