package account

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

func TestAuthorize(t *testing.T) {
	policy := Policy{SystemMailerAccount: "postmaster"}
	admin := adminAccount("alice")
	user := userAccount("bob")

	tests := []struct {
		name    string
		actor   *entity.Account
		op      Op
		target  string
		req     *entity.AccountRequest
		wantErr error
	}{
		{"admin lists all", admin, OpListAll, "", nil, nil},
		{"user cannot list all", user, OpListAll, "", nil, ErrNotAdmin},
		{"admin creates", admin, OpCreate, "carol", nil, nil},
		{"user cannot create", user, OpCreate, "carol", nil, ErrNotAdmin},

		{"admin updates anyone", admin, OpUpdate, "bob", &entity.AccountRequest{Name: "bob"}, nil},
		{"user updates self", user, OpUpdate, "bob", &entity.AccountRequest{Name: "bob"}, nil},
		{"user updates self case-insensitive", user, OpUpdate, "BOB", &entity.AccountRequest{Name: "BOB"}, nil},
		{"user cannot update others", user, OpUpdate, "carol", &entity.AccountRequest{Name: "carol"}, ErrNotAdmin},
		{"admin cannot suspend self", admin, OpUpdate, "alice",
			&entity.AccountRequest{Name: "alice", Suspended: true}, ErrCannotSuspendSelf},
		{"admin suspends others", admin, OpUpdate, "bob",
			&entity.AccountRequest{Name: "bob", Suspended: true}, nil},
		{"admin unsuspending self is fine", admin, OpUpdate, "alice",
			&entity.AccountRequest{Name: "alice", Suspended: false}, nil},

		{"admin changes any password", admin, OpChangePassword, "bob", nil, nil},
		{"user changes own password", user, OpChangePassword, "bob", nil, nil},
		{"user cannot change others password", user, OpChangePassword, "carol", nil, ErrNotAdmin},

		{"admin finds anyone", admin, OpFind, "bob", nil, nil},
		{"user finds self", user, OpFind, "bob", nil, nil},
		{"user cannot find others", user, OpFind, "carol", nil, ErrNotAdmin},

		{"admin deletes others", admin, OpDelete, "bob", nil, nil},
		{"user cannot delete", user, OpDelete, "carol", nil, ErrNotAdmin},
		{"admin cannot delete self", admin, OpDelete, "alice", nil, ErrCannotDeleteSelf},
		{"admin cannot delete system mailer", admin, OpDelete, "postmaster", nil, ErrCannotDeleteSystemAccount},
		{"system mailer check is case-insensitive", admin, OpDelete, "Postmaster", nil, ErrCannotDeleteSystemAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Authorize(tt.actor, tt.op, tt.target, tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAuthorizeNilActor(t *testing.T) {
	policy := Policy{}
	assert.ErrorIs(t, policy.Authorize(nil, OpListAll, "", nil), ErrSessionNotFound)
}

func TestEffectiveRequest(t *testing.T) {
	policy := Policy{}
	req := entity.AccountRequest{Name: "bob", Admin: true, Email: "bob@example.com"}

	t.Run("non-admin request is sanitized", func(t *testing.T) {
		eff := policy.EffectiveRequest(userAccount("bob"), req)
		assert.False(t, eff.Admin)
		assert.Equal(t, "bob@example.com", eff.Email)
		// the original request value is untouched
		assert.True(t, req.Admin)
	})

	t.Run("admin request passes through", func(t *testing.T) {
		eff := policy.EffectiveRequest(adminAccount("alice"), req)
		assert.True(t, eff.Admin)
	})
}

func TestVisible(t *testing.T) {
	policy := Policy{}
	suspended := userAccount("bob")
	suspended.Suspended = true

	assert.True(t, policy.Visible(adminAccount("alice"), suspended))
	assert.False(t, policy.Visible(userAccount("bob"), suspended))
	assert.True(t, policy.Visible(userAccount("bob"), userAccount("bob")))
}
