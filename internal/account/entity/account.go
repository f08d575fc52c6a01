package entity

import (
	"strings"
	"time"
)

// Account represents a row in the `accounts` table. The password hash never
// leaves the repo layer; services and handlers only see this projection.
type Account struct {
	UUID                   string    `db:"uuid" json:"uuid"`
	Name                   string    `db:"name" json:"name"`
	Email                  string    `db:"email" json:"email"`
	FullName               string    `db:"full_name" json:"fullName"`
	MobilePhone            string    `db:"mobile_phone" json:"mobilePhone"`
	MobilePhoneCountryCode int       `db:"mobile_phone_country_code" json:"mobilePhoneCountryCode"`
	Admin                  bool      `db:"admin" json:"admin"`
	Suspended              bool      `db:"suspended" json:"suspended"`
	AuthID                 *string   `db:"auth_id" json:"-"`
	Version                int64     `db:"version" json:"-"`
	CreatedAt              time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time `db:"updated_at" json:"updatedAt"`
}

// TwoFactorEnabled reports whether the account has an active two-factor
// enrollment. It is derived from AuthID so the two can never disagree.
func (a *Account) TwoFactorEnabled() bool {
	return a != nil && a.AuthID != nil && *a.AuthID != ""
}

// AccountRequest carries the desired next state of an account for create and
// update operations. It is a value object: authorization produces a sanitized
// copy rather than mutating the caller's request in place.
type AccountRequest struct {
	Name                   string `json:"name"`
	Email                  string `json:"email"`
	FullName               string `json:"fullName"`
	MobilePhone            string `json:"mobilePhone"`
	MobilePhoneCountryCode int    `json:"mobilePhoneCountryCode"`
	Password               string `json:"password,omitempty"`
	Admin                  bool   `json:"admin"`
	Suspended              bool   `json:"suspended"`
	TwoFactor              bool   `json:"twoFactor"`

	// AuthID is the enrollment assigned by the two-factor provider. It is
	// filled by the pipeline before persistence, never by the caller.
	AuthID *string `json:"-"`
	// Version is copied from the fetched record before the store write so
	// a stale concurrent writer loses with a conflict.
	Version int64 `json:"-"`
}

// Sanitized returns a copy of the request safe to apply on behalf of a
// non-admin caller. Privilege cannot be self-escalated.
func (r AccountRequest) Sanitized() AccountRequest {
	r.Admin = false
	return r
}

// SameName reports whether the request addresses the given account.
func (r AccountRequest) SameName(a *Account) bool {
	return a != nil && strings.EqualFold(r.Name, a.Name)
}

// ChangePasswordRequest is the payload for the password change operation.
// SendInvite only applies when an admin resets someone else's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
	SendInvite  bool   `json:"sendInvite"`
}

// LoginRequest is the payload for session creation. SecondFactor is required
// when the account has an active two-factor enrollment.
type LoginRequest struct {
	Name         string `json:"name"`
	Password     string `json:"password"`
	SecondFactor string `json:"secondFactor,omitempty"`
}

// NormalizeName lowercases and trims an account name. Names are
// case-insensitive and stored lowercase.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
