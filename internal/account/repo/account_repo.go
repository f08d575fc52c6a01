package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/hearthos/service-accounts-go/internal/account"
	"github.com/hearthos/service-accounts-go/internal/account/entity"
	"github.com/hearthos/service-accounts-go/pkg/utilities"
)

// PasswordHasher is the minimal hashing interface (abstract so argon2 can be
// swapped in later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

const accountColumns = `uuid, name, email, full_name, mobile_phone, mobile_phone_country_code,
	admin, suspended, auth_id, version, created_at, updated_at`

// AccountRepo provides data access for the accounts table using sqlx. It
// owns the credential: hashing and verification never leave this layer.
type AccountRepo struct {
	db     *sqlx.DB
	hasher PasswordHasher
}

func NewAccountRepo(db *sqlx.DB, hasher PasswordHasher) *AccountRepo {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &AccountRepo{db: db, hasher: hasher}
}

// EnsureTable creates the accounts table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  uuid TEXT UNIQUE NOT NULL,
  name CITEXT UNIQUE NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  mobile_phone TEXT NOT NULL DEFAULT '',
  mobile_phone_country_code INT NOT NULL DEFAULT 1,
  password_hash TEXT NOT NULL,
  admin BOOLEAN NOT NULL DEFAULT false,
  suspended BOOLEAN NOT NULL DEFAULT false,
  auth_id TEXT,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_name ON accounts(name);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// FindByName returns the account or (nil, nil) when the name is unknown.
// Matching is case-insensitive via citext.
func (r *AccountRepo) FindByName(ctx context.Context, name string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE name=$1`
	var row entity.Account
	if err := r.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FindAll returns every account ordered by name.
func (r *AccountRepo) FindAll(ctx context.Context) ([]*entity.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY name`
	rows := []*entity.Account{}
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// Create inserts a new account row with a hashed credential and a fresh
// identity. Duplicate names yield account.ErrAccountExists.
func (r *AccountRepo) Create(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error) {
	hash, err := r.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	q := `INSERT INTO accounts (uuid, name, email, full_name, mobile_phone, mobile_phone_country_code,
		password_hash, admin, suspended, auth_id)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	  RETURNING ` + accountColumns
	var row entity.Account
	err = r.db.GetContext(ctx, &row, q,
		utilities.NewKSUID(), req.Name, req.Email, req.FullName,
		req.MobilePhone, req.MobilePhoneCountryCode, hash,
		req.Admin, req.Suspended, req.AuthID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, account.ErrAccountExists
		}
		return nil, err
	}
	return &row, nil
}

// Update applies the desired state with optimistic locking on version. A
// stale writer gets account.ErrConflict; a vanished row gets
// account.ErrAccountNotFound.
func (r *AccountRepo) Update(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error) {
	q := `UPDATE accounts SET email=$2, full_name=$3, mobile_phone=$4, mobile_phone_country_code=$5,
		admin=$6, suspended=$7, auth_id=$8, version=version+1, updated_at=NOW()
	  WHERE name=$1 AND version=$9
	  RETURNING ` + accountColumns
	var row entity.Account
	err := r.db.GetContext(ctx, &row, q,
		req.Name, req.Email, req.FullName, req.MobilePhone, req.MobilePhoneCountryCode,
		req.Admin, req.Suspended, req.AuthID, req.Version)
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	// no row matched: either the record moved on or it is gone
	existing, ferr := r.FindByName(ctx, req.Name)
	if ferr != nil {
		return nil, ferr
	}
	if existing == nil {
		return nil, account.ErrAccountNotFound
	}
	return nil, account.ErrConflict
}

// Delete removes an account by name.
func (r *AccountRepo) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE name=$1`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// SetPassword replaces the credential without checking the old one. Admin
// reset path; also bumps version so stale writers lose.
func (r *AccountRepo) SetPassword(ctx context.Context, acct *entity.Account, newPassword string) error {
	hash, err := r.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash=$2, version=version+1, updated_at=NOW() WHERE name=$1`,
		acct.Name, hash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// ChangePassword verifies the old credential before setting the new one.
// A bad old password yields account.ErrAuthenticationFailed.
func (r *AccountRepo) ChangePassword(ctx context.Context, acct *entity.Account, oldPassword, newPassword string) error {
	var hash string
	if err := r.db.GetContext(ctx, &hash,
		`SELECT password_hash FROM accounts WHERE name=$1`, acct.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.ErrAccountNotFound
		}
		return err
	}
	if !r.hasher.Verify(hash, oldPassword) {
		return account.ErrAuthenticationFailed
	}
	return r.SetPassword(ctx, acct, newPassword)
}

// Authenticate verifies a name/password pair and returns the account. Unknown
// names fail the same way as bad passwords to avoid account enumeration.
func (r *AccountRepo) Authenticate(ctx context.Context, name, password string) (*entity.Account, error) {
	q := `SELECT ` + accountColumns + `, password_hash FROM accounts WHERE name=$1`
	var row struct {
		entity.Account
		PasswordHash string `db:"password_hash"`
	}
	if err := r.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrAuthenticationFailed
		}
		return nil, err
	}
	if row.PasswordHash == "" || !r.hasher.Verify(row.PasswordHash, password) {
		return nil, account.ErrAuthenticationFailed
	}
	acct := row.Account
	return &acct, nil
}
