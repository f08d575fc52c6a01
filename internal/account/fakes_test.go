package account

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

// in-memory fakes for the service ports

type fakeStore struct {
	accounts  map[string]*entity.Account
	passwords map[string]string

	findErr   error
	createErr error
	updateErr error
	deleteErr error

	createCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[string]*entity.Account{},
		passwords: map[string]string{},
	}
}

func (s *fakeStore) put(a *entity.Account, password string) {
	s.accounts[strings.ToLower(a.Name)] = a
	s.passwords[strings.ToLower(a.Name)] = password
}

func (s *fakeStore) FindByName(ctx context.Context, name string) (*entity.Account, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.accounts[strings.ToLower(name)], nil
}

func (s *fakeStore) FindAll(ctx context.Context) ([]*entity.Account, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := []*entity.Account{}
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) Create(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error) {
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	key := strings.ToLower(req.Name)
	if _, ok := s.accounts[key]; ok {
		return nil, ErrAccountExists
	}
	a := &entity.Account{
		UUID:                   "uuid-" + key,
		Name:                   key,
		Email:                  req.Email,
		FullName:               req.FullName,
		MobilePhone:            req.MobilePhone,
		MobilePhoneCountryCode: req.MobilePhoneCountryCode,
		Admin:                  req.Admin,
		Suspended:              req.Suspended,
		AuthID:                 req.AuthID,
		Version:                1,
	}
	s.put(a, req.Password)
	return a, nil
}

func (s *fakeStore) Update(ctx context.Context, req *entity.AccountRequest) (*entity.Account, error) {
	s.updateCalls++
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	key := strings.ToLower(req.Name)
	existing, ok := s.accounts[key]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if existing.Version != req.Version {
		return nil, ErrConflict
	}
	updated := *existing
	updated.Email = req.Email
	updated.FullName = req.FullName
	updated.MobilePhone = req.MobilePhone
	updated.MobilePhoneCountryCode = req.MobilePhoneCountryCode
	updated.Admin = req.Admin
	updated.Suspended = req.Suspended
	updated.AuthID = req.AuthID
	updated.Version++
	s.accounts[key] = &updated
	return &updated, nil
}

func (s *fakeStore) Delete(ctx context.Context, name string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	key := strings.ToLower(name)
	if _, ok := s.accounts[key]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, key)
	delete(s.passwords, key)
	return nil
}

func (s *fakeStore) SetPassword(ctx context.Context, acct *entity.Account, newPassword string) error {
	s.passwords[strings.ToLower(acct.Name)] = newPassword
	return nil
}

func (s *fakeStore) ChangePassword(ctx context.Context, acct *entity.Account, oldPassword, newPassword string) error {
	key := strings.ToLower(acct.Name)
	if s.passwords[key] != oldPassword {
		return ErrAuthenticationFailed
	}
	s.passwords[key] = newPassword
	return nil
}

func (s *fakeStore) Authenticate(ctx context.Context, name, password string) (*entity.Account, error) {
	key := strings.ToLower(name)
	a, ok := s.accounts[key]
	if !ok || s.passwords[key] != password {
		return nil, ErrAuthenticationFailed
	}
	return a, nil
}

type fakeRegistry struct {
	sessions map[string]*entity.Account

	createErr     error
	findErr       error
	invalidateErr error

	nextToken       int
	refreshCalls    int
	invalidateCalls int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{sessions: map[string]*entity.Account{}}
}

func (r *fakeRegistry) put(token string, acct *entity.Account) {
	r.sessions[token] = acct
}

func (r *fakeRegistry) Create(ctx context.Context, acct *entity.Account) (string, error) {
	if r.createErr != nil {
		return "", r.createErr
	}
	r.nextToken++
	token := fmt.Sprintf("tok-%d", r.nextToken)
	r.sessions[token] = acct
	return token, nil
}

func (r *fakeRegistry) Find(ctx context.Context, token string) (*entity.Account, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.sessions[token], nil
}

func (r *fakeRegistry) Refresh(ctx context.Context, token string, acct *entity.Account) error {
	r.refreshCalls++
	if _, ok := r.sessions[token]; ok {
		r.sessions[token] = acct
	}
	return nil
}

func (r *fakeRegistry) Delete(ctx context.Context, token string) error {
	delete(r.sessions, token)
	return nil
}

func (r *fakeRegistry) InvalidateAll(ctx context.Context, accountUUID string) error {
	r.invalidateCalls++
	if r.invalidateErr != nil {
		return r.invalidateErr
	}
	for token, acct := range r.sessions {
		if acct.UUID == accountUUID {
			delete(r.sessions, token)
		}
	}
	return nil
}

type fakeProvider struct {
	enrollErr error
	removeErr error
	verifyErr error

	nextID      int
	enrollCalls int
	removeCalls int
	verifyCalls int
	removed     []string
}

func (p *fakeProvider) Enroll(ctx context.Context, email, phone string, countryCode int) (string, error) {
	p.enrollCalls++
	if p.enrollErr != nil {
		return "", p.enrollErr
	}
	p.nextID++
	return fmt.Sprintf("authy-%d", p.nextID), nil
}

func (p *fakeProvider) Remove(ctx context.Context, authID string) error {
	p.removeCalls++
	if p.removeErr != nil {
		return p.removeErr
	}
	p.removed = append(p.removed, authID)
	return nil
}

func (p *fakeProvider) Verify(ctx context.Context, authID, code string) error {
	p.verifyCalls++
	return p.verifyErr
}

type fakeNotifier struct {
	sendErr      error
	sendCalls    int
	lastTo       string
	lastPassword string
}

func (n *fakeNotifier) SendWelcome(ctx context.Context, admin, created *entity.Account, password string) error {
	n.sendCalls++
	if n.sendErr != nil {
		return n.sendErr
	}
	n.lastTo = created.Name
	n.lastPassword = password
	return nil
}

// test wiring helpers

type testEnv struct {
	svc      *Service
	store    *fakeStore
	registry *fakeRegistry
	provider *fakeProvider
	notifier *fakeNotifier
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	registry := newFakeRegistry()
	provider := &fakeProvider{}
	notifier := &fakeNotifier{}
	cfg := Config{SystemMailerAccount: "postmaster"}
	svc := NewService(cfg, store, registry, provider, notifier, zap.NewNop().Sugar())
	return &testEnv{svc: svc, store: store, registry: registry, provider: provider, notifier: notifier}
}

func strptr(s string) *string { return &s }

func adminAccount(name string) *entity.Account {
	return &entity.Account{UUID: "uuid-" + name, Name: name, FullName: "Admin " + name, Admin: true, Version: 1}
}

func userAccount(name string) *entity.Account {
	return &entity.Account{UUID: "uuid-" + name, Name: name, FullName: "User " + name, Version: 1}
}

// seedSession registers an account snapshot under a fixed token.
func (e *testEnv) seedSession(token string, acct *entity.Account) {
	e.registry.put(token, acct)
}
