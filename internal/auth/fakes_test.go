package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*memAccount
	lookups  int
	failWith error
}

type memAccount struct {
	Account
	verifiedToken string
}

func newMemStore() *memStore {
	return &memStore{accounts: map[int64]*memAccount{}}
}

func (s *memStore) find(match func(*memAccount) bool) (Account, error) {
	for _, a := range s.accounts {
		if match(a) {
			return a.Account, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (s *memStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failWith != nil {
		return Account{}, s.failWith
	}
	return s.find(func(a *memAccount) bool { return a.Email == email })
}

func (s *memStore) Create(_ context.Context, in NewAccount) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == in.Email {
			return Account{}, ErrConflict
		}
	}
	s.nextID++
	a := &memAccount{Account: Account{
		ID:                s.nextID,
		Email:             in.Email,
		PasswordHash:      in.PasswordHash,
		VerificationToken: in.VerificationToken,
		CreatedAt:         time.Now().UTC(),
	}}
	s.accounts[a.ID] = a
	return a.Account, nil
}

func (s *memStore) GetByVerificationToken(_ context.Context, token string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(a *memAccount) bool { return a.VerificationToken == token || a.verifiedToken == token })
}

func (s *memStore) MarkVerified(_ context.Context, id int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.VerificationToken != token {
		return false, nil
	}
	a.Verified = true
	a.verifiedToken = token
	a.VerificationToken = ""
	return true, nil
}

func (s *memStore) SetResetToken(_ context.Context, id int64, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.ResetToken = token
	a.ResetTokenExpires = &expiresAt
	return nil
}

func (s *memStore) GetByResetToken(_ context.Context, token string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(a *memAccount) bool { return a.ResetToken != "" && a.ResetToken == token })
}

func (s *memStore) ConsumeResetToken(_ context.Context, id int64, token, hash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || a.ResetToken != token || a.ResetTokenExpires == nil || !now.Before(*a.ResetTokenExpires) {
		return false, nil
	}
	a.PasswordHash = hash
	a.ResetToken = ""
	a.ResetTokenExpires = nil
	return true, nil
}

func (s *memStore) ClearResetToken(_ context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok && a.ResetToken == token {
		a.ResetToken = ""
		a.ResetTokenExpires = nil
	}
	return nil
}

func (s *memStore) UpdateAvatar(_ context.Context, id int64, url string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	a.AvatarURL = url
	return a.Account, nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *memStore) setVerified(email string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			a.Verified = verified
		}
	}
}

type memAttempts struct {
	mu     sync.Mutex
	failed map[string]int
	locked map[string]time.Time
}

func newMemAttempts() *memAttempts {
	return &memAttempts{failed: map[string]int{}, locked: map[string]time.Time{}}
}

func (m *memAttempts) GetLoginAttempt(_ context.Context, email string) (LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := LoginAttempt{Email: email, FailedAttempts: m.failed[email]}
	if until, ok := m.locked[email]; ok {
		attempt.LockedUntil = &until
	}
	return attempt, nil
}

func (m *memAttempts) RegisterFailedAttempt(_ context.Context, email string, maxAttempts int, lock time.Duration, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[email]++
	if m.failed[email] >= maxAttempts {
		until := now.Add(lock)
		m.locked[email] = until
		m.failed[email] = 0
		return &until, nil
	}
	return nil, nil
}

func (m *memAttempts) ResetLoginAttempt(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, email)
	delete(m.locked, email)
	return nil
}

type sentMail struct {
	kind  string
	email string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendVerification(_ context.Context, email, token string) error {
	return m.record("verify", email, token)
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, token string) error {
	return m.record("reset", email, token)
}

func (m *fakeMailer) record(kind, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{kind: kind, email: email, token: token})
	return nil
}

func (m *fakeMailer) last(kind string) (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i], true
		}
	}
	return sentMail{}, false
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeImageHost struct {
	calls int
	err   error
}

func (h *fakeImageHost) UploadAvatar(_ context.Context, accountID int64, contentType string, data []byte) (string, error) {
	h.calls++
	if h.err != nil {
		return "", h.err
	}
	return fmt.Sprintf("https://images.example.com/avatars/user_%d.jpg", accountID), nil
}

var errBoom = errors.New("boom")
