package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"upcontacts/internal/media"
	"upcontacts/internal/observability"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
	resetTokenTTL      = time.Hour
	oneTimeTokenBytes  = 32
)

const (
	MessageVerified         = "email verified"
	MessageAlreadyVerified  = "email already verified"
	MessageResetRequested   = "if the email exists, a reset link has been sent"
	MessagePasswordReset    = "password has been reset"
	MessageAccountDeleted   = "account deleted"
	tokenTypeBearer         = "bearer"
	dummyPasswordHashSource = "timing-equalizer-password"
)

// Mailer delivers the out-of-band emails of the account lifecycle.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// ImageHost stores avatar bytes and returns a public reference URL.
type ImageHost interface {
	UploadAvatar(ctx context.Context, accountID int64, contentType string, data []byte) (string, error)
}

// Service drives registration, email verification, login gating, password
// reset and profile image updates.
type Service struct {
	store        Store
	codec        *TokenCodec
	cache        IdentityCache
	mailer       Mailer
	images       ImageHost
	logger       *observability.Logger
	attempts     AttemptTracker
	maxAttempts  int
	lockDuration time.Duration
	cacheTTL     time.Duration
	bcryptCost   int
	dummyOnce    sync.Once
	dummyHash    []byte
	now          func() time.Time
	newToken     func() (string, error)
}

func NewService(store Store, codec *TokenCodec, cache IdentityCache, mailer Mailer, images ImageHost, logger *observability.Logger) *Service {
	return &Service{
		store:        store,
		codec:        codec,
		cache:        cache,
		mailer:       mailer,
		images:       images,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
		cacheTTL:     DefaultSnapshotTTL,
		bcryptCost:   bcrypt.DefaultCost,
		now:          time.Now,
		newToken:     randomToken,
	}
}

// WithSecurityConfig enables per-identity lockout backed by attempts.
func (s *Service) WithSecurityConfig(attempts AttemptTracker, maxAttempts int, lockDuration time.Duration) *Service {
	s.attempts = attempts
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	return s
}

func (s *Service) WithCacheTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

func (s *Service) Register(ctx context.Context, email, password string) (Account, error) {
	email = strings.TrimSpace(email)

	_, err := s.store.GetByEmail(ctx, email)
	if err == nil {
		return Account{}, ErrConflict
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return Account{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return Account{}, fmt.Errorf("generate verification token: %w", err)
	}

	account, err := s.store.Create(ctx, NewAccount{
		Email:             email,
		PasswordHash:      hash,
		VerificationToken: token,
	})
	if err != nil {
		return Account{}, err
	}

	if err := s.mailer.SendVerification(ctx, account.Email, token); err != nil {
		return account, fmt.Errorf("%w: send verification email: %v", ErrUpstream, err)
	}

	return account, nil
}

// VerifyEmail reports whether the account had already been verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, ErrInvalidToken
	}

	account, err := s.store.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, ErrInvalidToken
		}
		return false, err
	}
	if account.Verified {
		return true, nil
	}

	changed, err := s.store.MarkVerified(ctx, account.ID, token)
	if err != nil {
		return false, err
	}
	// A concurrent request consumed the token first.
	return !changed, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if s.attempts != nil {
		attempt, err := s.attempts.GetLoginAttempt(ctx, email)
		if err != nil {
			return Tokens{}, err
		}
		if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
			return Tokens{}, ErrLoginLocked{Until: *attempt.LockedUntil}
		}
	}

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return Tokens{}, err
		}
		s.compareDummy(password)
		return Tokens{}, s.failedLogin(ctx, email, now)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, s.failedLogin(ctx, email, now)
	}

	if s.attempts != nil {
		if err := s.attempts.ResetLoginAttempt(ctx, email); err != nil {
			return Tokens{}, err
		}
	}

	if !account.Verified {
		return Tokens{}, ErrNotVerified
	}

	s.cachePut(ctx, account)

	return s.issueTokens(account.Email)
}

// RequestPasswordReset answers identically whether or not email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.SetResetToken(ctx, account.ID, token, s.now().UTC().Add(resetTokenTTL)); err != nil {
		return err
	}

	if err := s.mailer.SendPasswordReset(ctx, account.Email, token); err != nil {
		return fmt.Errorf("%w: send reset email: %v", ErrUpstream, err)
	}
	return nil
}

func (s *Service) ConsumePasswordReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	account, err := s.store.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	now := s.now().UTC()
	if account.ResetTokenExpires == nil || !now.Before(*account.ResetTokenExpires) {
		if err := s.store.ClearResetToken(ctx, account.ID, token); err != nil {
			return err
		}
		return ErrTokenExpired
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	changed, err := s.store.ConsumeResetToken(ctx, account.ID, token, hash, now)
	if err != nil {
		return err
	}
	if !changed {
		return ErrInvalidToken
	}

	s.cacheInvalidate(ctx, account.Email)
	return nil
}

// UpdateProfileImage validates the payload before handing it to the image
// host, then persists the reference and rewrites the cached snapshot.
func (s *Service) UpdateProfileImage(ctx context.Context, account Account, contentType string, data []byte) (Account, error) {
	if err := media.ValidateAvatar(contentType, len(data)); err != nil {
		return Account{}, err
	}

	avatarURL, err := s.images.UploadAvatar(ctx, account.ID, media.NormalizeContentType(contentType), data)
	if err != nil {
		return Account{}, fmt.Errorf("%w: upload avatar: %v", ErrUpstream, err)
	}

	updated, err := s.store.UpdateAvatar(ctx, account.ID, avatarURL)
	if err != nil {
		return Account{}, err
	}

	s.cacheInvalidate(ctx, updated.Email)
	s.cachePut(ctx, updated)

	return updated, nil
}

func (s *Service) DeleteAccount(ctx context.Context, account Account) error {
	if err := s.store.Delete(ctx, account.ID); err != nil {
		return err
	}
	s.cacheInvalidate(ctx, account.Email)
	return nil
}

func (s *Service) issueTokens(subject string) (Tokens, error) {
	access, err := s.codec.Issue(subject, AccessToken, 0)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.codec.Issue(subject, RefreshToken, 0)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

func (s *Service) failedLogin(ctx context.Context, email string, now time.Time) error {
	if s.attempts == nil {
		return ErrInvalidCredentials
	}
	lockedUntil, err := s.attempts.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// compareDummy spends one bcrypt comparison so unknown identities take as
// long as wrong passwords.
func (s *Service) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(dummyPasswordHashSource), s.bcryptCost)
	})
	if s.dummyHash == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *Service) cachePut(ctx context.Context, account Account) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, account.Email, SnapshotOf(account), s.cacheTTL); err != nil {
		s.logger.Error("cache_put_failed", map[string]any{"error": err.Error()})
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, identity string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identity); err != nil {
		s.logger.Error("cache_invalidate_failed", map[string]any{"error": err.Error()})
	}
}

func randomToken() (string, error) {
	b := make([]byte, oneTimeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
