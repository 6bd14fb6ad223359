package auth

import (
	"context"
	"time"
)

// AccountFinder is the read contract the session resolver needs.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (Account, error)
}

// Store is the credential store contract. Uniqueness of email, verification
// token and reset token is enforced by the store. Conditional updates report
// false when the row no longer matches, which is how single-use tokens stay
// single-use under concurrent requests.
type Store interface {
	AccountFinder
	Create(ctx context.Context, account NewAccount) (Account, error)
	GetByVerificationToken(ctx context.Context, token string) (Account, error)
	MarkVerified(ctx context.Context, id int64, token string) (bool, error)
	SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
	GetByResetToken(ctx context.Context, token string) (Account, error)
	ConsumeResetToken(ctx context.Context, id int64, token, passwordHash string, now time.Time) (bool, error)
	ClearResetToken(ctx context.Context, id int64, token string) error
	UpdateAvatar(ctx context.Context, id int64, avatarURL string) (Account, error)
	Delete(ctx context.Context, id int64) error
}

// AttemptTracker records consecutive failed logins per identity.
type AttemptTracker interface {
	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}
