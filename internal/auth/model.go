package auth

import "time"

// Account is a row of the users table. PasswordHash is empty when the
// account was materialized from a cached Snapshot.
type Account struct {
	ID                int64
	Email             string
	PasswordHash      string
	Verified          bool
	VerificationToken string
	ResetToken        string
	ResetTokenExpires *time.Time
	AvatarURL         string
	CreatedAt         time.Time
}

// AccountView is the outward representation of an account. It never carries
// secret fields.
type AccountView struct {
	ID         int64   `json:"id"`
	Email      string  `json:"email"`
	IsVerified bool    `json:"is_verified"`
	AvatarURL  *string `json:"avatar_url"`
}

func (a Account) View() AccountView {
	view := AccountView{ID: a.ID, Email: a.Email, IsVerified: a.Verified}
	if a.AvatarURL != "" {
		avatar := a.AvatarURL
		view.AvatarURL = &avatar
	}
	return view
}

// Snapshot is the password-free copy of an account held by the identity cache.
type Snapshot struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

func SnapshotOf(a Account) Snapshot {
	return Snapshot{ID: a.ID, Email: a.Email, IsVerified: a.Verified, AvatarURL: a.AvatarURL}
}

func (s Snapshot) Account() Account {
	return Account{ID: s.ID, Email: s.Email, Verified: s.IsVerified, AvatarURL: s.AvatarURL}
}

type NewAccount struct {
	Email             string
	PasswordHash      string
	VerificationToken string
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Message struct {
	Detail string `json:"detail"`
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}
