package auth

import (
	"errors"
	"time"

	"upcontacts/internal/media"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotVerified        = errors.New("email not verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("account already exists")
	ErrTokenExpired       = errors.New("token expired")
	ErrUpstream           = errors.New("upstream failure")

	ErrUnsupportedImage = media.ErrUnsupportedType
	ErrImageTooLarge    = media.ErrTooLarge
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
