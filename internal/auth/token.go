package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenClass separates access tokens from refresh tokens. It travels in
// the "typ" claim.
type TokenClass string

const (
	AccessToken  TokenClass = "access"
	RefreshToken TokenClass = "refresh"
)

// Claims are the verified contents of a session token.
type Claims struct {
	Subject   string
	Class     TokenClass
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Class TokenClass `json:"typ"`
}

// TokenCodec issues and verifies HMAC-signed session tokens.
type TokenCodec struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec builds a codec for an HS256, HS384 or HS512 secret. An
// empty algorithm selects HS256.
func NewTokenCodec(secret, algorithm string) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("empty signing secret")
	}

	var method jwt.SigningMethod
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}

	return &TokenCodec{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}, nil
}

// WithLifetimes overrides the default lifetimes. Non-positive values keep the default.
func (c *TokenCodec) WithLifetimes(accessTTL, refreshTTL time.Duration) *TokenCodec {
	if accessTTL > 0 {
		c.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		c.refreshTTL = refreshTTL
	}
	return c
}

// AccessTTL is the lifetime of access tokens issued with the default ttl.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.accessTTL
}

// Issue signs a token for subject. A non-positive ttl selects the class default.
func (c *TokenCodec) Issue(subject string, class TokenClass, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.lifetime(class)
	}

	now := c.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Class: class,
	}

	encoded, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// Verify returns the claims of a well-formed, correctly signed, unexpired
// token. Every failure is reported as ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Subject:   claims.Subject,
		Class:     claims.Class,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (c *TokenCodec) lifetime(class TokenClass) time.Duration {
	if class == RefreshToken {
		return c.refreshTTL
	}
	return c.accessTTL
}
