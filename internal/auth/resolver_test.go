package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestCodec(t *testing.T) *TokenCodec {
	t.Helper()
	codec, err := NewTokenCodec("test-secret", "HS256")
	require.NoError(t, err)
	return codec
}

func seedAccount(t *testing.T, store *memStore, email string, verified bool) Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	account, err := store.Create(context.Background(), NewAccount{Email: email, PasswordHash: string(hash), VerificationToken: "vt-" + email})
	require.NoError(t, err)
	if verified {
		_, err = store.MarkVerified(context.Background(), account.ID, "vt-"+email)
		require.NoError(t, err)
		account.Verified = true
		account.VerificationToken = ""
	}
	return account
}

func TestResolverFillsCacheFromStore(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec(t)
	store := newMemStore()
	cache := NewMemoryCache()
	seedAccount(t, store, "a@x.com", true)

	resolver := NewResolver(codec, store, cache, nil)
	token, err := codec.Issue("a@x.com", AccessToken, 0)
	require.NoError(t, err)

	account, err := resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", account.Email)
	assert.NotEmpty(t, account.PasswordHash)
	assert.Equal(t, 1, store.lookups)

	snapshot, ok, err := cache.Get(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, account.ID, snapshot.ID)

	cached, err := resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lookups, "second resolve must be served from the cache")
	assert.Empty(t, cached.PasswordHash)
	assert.Equal(t, account.ID, cached.ID)
}

func TestResolverCacheHitSkipsVerificationCheck(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec(t)
	store := newMemStore()
	cache := NewMemoryCache()
	seedAccount(t, store, "a@x.com", true)

	resolver := NewResolver(codec, store, cache, nil)
	token, err := codec.Issue("a@x.com", AccessToken, 0)
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, token)
	require.NoError(t, err)

	store.setVerified("a@x.com", false)

	account, err := resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.True(t, account.Verified)

	require.NoError(t, cache.Invalidate(ctx, "a@x.com"))
	_, err = resolver.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrNotVerified)
}

func TestResolverFailures(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec(t)
	store := newMemStore()
	seedAccount(t, store, "pending@x.com", false)
	resolver := NewResolver(codec, store, NewMemoryCache(), nil)

	refresh, err := codec.Issue("pending@x.com", RefreshToken, 0)
	require.NoError(t, err)
	ghost, err := codec.Issue("ghost@x.com", AccessToken, 0)
	require.NoError(t, err)
	pending, err := codec.Issue("pending@x.com", AccessToken, 0)
	require.NoError(t, err)
	blank, err := codec.Issue("  ", AccessToken, 0)
	require.NoError(t, err)

	other, err := NewTokenCodec("other-secret", "HS256")
	require.NoError(t, err)
	forged, err := other.Issue("pending@x.com", AccessToken, 0)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "not-a-token", want: ErrInvalidToken},
		{name: "forged", token: forged, want: ErrInvalidToken},
		{name: "refresh class", token: refresh, want: ErrInvalidToken},
		{name: "blank subject", token: blank, want: ErrInvalidToken},
		{name: "unknown identity", token: ghost, want: ErrAccountNotFound},
		{name: "unverified", token: pending, want: ErrNotVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(ctx, tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolverExpiredToken(t *testing.T) {
	codec := newTestCodec(t)
	store := newMemStore()
	seedAccount(t, store, "a@x.com", true)

	issuedAt := time.Now()
	codec.now = func() time.Time { return issuedAt }
	token, err := codec.Issue("a@x.com", AccessToken, time.Minute)
	require.NoError(t, err)

	codec.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	_, err = NewResolver(codec, store, nil, nil).Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolverWorksWithoutCache(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec(t)
	store := newMemStore()
	seedAccount(t, store, "a@x.com", true)
	token, err := codec.Issue("a@x.com", AccessToken, 0)
	require.NoError(t, err)

	resolver := NewResolver(codec, store, nil, nil)
	for i := 0; i < 2; i++ {
		account, err := resolver.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", account.Email)
	}
	assert.Equal(t, 2, store.lookups)
}

func TestResolverFallsThroughWhenCacheIsDown(t *testing.T) {
	ctx := context.Background()
	codec := newTestCodec(t)
	store := newMemStore()
	seedAccount(t, store, "a@x.com", true)
	token, err := codec.Issue("a@x.com", AccessToken, 0)
	require.NoError(t, err)

	srv := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1}))
	srv.Close()

	account, err := NewResolver(codec, store, cache, nil).Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", account.Email)
	assert.Equal(t, 1, store.lookups)
}

func TestResolverPropagatesStoreErrors(t *testing.T) {
	codec := newTestCodec(t)
	store := newMemStore()
	store.failWith = errBoom
	token, err := codec.Issue("a@x.com", AccessToken, 0)
	require.NoError(t, err)

	_, err = NewResolver(codec, store, NewMemoryCache(), nil).Resolve(context.Background(), token)
	assert.ErrorIs(t, err, errBoom)
}
