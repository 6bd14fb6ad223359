package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"upcontacts/internal/observability"
)

// Resolver turns a bearer token into the authenticated account, consulting
// the identity cache before the store and refilling it on a store hit.
//
// A cache hit is trusted without re-checking the verification flag: snapshots
// are only written for verified accounts, so an account de-verified after it
// was cached keeps authenticating until its entry expires or is invalidated.
type Resolver struct {
	codec    *TokenCodec
	store    AccountFinder
	cache    IdentityCache
	cacheTTL time.Duration
	logger   *observability.Logger
}

func NewResolver(codec *TokenCodec, store AccountFinder, cache IdentityCache, logger *observability.Logger) *Resolver {
	return &Resolver{
		codec:    codec,
		store:    store,
		cache:    cache,
		cacheTTL: DefaultSnapshotTTL,
		logger:   logger,
	}
}

func (r *Resolver) WithCacheTTL(ttl time.Duration) *Resolver {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, bearerToken string) (Account, error) {
	claims, err := r.codec.Verify(bearerToken)
	if err != nil || claims.Class != AccessToken {
		return Account{}, ErrInvalidToken
	}

	identity := strings.TrimSpace(claims.Subject)
	if identity == "" {
		return Account{}, ErrInvalidToken
	}

	if r.cache != nil {
		snapshot, ok, err := r.cache.Get(ctx, identity)
		if err != nil {
			r.logger.Error("cache_get_failed", map[string]any{"error": err.Error()})
		} else if ok {
			return snapshot.Account(), nil
		}
	}

	account, err := r.store.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	if !account.Verified {
		return Account{}, ErrNotVerified
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, identity, SnapshotOf(account), r.cacheTTL); err != nil {
			r.logger.Error("cache_put_failed", map[string]any{"error": err.Error()})
		}
	}

	return account, nil
}
