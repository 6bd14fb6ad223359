package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `id, email, password_hash, is_verified, verification_token, reset_token, reset_token_expires, avatar_url, created_at`

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	ClearedResetTokens   int64 `json:"cleared_reset_tokens"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		account           Account
		verificationToken sql.NullString
		resetToken        sql.NullString
		resetExpires      sql.NullTime
		avatarURL         sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Verified,
		&verificationToken,
		&resetToken,
		&resetExpires,
		&avatarURL,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}

	account.VerificationToken = verificationToken.String
	account.ResetToken = resetToken.String
	account.AvatarURL = avatarURL.String
	if resetExpires.Valid {
		value := resetExpires.Time.UTC()
		account.ResetTokenExpires = &value
	}
	return account, nil
}

func (r *Repository) queryAccount(ctx context.Context, action, query string, args ...any) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("%s: %w", action, err)
	}
	return account, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (Account, error) {
	return r.queryAccount(ctx, "query account by email", `
		SELECT `+accountColumns+`
		FROM users
		WHERE email = $1
	`, email)
}

func (r *Repository) Create(ctx context.Context, input NewAccount) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, is_verified, verification_token, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4, $4)
		RETURNING `+accountColumns,
		input.Email, input.PasswordHash, input.VerificationToken, time.Now().UTC()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Account{}, ErrConflict
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

// GetByVerificationToken also matches the token an account was verified
// with, so a replayed link resolves to the already-verified account.
func (r *Repository) GetByVerificationToken(ctx context.Context, token string) (Account, error) {
	return r.queryAccount(ctx, "query account by verification token", `
		SELECT `+accountColumns+`
		FROM users
		WHERE verification_token = $1 OR verified_token = $1
		LIMIT 1
	`, token)
}

func (r *Repository) MarkVerified(ctx context.Context, id int64, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_verified = TRUE, verified_token = verification_token, verification_token = NULL, updated_at = $3
		WHERE id = $1 AND verification_token = $2
	`, id, token, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark account verified: %w", err)
	}
	return rowsChanged(res, "mark account verified")
}

func (r *Repository) SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET reset_token = $2, reset_token_expires = $3, updated_at = $4
		WHERE id = $1
	`, id, token, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	changed, err := rowsChanged(res, "store reset token")
	if err != nil {
		return err
	}
	if !changed {
		return ErrAccountNotFound
	}
	return nil
}

func (r *Repository) GetByResetToken(ctx context.Context, token string) (Account, error) {
	return r.queryAccount(ctx, "query account by reset token", `
		SELECT `+accountColumns+`
		FROM users
		WHERE reset_token = $1
	`, token)
}

func (r *Repository) ConsumeResetToken(ctx context.Context, id int64, token, passwordHash string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $3, reset_token = NULL, reset_token_expires = NULL, updated_at = $4
		WHERE id = $1 AND reset_token = $2 AND reset_token_expires > $4
	`, id, token, passwordHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consume reset token: %w", err)
	}
	return rowsChanged(res, "consume reset token")
}

func (r *Repository) ClearResetToken(ctx context.Context, id int64, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET reset_token = NULL, reset_token_expires = NULL, updated_at = $3
		WHERE id = $1 AND reset_token = $2
	`, id, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear reset token: %w", err)
	}
	return nil
}

func (r *Repository) UpdateAvatar(ctx context.Context, id int64, avatarURL string) (Account, error) {
	return r.queryAccount(ctx, "update avatar", `
		UPDATE users
		SET avatar_url = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns,
		id, avatarURL, time.Now().UTC())
}

// Delete removes the account's contacts and then the account in one transaction.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("delete account contacts: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	changed, err := rowsChanged(res, "delete account")
	if err != nil {
		return err
	}
	if !changed {
		return ErrAccountNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete account tx: %w", err)
	}
	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error) {
	var attempt LoginAttempt
	attempt.Email = email

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
	`, email).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

// RegisterFailedAttempt increments the failure counter and returns the lock
// expiry once maxAttempts is reached, or the still-active lock.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&failed, &lockedUntil)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock login attempt row: %w", err)
		}
		failed = 0
		lockedUntil = sql.NullTime{}
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (email, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, email, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM auth_login_attempts WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}

// CleanupStaleAuthData clears expired reset tokens and drops login-attempt
// rows untouched for loginAttemptRetention, at most batchSize rows each.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM users
			WHERE reset_token IS NOT NULL AND reset_token_expires < $1
			ORDER BY reset_token_expires ASC
			LIMIT $2
		)
		UPDATE users u
		SET reset_token = NULL, reset_token_expires = NULL, updated_at = $1
		FROM expired
		WHERE u.id = expired.id
	`, now, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("clear expired reset tokens: %w", err)
	}
	cleared, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}

	res, err = r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM auth_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < $2)
			ORDER BY updated_at ASC
			LIMIT $3
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, now.Add(-loginAttemptRetention), now, batchSize)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete stale login attempts: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return CleanupResult{ClearedResetTokens: cleared, DeletedLoginAttempts: deleted}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func rowsChanged(res sql.Result, action string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", action, err)
	}
	return affected > 0, nil
}
