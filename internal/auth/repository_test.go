package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountRowColumns = []string{
	"id", "email", "password_hash", "is_verified", "verification_token",
	"reset_token", "reset_token_expires", "avatar_url", "created_at",
}

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db), mock
}

func TestRepositoryGetByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT\s+id, email, .*FROM\s+users\s+WHERE\s+email = \$1`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(int64(7), "a@x.com", "hash", true, nil, nil, nil, "https://img/a.png", created))

	account, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.ID)
	assert.True(t, account.Verified)
	assert.Empty(t, account.VerificationToken)
	assert.Nil(t, account.ResetTokenExpires)
	assert.Equal(t, "https://img/a.png", account.AvatarURL)
	assert.Equal(t, created, account.CreatedAt)
}

func TestRepositoryGetByEmailMissing(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email = \$1`).
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRepositoryGetByEmailWrapsErrors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email = \$1`).
		WithArgs("a@x.com").
		WillReturnError(errors.New("db down"))

	_, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.Regexp(t, `query account by email: .*db down`, err.Error())
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Now().UTC()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+users\s+\(email, password_hash, is_verified, verification_token, created_at, updated_at\).*RETURNING`).
		WithArgs("a@x.com", "hash", "tok", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(int64(1), "a@x.com", "hash", false, "tok", nil, nil, nil, created))

	account, err := repo.Create(context.Background(), NewAccount{Email: "a@x.com", PasswordHash: "hash", VerificationToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.ID)
	assert.Equal(t, "tok", account.VerificationToken)
	assert.False(t, account.Verified)
}

func TestRepositoryCreateConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), NewAccount{Email: "a@x.com", PasswordHash: "hash", VerificationToken: "tok"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRepositoryGetByVerificationTokenMatchesConsumedToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)WHERE\s+verification_token = \$1 OR verified_token = \$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow(int64(1), "a@x.com", "hash", true, nil, nil, nil, nil, time.Now()))

	account, err := repo.GetByVerificationToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, account.Verified)
}

func TestRepositoryMarkVerified(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	query := `(?s)UPDATE\s+users\s+SET\s+is_verified = TRUE, verified_token = verification_token, verification_token = NULL.*WHERE\s+id = \$1 AND verification_token = \$2`

	mock.ExpectExec(query).
		WithArgs(int64(1), "tok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs(int64(1), "tok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkVerified(context.Background(), 1, "tok")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkVerified(context.Background(), 1, "tok")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRepositorySetResetToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)UPDATE\s+users\s+SET\s+reset_token = \$2, reset_token_expires = \$3`).
		WithArgs(int64(1), "rt", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)UPDATE\s+users\s+SET\s+reset_token = \$2`).
		WithArgs(int64(2), "rt", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetResetToken(context.Background(), 1, "rt", expires))
	assert.ErrorIs(t, repo.SetResetToken(context.Background(), 2, "rt", expires), ErrAccountNotFound)
}

func TestRepositoryConsumeResetToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)SET\s+password_hash = \$3, reset_token = NULL, reset_token_expires = NULL.*WHERE\s+id = \$1 AND reset_token = \$2 AND reset_token_expires > \$4`).
		WithArgs(int64(1), "rt", "newhash", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.ConsumeResetToken(context.Background(), 1, "rt", "newhash", now)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestRepositoryDeleteCascades(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM contacts WHERE user_id = \$1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), 3))
}

func TestRepositoryDeleteRollsBackOnFailure(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM contacts WHERE user_id = \$1`).
		WithArgs(int64(3)).
		WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete account contacts")
}

func TestRepositoryRegisterFailedAttemptLocks(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT\s+failed_attempts, locked_until\s+FROM\s+auth_login_attempts\s+WHERE\s+email = \$1\s+FOR UPDATE`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "locked_until"}).AddRow(4, nil))
	mock.ExpectExec(`(?s)INSERT INTO auth_login_attempts .*ON CONFLICT \(email\)`).
		WithArgs("a@x.com", 0, now.Add(15*time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	until, err := repo.RegisterFailedAttempt(context.Background(), "a@x.com", 5, 15*time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.Equal(t, now.Add(15*time.Minute), *until)
}

func TestRepositoryGetLoginAttemptMissingRow(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+auth_login_attempts`).
		WithArgs("a@x.com").
		WillReturnError(sql.ErrNoRows)

	attempt, err := repo.GetLoginAttempt(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, attempt.FailedAttempts)
	assert.Nil(t, attempt.LockedUntil)
}

func TestRepositoryCleanupStaleAuthData(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)WITH expired AS .*UPDATE users u\s+SET reset_token = NULL, reset_token_expires = NULL`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`(?s)WITH stale AS .*DELETE FROM auth_login_attempts`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := repo.CleanupStaleAuthData(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{ClearedResetTokens: 3, DeletedLoginAttempts: 2}, result)
}
