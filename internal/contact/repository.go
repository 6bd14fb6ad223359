package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const contactColumns = `id, name, surname, email, phone, birthday, extra, created_at`

const uniqueViolation = "23505"

var (
	ErrNotFound       = errors.New("contact not found")
	ErrDuplicateEmail = errors.New("contact with this email already exists")
)

// Store is the owner-scoped contact persistence contract. Every method
// filters by userID, so a foreign contact behaves exactly like a missing one.
type Store interface {
	List(ctx context.Context, userID int64) ([]Contact, error)
	Get(ctx context.Context, userID, id int64) (Contact, error)
	EmailTaken(ctx context.Context, userID int64, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, userID int64, input Input) (Contact, error)
	Update(ctx context.Context, userID, id int64, patch Patch) (Contact, error)
	Delete(ctx context.Context, userID, id int64) error
	Search(ctx context.Context, userID int64, query string) ([]Contact, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c        Contact
		birthday time.Time
		extra    sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Surname, &c.Email, &c.Phone, &birthday, &extra, &c.CreatedAt); err != nil {
		return Contact{}, err
	}
	c.Birthday = Date{Time: birthday.UTC()}
	if extra.Valid {
		value := extra.String
		c.Extra = &value
	}
	return c, nil
}

func (r *Repository) queryContacts(ctx context.Context, action, query string, args ...any) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	return contacts, nil
}

func (r *Repository) List(ctx context.Context, userID int64) ([]Contact, error) {
	return r.queryContacts(ctx, "query contacts", `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1
		ORDER BY id
	`, userID)
}

func (r *Repository) Get(ctx context.Context, userID, id int64) (Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE id = $1 AND user_id = $2
	`, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("query contact: %w", err)
	}
	return c, nil
}

func (r *Repository) EmailTaken(ctx context.Context, userID int64, email string, excludeID int64) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contacts WHERE user_id = $1 AND email = $2 AND id <> $3
		)
	`, userID, email, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check contact email: %w", err)
	}
	return taken, nil
}

func (r *Repository) Create(ctx context.Context, userID int64, input Input) (Contact, error) {
	birthday, err := ParseDate(input.Birthday)
	if err != nil {
		return Contact{}, err
	}

	c, err := scanContact(r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (user_id, name, surname, email, phone, birthday, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+contactColumns,
		userID, input.Name, input.Surname, input.Email, input.Phone, birthday.Time, nullableString(input.Extra), time.Now().UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return Contact{}, ErrDuplicateEmail
		}
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

// Update applies the keys present in patch. An empty patch returns the
// contact unchanged.
func (r *Repository) Update(ctx context.Context, userID, id int64, patch Patch) (Contact, error) {
	if patch.Empty() {
		return r.Get(ctx, userID, id)
	}

	sets := make([]string, 0, 6)
	args := []any{id, userID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Name.Set {
		add("name", patch.Name.Value)
	}
	if patch.Surname.Set {
		add("surname", patch.Surname.Value)
	}
	if patch.Email.Set {
		add("email", patch.Email.Value)
	}
	if patch.Phone.Set {
		add("phone", patch.Phone.Value)
	}
	if patch.Birthday.Set {
		birthday, err := ParseDate(patch.Birthday.Value)
		if err != nil {
			return Contact{}, err
		}
		add("birthday", birthday.Time)
	}
	if patch.Extra.Set {
		if patch.Extra.Null {
			add("extra", nil)
		} else {
			add("extra", patch.Extra.Value)
		}
	}

	c, err := scanContact(r.db.QueryRowContext(ctx, `
		UPDATE contacts
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1 AND user_id = $2
		RETURNING `+contactColumns,
		args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return Contact{}, ErrDuplicateEmail
		}
		return Contact{}, fmt.Errorf("update contact: %w", err)
	}
	return c, nil
}

func (r *Repository) Delete(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Search matches query as a case-insensitive substring of name, surname or
// email. LIKE wildcards in query are matched literally.
func (r *Repository) Search(ctx context.Context, userID int64, query string) ([]Contact, error) {
	return r.queryContacts(ctx, "search contacts", `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1
		  AND (name ILIKE $2 ESCAPE '\' OR surname ILIKE $2 ESCAPE '\' OR email ILIKE $2 ESCAPE '\')
		ORDER BY id
	`, userID, "%"+escapeLike(query)+"%")
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
