package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

const userColumns = `identifier, name, phone, role, approved, site, location, registered_at, created_at, updated_at, rejected_at`

// GetUser loads one user by external identifier.
func (s *Store) GetUser(ctx context.Context, identifier string) (domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return domain.User{}, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.User{}, fmt.Errorf("identifier is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE identifier = ?`, identifier)
	user, err := scanUser(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, storage.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// PutUser upserts one user and enqueues events in the same transaction.
// created_at is kept from the first registration.
func (s *Store) PutUser(ctx context.Context, user domain.User, events ...notifystorage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	user.Identifier = strings.TrimSpace(user.Identifier)
	if user.Identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	if user.Role == "" {
		return fmt.Errorf("role is required")
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = time.Now().UTC()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = user.UpdatedAt
	}
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = user.CreatedAt
	}

	return s.inTx(ctx, "put user", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
	name = excluded.name,
	phone = excluded.phone,
	role = excluded.role,
	approved = excluded.approved,
	site = excluded.site,
	location = excluded.location,
	registered_at = excluded.registered_at,
	updated_at = excluded.updated_at,
	rejected_at = excluded.rejected_at
`,
			user.Identifier,
			strings.TrimSpace(user.Name),
			strings.TrimSpace(user.Phone),
			string(user.Role),
			boolToInt(user.Approved),
			strings.TrimSpace(user.Site),
			strings.TrimSpace(user.Location),
			toMillis(user.RegisteredAt),
			toMillis(user.CreatedAt),
			toMillis(user.UpdatedAt),
			toNullMillis(user.RejectedAt),
		); err != nil {
			return fmt.Errorf("put user: %w", err)
		}
		return enqueueEvents(ctx, tx, events)
	})
}

// ListApprovedUsers lists approved, non-rejected users with role, ordered by identifier.
func (s *Store) ListApprovedUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryUsers(ctx, "list approved users", `
SELECT `+userColumns+`
FROM users
WHERE role = ? AND approved = 1 AND rejected_at IS NULL
ORDER BY identifier ASC
`, string(role))
}

// ListPendingUsers lists users waiting for approval, oldest registration first.
func (s *Store) ListPendingUsers(ctx context.Context) ([]domain.User, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryUsers(ctx, "list pending users", `
SELECT `+userColumns+`
FROM users
WHERE approved = 0 AND rejected_at IS NULL
ORDER BY registered_at ASC, identifier ASC
`)
}

func (s *Store) queryUsers(ctx context.Context, op string, query string, args ...any) ([]domain.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return users, nil
}

func scanUser(scan scanner) (domain.User, error) {
	var (
		user         domain.User
		role         string
		approved     int64
		registeredAt int64
		createdAt    int64
		updatedAt    int64
		rejectedAt   sql.NullInt64
	)
	if err := scan(
		&user.Identifier,
		&user.Name,
		&user.Phone,
		&role,
		&approved,
		&user.Site,
		&user.Location,
		&registeredAt,
		&createdAt,
		&updatedAt,
		&rejectedAt,
	); err != nil {
		return domain.User{}, err
	}
	user.Role = domain.Role(role)
	user.Approved = approved == 1
	user.RegisteredAt = fromMillis(registeredAt)
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	user.RejectedAt = fromNullMillis(rejectedAt)
	return user, nil
}
