package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// RegisterInput carries the fields collected by the registration dialog.
type RegisterInput struct {
	Identifier string
	Name       string
	Phone      string
	Role       string
	Site       string
	Location   string
}

// RegisterResult reports the stored user and whether an admin must act.
type RegisterResult struct {
	User            domain.User
	PendingApproval bool
}

// AdminInput provisions an administrator.
type AdminInput struct {
	Identifier string
	Name       string
	Phone      string
}

// Gate owns registration, admin approval and the role guard every other
// use-case runs first.
type Gate struct {
	*core
}

// Register creates or refreshes a user. Sellers are approved immediately;
// buyers and warehouse operators wait for an admin, who is notified.
func (g *Gate) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	if err := g.ready(); err != nil {
		return RegisterResult{}, err
	}
	identifier, err := domain.NormalizeIdentifier(input.Identifier)
	if err != nil {
		return RegisterResult{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return RegisterResult{}, apperrors.New(apperrors.CodeUserNameRequired, "full name is required")
	}
	role, err := domain.ParseRole(input.Role)
	if err != nil {
		return RegisterResult{}, err
	}
	if !role.SelfRegistrable() {
		return RegisterResult{}, apperrors.WithMetadata(apperrors.CodeUserInvalidRole, "role cannot be chosen at registration", map[string]string{"Role": input.Role})
	}
	phone, err := domain.NormalizePhone(input.Phone)
	if err != nil {
		return RegisterResult{}, err
	}

	existing, found, err := g.lookupUser(ctx, identifier)
	if err != nil {
		return RegisterResult{}, err
	}
	if found && existing.Role == domain.RoleAdmin {
		return RegisterResult{}, apperrors.New(apperrors.CodePermissionDenied, "administrators cannot register again")
	}

	now := g.now()
	user := domain.User{
		Identifier:   identifier,
		Name:         name,
		Phone:        phone,
		Role:         role,
		Approved:     role.AutoApproved(),
		Site:         strings.TrimSpace(input.Site),
		Location:     strings.TrimSpace(input.Location),
		RegisteredAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if found {
		user.CreatedAt = existing.CreatedAt
		// Refreshing the profile under the same role keeps an approval.
		if existing.Active(role) {
			user.Approved = true
			user.RegisteredAt = existing.RegisteredAt
		}
	}

	batch := g.events(now)
	pending := !user.Approved
	if pending {
		_, admins, err := g.approvedIdentifiers(ctx, domain.RoleAdmin)
		if err != nil {
			return RegisterResult{}, err
		}
		if !batch.add(notifydomain.EventRegistrationPending, identityEntity(user), admins, g.renderer.RegistrationPending(user)) {
			g.logf("registration %s pending with no approved admin to notify", identifier)
		}
	}
	outbox, err := batch.result()
	if err != nil {
		return RegisterResult{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := g.store.PutUser(storeCtx, user, outbox...); err != nil {
		return RegisterResult{}, mapStorageError(err, "user", identifier)
	}
	return RegisterResult{User: user, PendingApproval: pending}, nil
}

// CreateAdmin provisions an approved administrator. It is reserved for
// operator tooling.
func (g *Gate) CreateAdmin(ctx context.Context, input AdminInput) (domain.User, error) {
	if err := g.ready(); err != nil {
		return domain.User{}, err
	}
	identifier, err := domain.NormalizeIdentifier(input.Identifier)
	if err != nil {
		return domain.User{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return domain.User{}, apperrors.New(apperrors.CodeUserNameRequired, "full name is required")
	}
	phone := ""
	if strings.TrimSpace(input.Phone) != "" {
		if phone, err = domain.NormalizePhone(input.Phone); err != nil {
			return domain.User{}, err
		}
	}

	existing, found, err := g.lookupUser(ctx, identifier)
	if err != nil {
		return domain.User{}, err
	}
	now := g.now()
	user := domain.User{
		Identifier:   identifier,
		Name:         name,
		Phone:        phone,
		Role:         domain.RoleAdmin,
		Approved:     true,
		RegisteredAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if found {
		user.CreatedAt = existing.CreatedAt
		user.Site = existing.Site
		user.Location = existing.Location
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := g.store.PutUser(storeCtx, user); err != nil {
		return domain.User{}, mapStorageError(err, "user", identifier)
	}
	return user, nil
}

// Approve grants a pending user access. Approving an approved user is a
// no-op that sends nothing.
func (g *Gate) Approve(ctx context.Context, adminID, identifier string) (domain.User, error) {
	if err := g.ready(); err != nil {
		return domain.User{}, err
	}
	if _, err := g.Authorize(ctx, adminID, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	user, err := g.getUser(ctx, identifier)
	if err != nil {
		return domain.User{}, err
	}
	if user.Active() {
		return user, nil
	}

	now := g.now()
	entity := decisionEntity(user)
	user.Approved = true
	user.RejectedAt = nil
	user.UpdatedAt = now

	batch := g.events(now)
	batch.add(notifydomain.EventUserApproved, entity, []string{user.Identifier}, g.renderer.UserApproved(user))
	outbox, err := batch.result()
	if err != nil {
		return domain.User{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := g.store.PutUser(storeCtx, user, outbox...); err != nil {
		return domain.User{}, mapStorageError(err, "user", user.Identifier)
	}
	return user, nil
}

// Reject tombstones a registration. The record stays for audit and is
// cleared if the user registers again.
func (g *Gate) Reject(ctx context.Context, adminID, identifier string) (domain.User, error) {
	if err := g.ready(); err != nil {
		return domain.User{}, err
	}
	admin, err := g.Authorize(ctx, adminID, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}
	user, err := g.getUser(ctx, identifier)
	if err != nil {
		return domain.User{}, err
	}
	if user.Identifier == admin.Identifier {
		return domain.User{}, apperrors.New(apperrors.CodePermissionDenied, "administrators cannot reject themselves")
	}
	if user.Rejected() {
		return user, nil
	}

	now := g.now()
	entity := decisionEntity(user)
	user.Approved = false
	user.RejectedAt = &now
	user.UpdatedAt = now

	batch := g.events(now)
	batch.add(notifydomain.EventUserRejected, entity, []string{user.Identifier}, g.renderer.UserRejected(user))
	outbox, err := batch.result()
	if err != nil {
		return domain.User{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := g.store.PutUser(storeCtx, user, outbox...); err != nil {
		return domain.User{}, mapStorageError(err, "user", user.Identifier)
	}
	return user, nil
}

// IsApproved reports whether identifier is an approved user holding one of
// roles. Lookup failures count as not approved.
func (g *Gate) IsApproved(ctx context.Context, identifier string, roles ...domain.Role) bool {
	_, err := g.Authorize(ctx, identifier, roles...)
	return err == nil
}

// Authorize loads the caller and checks approval and role. Every failure
// is an authorization error.
func (g *Gate) Authorize(ctx context.Context, identifier string, roles ...domain.Role) (domain.User, error) {
	if err := g.ready(); err != nil {
		return domain.User{}, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.User{}, apperrors.New(apperrors.CodeUserNotApproved, "caller is not registered")
	}
	user, found, err := g.lookupUser(ctx, identifier)
	if err != nil {
		return domain.User{}, err
	}
	if !found {
		return domain.User{}, apperrors.New(apperrors.CodeUserNotApproved, "caller is not registered")
	}
	if !user.Active() {
		return domain.User{}, apperrors.WithMetadata(apperrors.CodeUserNotApproved, "caller is not approved", map[string]string{"Identifier": identifier})
	}
	if !user.Active(roles...) {
		return domain.User{}, apperrors.WithMetadata(apperrors.CodePermissionDenied, "caller role is not allowed", map[string]string{
			"Identifier": identifier,
			"Role":       user.Role.String(),
		})
	}
	return user, nil
}

// ListPendingUsers lists registrations waiting for an admin decision.
func (g *Gate) ListPendingUsers(ctx context.Context, adminID string) ([]domain.User, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}
	if _, err := g.Authorize(ctx, adminID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	users, err := g.store.ListPendingUsers(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	return users, nil
}

func (g *Gate) getUser(ctx context.Context, raw string) (domain.User, error) {
	identifier, err := domain.NormalizeIdentifier(raw)
	if err != nil {
		return domain.User{}, err
	}
	user, found, err := g.lookupUser(ctx, identifier)
	if err != nil {
		return domain.User{}, err
	}
	if !found {
		return domain.User{}, mapStorageError(storage.ErrNotFound, "user", identifier)
	}
	return user, nil
}

func (g *Gate) lookupUser(ctx context.Context, identifier string) (domain.User, bool, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	user, err := g.store.GetUser(storeCtx, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user %s: %w", identifier, err)
	}
	return user, true, nil
}
