package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/ids"
)

// Names of the roles created at boot.
const (
	AdminRoleName = "Admin"
	UserRoleName  = "User"
)

// SeedConfig names the default administrator.
type SeedConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// SeedResult reports what seeding created.
type SeedResult struct {
	AdminRole    Role
	UserRole     Role
	Admin        User
	CreatedRoles int
	CreatedAdmin bool
}

// Seeder creates the default roles and administrator. It is the only writer
// of entities flagged default and is safe to run on every boot.
type Seeder struct {
	store   Store
	catalog *Catalog
	cfg     SeedConfig
	now     func() time.Time
}

func NewSeeder(store Store, catalog *Catalog, cfg SeedConfig) *Seeder {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Seeder{store: store, catalog: catalog, cfg: cfg, now: time.Now}
}

// Seed ensures the Admin role holds every catalog leaf, the User role holds
// the profile leaves and the default administrator exists with the Admin role.
func (s *Seeder) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult

	admin, created, err := s.ensureRole(ctx, AdminRoleName, "Full administrative access", flatNames(s.catalog.GetFlattenedPermissions()))
	if err != nil {
		return res, err
	}
	res.AdminRole = admin
	if created {
		res.CreatedRoles++
	}

	user, created, err := s.ensureRole(ctx, UserRoleName, "Default role for signed-in users", flatNames(s.catalog.LeavesUnder(groupProfile)))
	if err != nil {
		return res, err
	}
	res.UserRole = user
	if created {
		res.CreatedRoles++
	}

	u, created, err := s.ensureAdmin(ctx, admin.ID)
	if err != nil {
		return res, err
	}
	res.Admin = u
	res.CreatedAdmin = created
	return res, nil
}

func (s *Seeder) ensureRole(ctx context.Context, name, description string, perms []string) (Role, bool, error) {
	roles := s.store.Roles()
	role, err := roles.GetByName(ctx, NormalizeKey(name))
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		now := s.now().UTC()
		role = Role{
			ID:          ids.New(),
			Name:        name,
			Description: description,
			Default:     true,
			Audit:       Audit{CreatedAt: now, CreatedBy: SystemActor, UpdatedAt: now, UpdatedBy: SystemActor},
		}
		role.Normalize()
		if err := roles.Create(ctx, &role); err != nil {
			if !errors.Is(err, ErrConflict) {
				return Role{}, false, fmt.Errorf("seed role %s: %w", name, err)
			}
			// Another instance seeded concurrently.
			if role, err = roles.GetByName(ctx, NormalizeKey(name)); err != nil {
				return Role{}, false, fmt.Errorf("seed role %s: %w", name, err)
			}
		} else {
			created = true
		}
	case err != nil:
		return Role{}, false, fmt.Errorf("seed role %s: %w", name, err)
	}
	if err := roles.SetPermissions(ctx, role.ID, perms, SystemActor); err != nil {
		return Role{}, false, fmt.Errorf("seed role %s permissions: %w", name, err)
	}
	return role, created, nil
}

func (s *Seeder) ensureAdmin(ctx context.Context, adminRoleID string) (User, bool, error) {
	users := s.store.Users()
	username := NormalizeKey(s.cfg.AdminUsername)
	if username == "" {
		return User{}, false, errors.New("seed: admin username is required")
	}
	existing, err := users.GetByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, fmt.Errorf("seed admin: %w", err)
	}

	if err := ValidatePassword(s.cfg.AdminPassword); err != nil {
		return User{}, false, fmt.Errorf("seed admin: %w", err)
	}
	email, err := validEmail(s.cfg.AdminEmail)
	if err != nil {
		return User{}, false, fmt.Errorf("seed admin: %w", err)
	}
	hash, err := HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return User{}, false, err
	}
	now := s.now().UTC()
	u := User{
		ID:              ids.New(),
		Username:        s.cfg.AdminUsername,
		Email:           email,
		PasswordHash:    hash,
		IsActive:        true,
		IsEmailVerified: true,
		Default:         true,
		Audit:           Audit{CreatedAt: now, CreatedBy: SystemActor, UpdatedAt: now, UpdatedBy: SystemActor},
	}
	u.Normalize()
	if err := users.Create(ctx, &u); err != nil {
		if errors.Is(err, ErrConflict) {
			existing, gerr := users.GetByUsername(ctx, username)
			if gerr != nil {
				return User{}, false, fmt.Errorf("seed admin: %w", err)
			}
			return existing, false, nil
		}
		return User{}, false, fmt.Errorf("seed admin: %w", err)
	}
	if err := users.SetRoles(ctx, u.ID, []string{adminRoleID}, SystemActor); err != nil {
		return User{}, false, fmt.Errorf("seed admin roles: %w", err)
	}
	return u, true, nil
}

func flatNames(perms []FlatPermission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}
