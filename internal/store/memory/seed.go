package memory

import (
	"context"
	"time"

	"sentra.org/internal/identity"
	"sentra.org/internal/ids"
	"sentra.org/internal/rbac"
)

type demoUser struct {
	username string
	email    string
	password string
	verified bool
	roles    []string
}

// SeedDemo creates the demo accounts used in dev mode: a verified admin and
// manager, and an unverified standard user for walking the full handshake.
func (s *Store) SeedDemo(ctx context.Context, hasher identity.Hasher) error {
	seeds := []demoUser{
		{username: "admin", email: "admin@example.com", password: "admin123", verified: true, roles: []string{rbac.RoleAdmin}},
		{username: "manager", email: "manager@example.com", password: "manager123", verified: true, roles: []string{rbac.RoleManager}},
		{username: "user", email: "user@example.com", password: "user123", verified: false, roles: []string{rbac.RoleUser}},
	}
	now := time.Now().UTC()
	for _, seed := range seeds {
		if _, err := s.FindUserByUsername(ctx, seed.username); err == nil {
			continue
		}
		hash, err := hasher.Hash(seed.password)
		if err != nil {
			return err
		}
		u := &identity.User{
			ID:            ids.New(),
			Username:      seed.username,
			Email:         seed.email,
			PasswordHash:  hash,
			EmailVerified: seed.verified,
			Roles:         seed.roles,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
