package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RoleStore resolves role definitions.
type RoleStore interface {
	FindRole(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	EnsureRoles(ctx context.Context, roles []Role) error
}

// UserDirectory exposes role membership for users. Membership is a set:
// SetUserRoles replaces the whole set atomically.
type UserDirectory interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
	SetUserRoles(ctx context.Context, userID string, roles []string) error
}

// Service evaluates static role and permission state.
type Service struct {
	roles RoleStore
	dir   UserDirectory
}

// NewService constructs the RBAC service.
func NewService(roles RoleStore, dir UserDirectory) *Service {
	return &Service{roles: roles, dir: dir}
}

// EnsureBuiltins seeds the closed role catalog.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.roles.EnsureRoles(ctx, BuiltinRoles)
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.ListRoles(ctx)
}

// ListUserRoles returns the resolved role definitions assigned to a user.
func (s *Service) ListUserRoles(ctx context.Context, userID string) ([]*Role, error) {
	names, err := s.dir.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(names))
	for _, name := range names {
		role, err := s.roles.FindRole(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

// AssignRole adds a role to the user's set. Assigning an already-held role
// is a no-op success.
func (s *Service) AssignRole(ctx context.Context, userID, roleName string) error {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", ErrValidation)
	}
	if _, err := s.roles.FindRole(ctx, roleName); err != nil {
		return err
	}
	names, err := s.dir.UserRoles(ctx, userID)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == roleName {
			return nil
		}
	}
	return s.dir.SetUserRoles(ctx, userID, append(names, roleName))
}

// RevokeRole removes a role from the user's set. Revoking an absent role is
// a no-op success.
func (s *Service) RevokeRole(ctx context.Context, userID, roleName string) error {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", ErrValidation)
	}
	names, err := s.dir.UserRoles(ctx, userID)
	if err != nil {
		return err
	}
	kept := names[:0]
	found := false
	for _, n := range names {
		if n == roleName {
			found = true
			continue
		}
		kept = append(kept, n)
	}
	if !found {
		return nil
	}
	return s.dir.SetUserRoles(ctx, userID, kept)
}

// EffectiveRank returns the maximum rank over the user's assigned roles.
// A user with no roles has RankNone and satisfies no rank requirement.
func (s *Service) EffectiveRank(ctx context.Context, userID string) (Rank, error) {
	roles, err := s.ListUserRoles(ctx, userID)
	if err != nil {
		return RankNone, err
	}
	rank := RankNone
	for _, r := range roles {
		if r.Rank > rank {
			rank = r.Rank
		}
	}
	return rank, nil
}

// HasPermission reports whether any assigned role carries the permission.
func (s *Service) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	roles, err := s.ListUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r.HasPermission(permission) {
			return true, nil
		}
	}
	return false, nil
}

// RequireRank fails with ErrForbidden unless the user's effective rank meets
// the requirement.
func (s *Service) RequireRank(ctx context.Context, userID string, required Rank) error {
	rank, err := s.EffectiveRank(ctx, userID)
	if err != nil {
		return err
	}
	if rank < required {
		return ErrForbidden
	}
	return nil
}
