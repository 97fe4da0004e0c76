package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guildwarden/warden/store"
)

var ErrStoreUnavailable = errors.New("permission store unavailable")

// The subset of store.Store the resolver reads.
type PermissionReader interface {
	GetUserPermissions(ctx context.Context, userID, communityID string) (*store.UserPermission, error)
}

type Resolver struct {
	Store  PermissionReader
	Logger *slog.Logger
}

func NewResolver(s PermissionReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		Store:  s,
		Logger: logger.With("system", "authz"),
	}
}

// Reads the user's role set. A missing record is an empty set, not an error.
func (r *Resolver) Resolve(ctx context.Context, userID, communityID string) (RoleSet, error) {
	perm, err := r.Store.GetUserPermissions(ctx, userID, communityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if perm == nil {
		return RoleSet{}, nil
	}
	return RoleSet(perm.Roles), nil
}

func Authorize(set RoleSet, required Role) bool {
	if required == RoleNone {
		return true
	}
	return set.Effective().AtLeast(required)
}

// Resolve and Authorize together. Resolution failures deny.
func (r *Resolver) Check(ctx context.Context, userID, communityID string, required Role) bool {
	if required == RoleNone {
		return true
	}
	set, err := r.Resolve(ctx, userID, communityID)
	if err != nil {
		authzFailures.Inc()
		r.Logger.Warn("permission lookup failed, denying", "user", userID, "community", communityID, "required", required.String(), "err", err)
		return false
	}
	return Authorize(set, required)
}
