// Private, per-user moderation flags (eg, automated suggestions awaiting human review).
//
// Includes an interface and implementations using redis and in-process memory.
package flagstore

import (
	"context"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	// does not error if flags are not in the set
	Remove(ctx context.Context, key string, flags []string) error
}

// Flags are scoped to a user within a community.
func UserKey(communityID, userID string) string {
	return communityID + "/" + userID
}
