package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveRole(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(RoleStaff, RoleSet{}.Effective())
	assert.Equal(RoleStaff, RoleSet(nil).Effective())
	assert.Equal(RoleStaff, RoleSet{"janitor", ""}.Effective())
	assert.Equal(RoleModerator, RoleSet{"staff", "moderator"}.Effective())
	assert.Equal(RoleOwner, RoleSet{"moderator", "bogus", "owner", "admin"}.Effective())
	assert.Equal(RoleAdmin, RoleSet{" Admin "}.Effective())
}

func TestAuthorizeTable(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		set      RoleSet
		required Role
		ok       bool
	}{
		{RoleSet{}, RoleNone, true},
		{RoleSet{}, RoleStaff, true},
		{RoleSet{}, RoleModerator, false},
		{RoleSet{"nonsense"}, RoleStaff, true},
		{RoleSet{"moderator"}, RoleModerator, true},
		{RoleSet{"moderator"}, RoleAdmin, false},
		{RoleSet{"admin"}, RoleModerator, true},
		{RoleSet{"owner"}, RoleOwner, true},
		{RoleSet{"admin"}, RoleOwner, false},
	}
	for _, c := range cases {
		assert.Equal(c.ok, Authorize(c.set, c.required), "%v requires %s", c.set, c.required)
	}
}

func TestAuthorizeMonotonic(t *testing.T) {
	assert := assert.New(t)

	sets := []RoleSet{{}, {"staff"}, {"moderator"}, {"admin"}, {"owner"}, {"staff", "admin"}, {"junk"}}
	levels := AllRoles()
	for _, set := range sets {
		for i, l1 := range levels {
			for _, l2 := range levels[i:] {
				if Authorize(set, l1) {
					assert.True(Authorize(set, l2), "%v: %s implies %s", set, l1, l2)
				}
			}
		}
	}
}

type failingPerms struct{}

func (failingPerms) GetUserPermissions(ctx context.Context, userID, communityID string) (*store.UserPermission, error) {
	return nil, errors.New("connection refused")
}

func TestResolverCheck(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := store.NewMemStore(util.SystemClock{})
	assert.NoError(st.AddUserPermission(ctx, "mod", "c1", "moderator", "owner"))
	r := NewResolver(st, nil)

	set, err := r.Resolve(ctx, "nobody", "c1")
	assert.NoError(err)
	assert.Empty(set)

	assert.True(r.Check(ctx, "mod", "c1", RoleModerator))
	assert.False(r.Check(ctx, "mod", "c1", RoleAdmin))
	assert.True(r.Check(ctx, "nobody", "c1", RoleStaff))
	assert.False(r.Check(ctx, "nobody", "c1", RoleModerator))
	assert.False(r.Check(ctx, "mod", "c2", RoleModerator))
}

func TestResolverFailClosed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	r := NewResolver(failingPerms{}, nil)
	_, err := r.Resolve(ctx, "u1", "c1")
	assert.ErrorIs(err, ErrStoreUnavailable)

	// even the least-privileged requirement is denied when the store is down
	assert.False(r.Check(ctx, "u1", "c1", RoleStaff))
	// public commands never consult the store
	assert.True(r.Check(ctx, "u1", "c1", RoleNone))
}
