package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/guildwarden/warden/automod/authz"

	"github.com/stretchr/testify/assert"
)

func noop(ctx context.Context, inv *Invocation) error { return nil }

func TestRegistry(t *testing.T) {
	assert := assert.New(t)
	reg := NewRegistry()

	assert.NoError(reg.Register(&Command{Name: "Warn", Handler: noop}))
	assert.NoError(reg.Register(&Command{Name: "ban", Handler: noop}))
	assert.Error(reg.Register(&Command{Name: "warn", Handler: noop}))
	assert.Error(reg.Register(&Command{Name: "", Handler: noop}))
	assert.Error(reg.Register(&Command{Name: "nohandler"}))

	cmd, ok := reg.Lookup("WARN")
	assert.True(ok)
	assert.Equal("warn", cmd.Name)

	names := []string{}
	for _, c := range reg.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal([]string{"ban", "warn"}, names)
}

func TestEffectiveCooldown(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(DefaultCooldown, (&Command{}).EffectiveCooldown())
	assert.Equal(DefaultCooldown, (&Command{Cooldown: -time.Second}).EffectiveCooldown())
	assert.Equal(10*time.Second, (&Command{Cooldown: 10 * time.Second}).EffectiveCooldown())
}

func TestParseOverride(t *testing.T) {
	assert := assert.New(t)

	name, ov, err := ParseOverride("ban=admin:10s")
	assert.NoError(err)
	assert.Equal("ban", name)
	assert.Equal(authz.RoleAdmin, *ov.Permission)
	assert.Equal(10*time.Second, *ov.Cooldown)

	name, ov, err = ParseOverride("Help=:1m")
	assert.NoError(err)
	assert.Equal("help", name)
	assert.Nil(ov.Permission)
	assert.Equal(time.Minute, *ov.Cooldown)

	_, ov, err = ParseOverride("userinfo=public")
	assert.NoError(err)
	assert.Equal(authz.RoleNone, *ov.Permission)
	assert.Nil(ov.Cooldown)

	for _, bad := range []string{"ban", "=admin", "ban=", "ban=janitor", "ban=admin:soon"} {
		_, _, err := ParseOverride(bad)
		assert.Error(err, bad)
	}
}

func TestApplyOverride(t *testing.T) {
	assert := assert.New(t)
	reg := NewRegistry()
	assert.NoError(reg.Register(&Command{Name: "ban", Permission: authz.RoleModerator, Handler: noop}))

	_, ov, err := ParseOverride("ban=admin:10s")
	assert.NoError(err)
	assert.NoError(reg.ApplyOverride("ban", ov))
	cmd, _ := reg.Lookup("ban")
	assert.Equal(authz.RoleAdmin, cmd.Permission)
	assert.Equal(10*time.Second, cmd.EffectiveCooldown())

	assert.Error(reg.ApplyOverride("missing", ov))
}
