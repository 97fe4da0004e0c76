package dispatch

import (
	"log/slog"

	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/cooldown"
	"github.com/guildwarden/warden/automod/engine"
	"github.com/guildwarden/warden/automod/punish"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"
)

// Dispatcher with an empty registry, wired to the given store, platform and clock. The engine and punishment manager use in-memory backends; there is no assistant.
func DispatcherTestFixture(st store.Store, client platform.Client, clock util.Clock) *Dispatcher {
	eng := engine.EngineTestFixture(st, nil, client, clock)
	reg := NewRegistry()
	svc := &Services{
		Store:    st,
		Platform: client,
		Punish:   punish.NewManager(st, client, clock, eng.Identity),
		Engine:   eng,
		Registry: reg,
		Clock:    clock,
	}
	d := NewDispatcher(reg, authz.NewResolver(st, nil), cooldown.NewLedger(clock, nil), svc)
	d.Logger = slog.Default()
	return d
}

// Invocation for calling a handler directly, bypassing authorization and cooldowns.
func (d *Dispatcher) TestInvocation(cmd *Command, evt *platform.Interaction) *Invocation {
	return &Invocation{
		Event:    evt,
		Command:  cmd,
		Logger:   d.Logger,
		Services: d.Services,
	}
}
