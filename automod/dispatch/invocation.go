package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/engine"
	"github.com/guildwarden/warden/automod/punish"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"
)

// Collaborators handed to every command handler. Assistant, Punish and Engine may be nil when the daemon runs without them.
type Services struct {
	Store     store.Store
	Platform  platform.Client
	Assistant *ai.Assistant
	Punish    *punish.Manager
	Engine    *engine.Engine
	Registry  *Registry
	Clock     util.Clock
}

// A single command execution, as seen by its handler.
type Invocation struct {
	Event   *platform.Interaction
	Command *Command
	Logger  *slog.Logger
	*Services

	replied atomic.Bool
}

func (inv *Invocation) Replied() bool {
	return inv.replied.Load()
}

// Answers the interaction. The first response is a reply; any later one is sent as a follow-up.
func (inv *Invocation) Reply(ctx context.Context, content string, ephemeral bool) error {
	content = platform.Truncate(content, platform.MaxMessageLength)
	if inv.replied.Swap(true) {
		return inv.Platform.FollowUp(ctx, inv.Event, content, ephemeral)
	}
	return inv.Platform.Reply(ctx, inv.Event, content, ephemeral)
}

func (inv *Invocation) CommunityID() string {
	return inv.Event.CommunityID
}

func (inv *Invocation) UserID() string {
	return inv.Event.User.ID
}

func (inv *Invocation) Option(name string) (string, bool) {
	return inv.Event.Option(name)
}
