package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/countstore"
	"github.com/guildwarden/warden/automod/dispatch"
	"github.com/guildwarden/warden/automod/engine"
	"github.com/guildwarden/warden/automod/flagstore"
	"github.com/guildwarden/warden/automod/helpers"

	"github.com/xlab/treeprint"
)

var categoryOrder = []string{CategoryModeration, CategoryAdmin, CategoryAI, CategoryUtility}

func helpCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "help",
		Description: "Show all available commands",
		Category:    CategoryUtility,
		Options: []dispatch.Option{
			{Name: "command", Description: "Get detailed help for a specific command"},
		},
		Handler: runHelp,
	}
}

func permissionLabel(r authz.Role) string {
	if r == authz.RoleNone {
		return "Everyone"
	}
	return titleCase(r.String())
}

func runHelp(ctx context.Context, inv *dispatch.Invocation) error {
	if name, ok := inv.Option("command"); ok && strings.TrimSpace(name) != "" {
		name = strings.TrimPrefix(strings.TrimSpace(name), "/")
		cmd, ok := inv.Registry.Lookup(name)
		if !ok {
			return refuse(ctx, inv, fmt.Sprintf("❌ Command `%s` not found!", name))
		}
		return inv.Reply(ctx, commandHelp(cmd), false)
	}
	return inv.Reply(ctx, commandTree(inv.Registry.Commands()), false)
}

func commandHelp(cmd *dispatch.Command) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📖 Help: /%s\n%s\n", cmd.Name, cmd.Description)
	usage := "/" + cmd.Name
	for _, opt := range cmd.Options {
		if opt.Required {
			usage += fmt.Sprintf(" <%s>", opt.Name)
		} else {
			usage += fmt.Sprintf(" [%s]", opt.Name)
		}
	}
	fmt.Fprintf(&sb, "🔧 Usage: `%s`\n", usage)
	for _, opt := range cmd.Options {
		fmt.Fprintf(&sb, "  • %s: %s\n", opt.Name, opt.Description)
	}
	fmt.Fprintf(&sb, "⏰ Cooldown: %s\n", helpers.FormatDuration(cmd.EffectiveCooldown()))
	fmt.Fprintf(&sb, "🔒 Permission: %s", permissionLabel(cmd.Permission))
	return sb.String()
}

func commandTree(cmds []*dispatch.Command) string {
	tree := treeprint.NewWithRoot("🤖 Bot Commands")
	branches := make(map[string]treeprint.Tree)
	for _, cat := range categoryOrder {
		for _, cmd := range cmds {
			if categoryOf(cmd) != cat {
				continue
			}
			branch, ok := branches[cat]
			if !ok {
				branch = tree.AddBranch(cat)
				branches[cat] = branch
			}
			line := fmt.Sprintf("/%s - %s", cmd.Name, cmd.Description)
			if cmd.Permission != authz.RoleNone {
				line += fmt.Sprintf(" (%s+)", permissionLabel(cmd.Permission))
			}
			branch.AddNode(line)
		}
	}
	return "```\n" + tree.String() + "```\nUse /help <command> for detailed information about a specific command"
}

func pingCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "ping",
		Description: "Check that the bot is responding",
		Category:    CategoryUtility,
		Handler: func(ctx context.Context, inv *dispatch.Invocation) error {
			start := time.Now()
			if err := inv.Reply(ctx, "🏓 Pong!", false); err != nil {
				return err
			}
			return inv.Reply(ctx, fmt.Sprintf("📡 API latency: %dms", time.Since(start).Milliseconds()), true)
		},
	}
}

func userinfoCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "userinfo",
		Description: "Get information about a user",
		Category:    CategoryUtility,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to get info about (defaults to you)"},
		},
		Handler: runUserinfo,
	}
}

func runUserinfo(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, false)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}

	perm, err := inv.Store.GetUserPermissions(ctx, target, inv.CommunityID())
	if err != nil {
		return fmt.Errorf("reading permissions: %w", err)
	}
	warnings, err := inv.Store.GetUserWarnings(ctx, target, inv.CommunityID())
	if err != nil {
		return fmt.Errorf("reading warnings: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 User Information: %s\n🆔 User ID: %s", helpers.Mention(target), target)
	if perm != nil && len(perm.Roles) > 0 {
		roles := make([]string, 0, len(perm.Roles))
		for _, r := range perm.Roles {
			roles = append(roles, titleCase(r))
		}
		fmt.Fprintf(&sb, "\n🛡️ Bot Permissions: %s", strings.Join(roles, ", "))
	}
	fmt.Fprintf(&sb, "\n⚠️ Active Warnings: %d", len(warnings))

	if inv.Engine != nil {
		key := flagstore.UserKey(inv.CommunityID(), target)
		deleted, err := inv.Engine.Counters.GetCount(ctx, engine.CounterDeleteUser, key, countstore.PeriodTotal)
		if err != nil {
			inv.Logger.Warn("reading moderation counters", "target", target, "err", err)
		} else {
			fmt.Fprintf(&sb, "\n🗑️ Auto-deleted messages: %d", deleted)
		}

		// review flags are only shown to moderators
		mine, err := roleOf(ctx, inv, inv.UserID())
		if err == nil && mine.AtLeast(authz.RoleModerator) {
			flags, err := inv.Engine.Flags.Get(ctx, key)
			if err != nil {
				inv.Logger.Warn("reading user flags", "target", target, "err", err)
			} else if len(flags) > 0 {
				fmt.Fprintf(&sb, "\n🚩 Flags: %s", strings.Join(flags, ", "))
			}
		}
	}
	return inv.Reply(ctx, sb.String(), false)
}

func aiCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "ai",
		Description: "Chat with the AI assistant",
		Category:    CategoryAI,
		Cooldown:    10 * time.Second,
		Options: []dispatch.Option{
			{Name: "message", Description: "Your message to the AI", Required: true},
			{Name: "context", Description: "Additional context for the AI"},
		},
		Handler: runAI,
	}
}

func runAI(ctx context.Context, inv *dispatch.Invocation) error {
	message, ok := inv.Option("message")
	if !ok || strings.TrimSpace(message) == "" {
		return refuse(ctx, inv, "❌ You must include a message.")
	}
	if inv.Assistant == nil {
		return inv.Reply(ctx, "❌ "+ai.UnavailableMessage, true)
	}
	extra, _ := inv.Option("context")

	resp, err := inv.Assistant.Chat(ctx, ai.ChatRequest{
		CommunityID: inv.CommunityID(),
		UserID:      inv.UserID(),
		ChannelID:   inv.Event.ChannelID,
		Message:     message,
		Context:     extra,
	})
	if errors.Is(err, ai.ErrQuotaExceeded) {
		return inv.Reply(ctx, "⏳ "+ai.QuotaExceededMessage, true)
	}
	if err != nil {
		inv.Logger.Warn("assistant chat failed", "err", err)
		return inv.Reply(ctx, "❌ "+ai.UnavailableMessage, true)
	}
	return inv.Reply(ctx, "🤖 "+resp, false)
}
