package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/dispatch"
	"github.com/guildwarden/warden/automod/helpers"
	"github.com/guildwarden/warden/store"
)

func addstaffCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "addstaff",
		Description: "Add a staff member with specific role",
		Category:    CategoryAdmin,
		Permission:  authz.RoleAdmin,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to add as staff", Required: true},
			{Name: "role", Description: "Staff role to assign (admin, moderator or staff)", Required: true},
		},
		Handler: runAddstaff,
	}
}

func runAddstaff(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, true)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}
	raw, _ := inv.Option("role")
	role, ok := authz.ParseRole(raw)
	// owner is not grantable
	if !ok || role == authz.RoleOwner {
		return refuse(ctx, inv, "❌ Role must be one of: admin, moderator, staff.")
	}

	// only someone strictly above a role may grant it
	mine, err := roleOf(ctx, inv, inv.UserID())
	if err != nil {
		return err
	}
	if mine.Rank() >= role.Rank() {
		return refuse(ctx, inv, fmt.Sprintf("❌ You cannot grant the %s role.", role))
	}

	if err := inv.Store.AddUserPermission(ctx, target, inv.CommunityID(), role.String(), inv.UserID()); err != nil {
		return fmt.Errorf("adding staff member: %w", err)
	}
	_, err = inv.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  inv.CommunityID(),
		ModeratorID:  inv.UserID(),
		TargetUserID: target,
		Action:       "add_staff",
		Reason:       "Granted " + role.String(),
	})
	if err != nil {
		inv.Logger.Warn("logging staff addition", "target", target, "err", err)
	}

	return inv.Reply(ctx, fmt.Sprintf("✅ Staff Member Added\n👤 User: %s\n🎭 Role: %s\n👮 Added By: %s",
		helpers.Mention(target), titleCase(role.String()), helpers.Mention(inv.UserID())), false)
}

func automodCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "automod",
		Description: "Turn auto-moderation on or off, or show its current state",
		Category:    CategoryAdmin,
		Permission:  authz.RoleAdmin,
		Options: []dispatch.Option{
			{Name: "enabled", Description: "on or off; omit to show the current state"},
		},
		Handler: runAutomod,
	}
}

func parseToggle(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "enable", "enabled", "1":
		return true, true
	case "off", "false", "no", "disable", "disabled", "0":
		return false, true
	default:
		return false, false
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func runAutomod(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	cfg, err := inv.Store.GetCommunityConfig(ctx, inv.CommunityID())
	if err != nil {
		return fmt.Errorf("reading community config: %w", err)
	}

	raw, ok := inv.Option("enabled")
	if !ok || strings.TrimSpace(raw) == "" {
		enabled := cfg != nil && cfg.AutoModEnabled
		return inv.Reply(ctx, fmt.Sprintf("🛡️ Auto-moderation is currently %s.", onOff(enabled)), true)
	}
	enabled, ok := parseToggle(raw)
	if !ok {
		return refuse(ctx, inv, fmt.Sprintf("❌ Expected on or off, got %q.", raw))
	}

	if cfg == nil {
		if _, err := inv.Store.CreateCommunityConfig(ctx, inv.CommunityID(), "", "!"); err != nil {
			return fmt.Errorf("creating community config: %w", err)
		}
	}
	if err := inv.Store.SetAutoModEnabled(ctx, inv.CommunityID(), enabled); err != nil {
		return fmt.Errorf("updating automod flag: %w", err)
	}
	if inv.Engine != nil {
		if err := inv.Engine.PurgeCommunityConfig(ctx, inv.CommunityID()); err != nil {
			inv.Logger.Warn("purging cached community config", "err", err)
		}
	}

	action := "automod_disable"
	if enabled {
		action = "automod_enable"
	}
	_, err = inv.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID: inv.CommunityID(),
		ModeratorID: inv.UserID(),
		Action:      action,
		Reason:      "Auto-moderation " + onOff(enabled),
	})
	if err != nil {
		inv.Logger.Warn("logging automod toggle", "err", err)
	}

	return inv.Reply(ctx, fmt.Sprintf("🛡️ Auto-moderation is now %s.", onOff(enabled)), false)
}

const lockdownFailedMessage = "❌ Failed to execute lockdown. Please check my permissions."

func lockdownCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "lockdown",
		Description: "Lock or unlock the server/channel",
		Category:    CategoryAdmin,
		Permission:  authz.RoleAdmin,
		Cooldown:    5 * time.Second,
		Options: []dispatch.Option{
			{Name: "action", Description: "lock or unlock", Required: true},
			{Name: "scope", Description: "channel (the current one) or server (all text channels)", Required: true},
			{Name: "reason", Description: "Reason for lockdown"},
		},
		Handler: runLockdown,
	}
}

func runLockdown(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	action, _ := inv.Option("action")
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "lock" && action != "unlock" {
		return refuse(ctx, inv, "❌ Action must be lock or unlock.")
	}
	scope, _ := inv.Option("scope")
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope != "channel" && scope != "server" {
		return refuse(ctx, inv, "❌ Scope must be channel or server.")
	}
	locking := action == "lock"
	reason := reasonOption(inv)
	auditReason := fmt.Sprintf("%s | %sed by %s", reason, titleCase(action), inv.Event.User.Username)

	var modified int
	if scope == "channel" {
		if err := inv.Platform.SetChannelLocked(ctx, inv.CommunityID(), inv.Event.ChannelID, locking, auditReason); err != nil {
			inv.Logger.Warn("lockdown failed", "channel", inv.Event.ChannelID, "err", err)
			return refuse(ctx, inv, lockdownFailedMessage)
		}
		modified = 1
	} else {
		channels, err := inv.Platform.ListTextChannels(ctx, inv.CommunityID())
		if err != nil {
			inv.Logger.Warn("listing channels for lockdown", "err", err)
			return refuse(ctx, inv, lockdownFailedMessage)
		}
		// one channel failing does not stop the rest
		for _, ch := range channels {
			if err := inv.Platform.SetChannelLocked(ctx, inv.CommunityID(), ch.ID, locking, auditReason); err != nil {
				inv.Logger.Warn("lockdown failed for channel", "channel", ch.ID, "action", action, "err", err)
				continue
			}
			modified++
		}
		if modified == 0 && len(channels) > 0 {
			return refuse(ctx, inv, lockdownFailedMessage)
		}
	}

	_, err := inv.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  inv.CommunityID(),
		ModeratorID:  inv.UserID(),
		TargetUserID: inv.CommunityID(),
		Action:       action + "_" + scope,
		Reason:       reason,
	})
	if err != nil {
		inv.Logger.Warn("logging lockdown", "err", err)
	}

	title, where := "🔓 Server Unlocked", "All Channels"
	if locking {
		title = "🔒 Server Locked"
	}
	if scope == "channel" {
		where = "Current Channel"
	}
	msg := fmt.Sprintf("%s\n🎯 Scope: %s\n📊 Channels Modified: %d\n👮 Moderator: %s\n📝 Reason: %s",
		title, where, modified, helpers.Mention(inv.UserID()), reason)
	if err := inv.Reply(ctx, msg, false); err != nil {
		return err
	}

	if locking && scope == "server" {
		return inv.Reply(ctx, fmt.Sprintf("🚨 Server Lockdown\nThis server has been temporarily locked by the moderation team.\n📝 Reason: %s\n👮 Moderator: %s",
			reason, helpers.Mention(inv.UserID())), false)
	}
	return nil
}
