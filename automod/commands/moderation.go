package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/dispatch"
	"github.com/guildwarden/warden/automod/helpers"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
)

const (
	// platform limit on member timeouts
	maxMuteDuration     = 28 * 24 * time.Hour
	defaultMuteDuration = 10 * time.Minute

	// shown by /warnings
	maxListedWarnings = 10
)

func banCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "ban",
		Description: "Ban a user from the server",
		Category:    CategoryModeration,
		Permission:  authz.RoleModerator,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to ban", Required: true},
			{Name: "reason", Description: "Reason for the ban"},
			{Name: "duration", Description: "Lift the ban after this long (eg 7d); permanent if omitted"},
		},
		Handler: runBan,
	}
}

func runBan(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, true)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}
	if target == inv.UserID() {
		return refuse(ctx, inv, "❌ You cannot ban yourself!")
	}
	reason := reasonOption(inv)

	var duration time.Duration
	if raw, ok := inv.Option("duration"); ok && strings.TrimSpace(raw) != "" {
		d, err := helpers.ParseDuration(raw)
		if err != nil || d <= 0 {
			return refuse(ctx, inv, fmt.Sprintf("❌ Invalid duration %q. Use something like 30m, 12h or 7d.", raw))
		}
		duration = d
	}

	ok, err := outranks(ctx, inv, target)
	if err != nil {
		return err
	}
	if !ok {
		return refuse(ctx, inv, "❌ You cannot ban someone with equal or higher roles!")
	}

	// the expiry is recorded before the ban, so a ban never outlives a failed write
	var punishmentID uint
	if duration > 0 {
		id, err := createPunishment(ctx, inv, target, store.PunishmentBan, duration, reason)
		if err != nil {
			return err
		}
		punishmentID = id
	}

	auditReason := fmt.Sprintf("%s | Banned by %s", reason, inv.Event.User.Username)
	if err := inv.Platform.BanMember(ctx, inv.CommunityID(), target, auditReason); err != nil {
		inv.Logger.Warn("ban failed", "target", target, "err", err)
		cancelPunishment(ctx, inv, punishmentID)
		return refuse(ctx, inv, "❌ Failed to ban the user. Please check my permissions.")
	}

	entry := store.ModerationLog{
		CommunityID:  inv.CommunityID(),
		ModeratorID:  inv.UserID(),
		TargetUserID: target,
		Action:       "ban",
		Reason:       reason,
	}
	if duration > 0 {
		entry.Duration = store.DurationMillis(duration)
	}
	if _, err := inv.Store.AddModerationLog(ctx, entry); err != nil {
		return fmt.Errorf("logging ban: %w", err)
	}

	msg := fmt.Sprintf("🔨 Banned %s\n📝 Reason: %s", helpers.Mention(target), reason)
	if duration > 0 {
		msg += "\n⏳ Duration: " + helpers.FormatDuration(duration)
	}
	return inv.Reply(ctx, msg, false)
}

func createPunishment(ctx context.Context, inv *dispatch.Invocation, target, ptype string, duration time.Duration, reason string) (uint, error) {
	if inv.Punish == nil {
		return 0, errors.New("temporary punishments are not configured")
	}
	return inv.Punish.Create(ctx, inv.CommunityID(), target, ptype, duration, reason, inv.UserID())
}

// Drops the record of a punishment which was never applied. Zero means nothing was recorded.
func cancelPunishment(ctx context.Context, inv *dispatch.Invocation, id uint) {
	if id == 0 || inv.Punish == nil {
		return
	}
	if err := inv.Punish.Cancel(ctx, id); err != nil {
		inv.Logger.Error("failed to drop record of unapplied punishment", "id", id, "err", err)
	}
}

func muteCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "mute",
		Description: "Time out a user for a while",
		Category:    CategoryModeration,
		Permission:  authz.RoleModerator,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to mute", Required: true},
			{Name: "duration", Description: "How long to mute for (default 10m, at most 28d)"},
			{Name: "reason", Description: "Reason for the mute"},
		},
		Handler: runMute,
	}
}

func runMute(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, true)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}
	if target == inv.UserID() {
		return refuse(ctx, inv, "❌ You cannot mute yourself!")
	}
	reason := reasonOption(inv)

	duration := defaultMuteDuration
	if raw, ok := inv.Option("duration"); ok && strings.TrimSpace(raw) != "" {
		d, err := helpers.ParseDuration(raw)
		if err != nil || d <= 0 {
			return refuse(ctx, inv, fmt.Sprintf("❌ Invalid duration %q. Use something like 10m, 2h or 1d.", raw))
		}
		duration = d
	}
	if duration > maxMuteDuration {
		return refuse(ctx, inv, "❌ Mutes can last at most 28 days.")
	}

	ok, err := outranks(ctx, inv, target)
	if err != nil {
		return err
	}
	if !ok {
		return refuse(ctx, inv, "❌ You cannot mute someone with equal or higher roles!")
	}

	punishmentID, err := createPunishment(ctx, inv, target, store.PunishmentMute, duration, reason)
	if err != nil {
		return err
	}

	until := inv.Clock.Now().Add(duration)
	auditReason := fmt.Sprintf("%s | Muted by %s", reason, inv.Event.User.Username)
	if err := inv.Platform.TimeoutMember(ctx, inv.CommunityID(), target, until, auditReason); err != nil {
		inv.Logger.Warn("mute failed", "target", target, "err", err)
		cancelPunishment(ctx, inv, punishmentID)
		return refuse(ctx, inv, "❌ Failed to mute the user. Please check my permissions.")
	}

	_, err = inv.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  inv.CommunityID(),
		ModeratorID:  inv.UserID(),
		TargetUserID: target,
		Action:       "mute",
		Reason:       reason,
		Duration:     store.DurationMillis(duration),
	})
	if err != nil {
		return fmt.Errorf("logging mute: %w", err)
	}

	return inv.Reply(ctx, fmt.Sprintf("🔇 Muted %s for %s\n📝 Reason: %s", helpers.Mention(target), helpers.FormatDuration(duration), reason), false)
}

func warnCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "warn",
		Description: "Warn a user",
		Category:    CategoryModeration,
		Permission:  authz.RoleModerator,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to warn", Required: true},
			{Name: "reason", Description: "Reason for the warning"},
		},
		Handler: runWarn,
	}
}

func runWarn(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, true)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}
	reason := reasonOption(inv)

	if _, err := inv.Store.AddWarning(ctx, inv.CommunityID(), target, inv.UserID(), reason); err != nil {
		return fmt.Errorf("adding warning: %w", err)
	}
	_, err := inv.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  inv.CommunityID(),
		ModeratorID:  inv.UserID(),
		TargetUserID: target,
		Action:       "warn",
		Reason:       reason,
	})
	if err != nil {
		return fmt.Errorf("logging warning: %w", err)
	}

	msg := fmt.Sprintf("⚠️ Warned %s\n📝 Reason: %s", helpers.Mention(target), reason)
	warnings, err := inv.Store.GetUserWarnings(ctx, target, inv.CommunityID())
	if err != nil {
		inv.Logger.Warn("counting warnings", "target", target, "err", err)
	} else {
		msg += fmt.Sprintf("\n📊 Active warnings: %d", len(warnings))
	}
	return inv.Reply(ctx, msg, false)
}

func warningsCommand() *dispatch.Command {
	return &dispatch.Command{
		Name:        "warnings",
		Description: "Check a user's active warnings",
		Category:    CategoryModeration,
		Permission:  authz.RoleStaff,
		Options: []dispatch.Option{
			{Name: "user", Description: "The user to check (defaults to you)"},
		},
		Handler: runWarnings,
	}
}

func runWarnings(ctx context.Context, inv *dispatch.Invocation) error {
	if inv.CommunityID() == "" {
		return refuse(ctx, inv, guildOnlyMessage)
	}
	target, ok := targetUser(inv, false)
	if !ok {
		return refuse(ctx, inv, missingUserMessage)
	}
	warnings, err := inv.Store.GetUserWarnings(ctx, target, inv.CommunityID())
	if err != nil {
		return fmt.Errorf("listing warnings: %w", err)
	}
	return inv.Reply(ctx, formatWarnings(target, warnings), true)
}

func formatWarnings(target string, warnings []store.Warning) string {
	if len(warnings) == 0 {
		return fmt.Sprintf("✅ %s has no active warnings.", helpers.Mention(target))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ %s has %d active warning(s):", helpers.Mention(target), len(warnings))
	for i, w := range warnings {
		if i == maxListedWarnings {
			fmt.Fprintf(&sb, "\n...and %d more", len(warnings)-maxListedWarnings)
			break
		}
		fmt.Fprintf(&sb, "\n%d. %s (by %s, %s)", i+1, w.Reason, helpers.Mention(w.ModeratorID), w.Timestamp.UTC().Format(time.DateOnly))
	}
	return platform.Truncate(sb.String(), platform.MaxMessageLength)
}
