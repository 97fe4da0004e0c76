// Built-in command set: moderation, administration and utility commands.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/dispatch"
	"github.com/guildwarden/warden/automod/helpers"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	CategoryModeration = "Moderation"
	CategoryAdmin      = "Admin"
	CategoryAI         = "AI"
	CategoryUtility    = "Utility"

	defaultReason = "No reason provided"

	guildOnlyMessage   = "❌ This command can only be used in a server."
	missingUserMessage = "❌ You must specify a user."
)

func All() []*dispatch.Command {
	return []*dispatch.Command{
		helpCommand(),
		pingCommand(),
		userinfoCommand(),
		aiCommand(),
		addstaffCommand(),
		automodCommand(),
		lockdownCommand(),
		banCommand(),
		muteCommand(),
		warnCommand(),
		warningsCommand(),
	}
}

// Registers every built-in command.
func Register(reg *dispatch.Registry) error {
	for _, cmd := range All() {
		if err := reg.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func categoryOf(cmd *dispatch.Command) string {
	if cmd.Category == "" {
		return CategoryUtility
	}
	return cmd.Category
}

// Replies with a user-facing refusal. Validation problems are not handler faults, so the handler returns this (usually nil) error.
func refuse(ctx context.Context, inv *dispatch.Invocation, msg string) error {
	return inv.Reply(ctx, msg, true)
}

func targetUser(inv *dispatch.Invocation, required bool) (string, bool) {
	raw, ok := inv.Option("user")
	if !ok || strings.TrimSpace(raw) == "" {
		if required {
			return "", false
		}
		return inv.UserID(), true
	}
	return helpers.ParseUserRef(raw)
}

func reasonOption(inv *dispatch.Invocation) string {
	if r, ok := inv.Option("reason"); ok && strings.TrimSpace(r) != "" {
		return strings.TrimSpace(r)
	}
	return defaultReason
}

func roleOf(ctx context.Context, inv *dispatch.Invocation, userID string) (authz.Role, error) {
	perm, err := inv.Store.GetUserPermissions(ctx, userID, inv.CommunityID())
	if err != nil {
		return authz.RoleNone, fmt.Errorf("reading permissions for %s: %w", userID, err)
	}
	if perm == nil {
		return authz.DefaultRole, nil
	}
	return authz.RoleSet(perm.Roles).Effective(), nil
}

// Whether the invoking user ranks strictly above the target.
func outranks(ctx context.Context, inv *dispatch.Invocation, targetID string) (bool, error) {
	mine, err := roleOf(ctx, inv, inv.UserID())
	if err != nil {
		return false, err
	}
	theirs, err := roleOf(ctx, inv, targetID)
	if err != nil {
		return false, err
	}
	return mine.Rank() < theirs.Rank(), nil
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
