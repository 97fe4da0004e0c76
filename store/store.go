// Persistence contract for community configuration, permissions, moderation logs, warnings,
// temporary punishments and assistant chat logs.
//
// Includes an interface and implementations using gorm (sqlite or postgres) and in-process memory.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Returned (wrapped) when the backing data service is unreachable or erroring.
var ErrUnavailable = errors.New("store unavailable")

type Store interface {
	GetCommunityConfig(ctx context.Context, communityID string) (*CommunityConfig, error)
	CreateCommunityConfig(ctx context.Context, communityID, ownerID, prefix string) (*CommunityConfig, error)
	SetAutoModEnabled(ctx context.Context, communityID string, enabled bool) error

	// Returns nil (and no error) if the user has no permission record in the community.
	GetUserPermissions(ctx context.Context, userID, communityID string) (*UserPermission, error)
	// Idempotent union of role into the user's role set.
	AddUserPermission(ctx context.Context, userID, communityID, role, addedBy string) error

	AddModerationLog(ctx context.Context, entry ModerationLog) (uint, error)
	ListModerationLogs(ctx context.Context, communityID string, limit int) ([]ModerationLog, error)

	AddWarning(ctx context.Context, communityID, userID, moderatorID, reason string) (uint, error)
	// Active warnings only.
	GetUserWarnings(ctx context.Context, userID, communityID string) ([]Warning, error)

	CreateTempPunishment(ctx context.Context, communityID, userID, ptype string, duration time.Duration, reason, moderatorID string) (uint, error)
	// Punishments with ExpiresAt <= now, ordered by ExpiresAt ascending.
	GetExpiredPunishments(ctx context.Context, now time.Time) ([]TempPunishment, error)
	ListTempPunishments(ctx context.Context, communityID string) ([]TempPunishment, error)
	// Removing a record which does not exist is not an error.
	RemoveTempPunishment(ctx context.Context, id uint) error

	AddAIChatLog(ctx context.Context, entry AIChatLog) (uint, error)
}

type CommunityConfig struct {
	gorm.Model
	CommunityID      string `gorm:"uniqueIndex"`
	OwnerID          string
	Prefix           string
	LogChannelID     string
	WelcomeChannelID string
	RulesChannelID   string
	AutoModEnabled   bool
	AntiSpamEnabled  bool
	AntiRaidEnabled  bool
}

type UserPermission struct {
	gorm.Model
	UserID      string   `gorm:"uniqueIndex:idx_user_community"`
	CommunityID string   `gorm:"uniqueIndex:idx_user_community"`
	Roles       []string `gorm:"serializer:json"`
	AddedBy     string
	AddedAt     time.Time
}

// Append-only record of a moderation action, automated or manual.
type ModerationLog struct {
	ID           uint   `gorm:"primarykey"`
	CommunityID  string `gorm:"index"`
	ModeratorID  string
	TargetUserID string `gorm:"index"`
	Action       string
	Reason       string
	// milliseconds; nil when the action has no duration
	Duration  *int64
	Timestamp time.Time
}

type Warning struct {
	ID          uint   `gorm:"primarykey"`
	CommunityID string `gorm:"index:idx_warning_user_community"`
	UserID      string `gorm:"index:idx_warning_user_community"`
	ModeratorID string
	Reason      string
	Timestamp   time.Time
	Active      bool
}

type TempPunishment struct {
	ID          uint   `gorm:"primarykey"`
	CommunityID string `gorm:"index:idx_punishment_community_user"`
	UserID      string `gorm:"index:idx_punishment_community_user"`
	// "mute" or "ban"
	Type        string
	ExpiresAt   time.Time `gorm:"index"`
	Reason      string
	ModeratorID string
}

type AIChatLog struct {
	ID          uint   `gorm:"primarykey"`
	CommunityID string `gorm:"index"`
	UserID      string
	ChannelID   string
	Message     string
	Response    string
	Timestamp   time.Time
}

const (
	PunishmentMute = "mute"
	PunishmentBan  = "ban"
)

func DurationMillis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

func unionRoles(existing []string, role string) []string {
	for _, r := range existing {
		if r == role {
			return existing
		}
	}
	out := make([]string, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, role)
}
