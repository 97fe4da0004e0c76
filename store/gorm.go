package store

import (
	"context"
	"fmt"
	"time"

	"github.com/guildwarden/warden/util"

	"gorm.io/gorm"
)

type GormStore struct {
	db    *gorm.DB
	clock util.Clock
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, clock util.Clock) *GormStore {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &GormStore{db: db, clock: clock}
}

// Timestamps are written in UTC. sqlite compares them as text, so mixed offsets would misorder.
func (s *GormStore) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&CommunityConfig{},
		&UserPermission{},
		&ModerationLog{},
		&Warning{},
		&TempPunishment{},
		&AIChatLog{},
	)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (s *GormStore) GetCommunityConfig(ctx context.Context, communityID string) (*CommunityConfig, error) {
	var cfg CommunityConfig
	res := s.db.WithContext(ctx).Where("community_id = ?", communityID).Limit(1).Find(&cfg)
	if res.Error != nil {
		return nil, unavailable("get community config", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &cfg, nil
}

func (s *GormStore) CreateCommunityConfig(ctx context.Context, communityID, ownerID, prefix string) (*CommunityConfig, error) {
	cfg := CommunityConfig{
		CommunityID:     communityID,
		OwnerID:         ownerID,
		Prefix:          prefix,
		AutoModEnabled:  true,
		AntiSpamEnabled: true,
		AntiRaidEnabled: true,
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, unavailable("create community config", err)
	}
	return &cfg, nil
}

func (s *GormStore) SetAutoModEnabled(ctx context.Context, communityID string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&CommunityConfig{}).Where("community_id = ?", communityID).Update("auto_mod_enabled", enabled)
	if res.Error != nil {
		return unavailable("set automod", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no config for community %s", communityID)
	}
	return nil
}

func (s *GormStore) GetUserPermissions(ctx context.Context, userID, communityID string) (*UserPermission, error) {
	var perm UserPermission
	res := s.db.WithContext(ctx).Where("user_id = ? AND community_id = ?", userID, communityID).Limit(1).Find(&perm)
	if res.Error != nil {
		return nil, unavailable("get user permissions", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &perm, nil
}

func (s *GormStore) AddUserPermission(ctx context.Context, userID, communityID, role, addedBy string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var perm UserPermission
		res := tx.Where("user_id = ? AND community_id = ?", userID, communityID).Limit(1).Find(&perm)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&UserPermission{
				UserID:      userID,
				CommunityID: communityID,
				Roles:       []string{role},
				AddedBy:     addedBy,
				AddedAt:     s.now(),
			}).Error
		}
		perm.Roles = unionRoles(perm.Roles, role)
		return tx.Save(&perm).Error
	})
	if err != nil {
		return unavailable("add user permission", err)
	}
	return nil
}

func (s *GormStore) AddModerationLog(ctx context.Context, entry ModerationLog) (uint, error) {
	entry.ID = 0
	entry.Timestamp = s.now()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, unavailable("add moderation log", err)
	}
	return entry.ID, nil
}

func (s *GormStore) ListModerationLogs(ctx context.Context, communityID string, limit int) ([]ModerationLog, error) {
	var out []ModerationLog
	q := s.db.WithContext(ctx).Where("community_id = ?", communityID).Order("timestamp desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, unavailable("list moderation logs", err)
	}
	return out, nil
}

func (s *GormStore) AddWarning(ctx context.Context, communityID, userID, moderatorID, reason string) (uint, error) {
	w := Warning{
		CommunityID: communityID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Reason:      reason,
		Timestamp:   s.now(),
		Active:      true,
	}
	if err := s.db.WithContext(ctx).Create(&w).Error; err != nil {
		return 0, unavailable("add warning", err)
	}
	return w.ID, nil
}

func (s *GormStore) GetUserWarnings(ctx context.Context, userID, communityID string) ([]Warning, error) {
	var out []Warning
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND community_id = ? AND active = ?", userID, communityID, true).
		Order("timestamp asc").
		Find(&out).Error
	if err != nil {
		return nil, unavailable("get user warnings", err)
	}
	return out, nil
}

func (s *GormStore) CreateTempPunishment(ctx context.Context, communityID, userID, ptype string, duration time.Duration, reason, moderatorID string) (uint, error) {
	p := TempPunishment{
		CommunityID: communityID,
		UserID:      userID,
		Type:        ptype,
		ExpiresAt:   s.now().Add(duration),
		Reason:      reason,
		ModeratorID: moderatorID,
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return 0, unavailable("create temp punishment", err)
	}
	return p.ID, nil
}

func (s *GormStore) GetExpiredPunishments(ctx context.Context, now time.Time) ([]TempPunishment, error) {
	var out []TempPunishment
	err := s.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Order("expires_at asc, id asc").Find(&out).Error
	if err != nil {
		return nil, unavailable("get expired punishments", err)
	}
	return out, nil
}

func (s *GormStore) ListTempPunishments(ctx context.Context, communityID string) ([]TempPunishment, error) {
	var out []TempPunishment
	err := s.db.WithContext(ctx).Where("community_id = ?", communityID).Order("expires_at asc, id asc").Find(&out).Error
	if err != nil {
		return nil, unavailable("list temp punishments", err)
	}
	return out, nil
}

func (s *GormStore) RemoveTempPunishment(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&TempPunishment{}, id).Error; err != nil {
		return unavailable("remove temp punishment", err)
	}
	return nil
}

func (s *GormStore) AddAIChatLog(ctx context.Context, entry AIChatLog) (uint, error) {
	entry.ID = 0
	entry.Timestamp = s.now()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, unavailable("add ai chat log", err)
	}
	return entry.ID, nil
}
