package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guildwarden/warden/util"
)

// In-process implementation of Store. Used for tests and single-process development runs.
type MemStore struct {
	clock util.Clock

	mu          sync.Mutex
	nextID      uint
	configs     map[string]*CommunityConfig
	perms       map[string]*UserPermission
	logs        []ModerationLog
	warnings    []Warning
	punishments map[uint]TempPunishment
	chatLogs    []AIChatLog
}

var _ Store = (*MemStore)(nil)

func NewMemStore(clock util.Clock) *MemStore {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &MemStore{
		clock:       clock,
		configs:     make(map[string]*CommunityConfig),
		perms:       make(map[string]*UserPermission),
		punishments: make(map[uint]TempPunishment),
	}
}

func permKey(userID, communityID string) string {
	return communityID + "/" + userID
}

func (s *MemStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *MemStore) GetCommunityConfig(ctx context.Context, communityID string) (*CommunityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[communityID]
	if !ok {
		return nil, nil
	}
	out := *cfg
	return &out, nil
}

func (s *MemStore) CreateCommunityConfig(ctx context.Context, communityID, ownerID, prefix string) (*CommunityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[communityID]; ok {
		return nil, fmt.Errorf("config for community %s already exists", communityID)
	}
	cfg := &CommunityConfig{
		CommunityID:     communityID,
		OwnerID:         ownerID,
		Prefix:          prefix,
		AutoModEnabled:  true,
		AntiSpamEnabled: true,
		AntiRaidEnabled: true,
	}
	cfg.ID = s.id()
	cfg.CreatedAt = s.clock.Now()
	cfg.UpdatedAt = cfg.CreatedAt
	s.configs[communityID] = cfg
	out := *cfg
	return &out, nil
}

// Replaces (or inserts) a full community config. Not part of Store; used to seed fixtures.
func (s *MemStore) PutCommunityConfig(cfg CommunityConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == 0 {
		cfg.ID = s.id()
	}
	s.configs[cfg.CommunityID] = &cfg
}

func (s *MemStore) SetAutoModEnabled(ctx context.Context, communityID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[communityID]
	if !ok {
		return fmt.Errorf("no config for community %s", communityID)
	}
	cfg.AutoModEnabled = enabled
	cfg.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemStore) GetUserPermissions(ctx context.Context, userID, communityID string) (*UserPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[permKey(userID, communityID)]
	if !ok {
		return nil, nil
	}
	out := *perm
	out.Roles = append([]string(nil), perm.Roles...)
	return &out, nil
}

func (s *MemStore) AddUserPermission(ctx context.Context, userID, communityID, role, addedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := permKey(userID, communityID)
	perm, ok := s.perms[k]
	if !ok {
		perm = &UserPermission{
			UserID:      userID,
			CommunityID: communityID,
			AddedBy:     addedBy,
			AddedAt:     s.clock.Now(),
		}
		perm.ID = s.id()
		s.perms[k] = perm
	}
	perm.Roles = unionRoles(perm.Roles, role)
	return nil
}

func (s *MemStore) AddModerationLog(ctx context.Context, entry ModerationLog) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	entry.Timestamp = s.clock.Now()
	s.logs = append(s.logs, entry)
	return entry.ID, nil
}

func (s *MemStore) ListModerationLogs(ctx context.Context, communityID string, limit int) ([]ModerationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ModerationLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].CommunityID != communityID {
			continue
		}
		out = append(out, s.logs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) AddWarning(ctx context.Context, communityID, userID, moderatorID, reason string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := Warning{
		ID:          s.id(),
		CommunityID: communityID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Reason:      reason,
		Timestamp:   s.clock.Now(),
		Active:      true,
	}
	s.warnings = append(s.warnings, w)
	return w.ID, nil
}

func (s *MemStore) GetUserWarnings(ctx context.Context, userID, communityID string) ([]Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Warning
	for _, w := range s.warnings {
		if w.UserID == userID && w.CommunityID == communityID && w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *MemStore) CreateTempPunishment(ctx context.Context, communityID, userID, ptype string, duration time.Duration, reason, moderatorID string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := TempPunishment{
		ID:          s.id(),
		CommunityID: communityID,
		UserID:      userID,
		Type:        ptype,
		ExpiresAt:   s.clock.Now().Add(duration),
		Reason:      reason,
		ModeratorID: moderatorID,
	}
	s.punishments[p.ID] = p
	return p.ID, nil
}

func sortPunishments(out []TempPunishment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
}

func (s *MemStore) GetExpiredPunishments(ctx context.Context, now time.Time) ([]TempPunishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TempPunishment
	for _, p := range s.punishments {
		if !p.ExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	sortPunishments(out)
	return out, nil
}

func (s *MemStore) ListTempPunishments(ctx context.Context, communityID string) ([]TempPunishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TempPunishment
	for _, p := range s.punishments {
		if p.CommunityID == communityID {
			out = append(out, p)
		}
	}
	sortPunishments(out)
	return out, nil
}

func (s *MemStore) RemoveTempPunishment(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.punishments, id)
	return nil
}

func (s *MemStore) AddAIChatLog(ctx context.Context, entry AIChatLog) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	entry.Timestamp = s.clock.Now()
	s.chatLogs = append(s.chatLogs, entry)
	return entry.ID, nil
}

// Snapshot of assistant chat logs, for tests and diagnostics.
func (s *MemStore) AIChatLogs() []AIChatLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AIChatLog(nil), s.chatLogs...)
}
