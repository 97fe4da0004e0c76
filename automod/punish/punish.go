// Temporary punishments (mutes and bans) and their expiry.
package punish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"
)

// Lifts a punishment on the platform. Must return a wrapped platform.ErrUnsupportedPunishment for types it cannot reverse.
type Reverser interface {
	LiftPunishment(ctx context.Context, communityID, userID, ptype string) error
}

type BotIdentity interface {
	BotUserID() string
}

type SweepResult struct {
	// another sweep held the lock or lease; nothing was done
	Skipped  bool
	Expired  int
	Reversed int
	Failed   int
	// unsupported punishment types, removed without reversal
	Dropped int
}

// Creates temporary punishments and reverses them once they expire.
//
// Reversal failures leave the record in place; it is retried on every later sweep until it succeeds or is removed by hand.
type Manager struct {
	Store    store.Store
	Reverser Reverser
	Clock    util.Clock
	Identity BotIdentity
	// optional; coordinates sweeps across instances
	Lease  Lease
	Logger *slog.Logger

	sweepLk sync.Mutex
}

func NewManager(st store.Store, reverser Reverser, clock util.Clock, identity BotIdentity) *Manager {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &Manager{
		Store:    st,
		Reverser: reverser,
		Clock:    clock,
		Identity: identity,
		Logger:   slog.Default().With("system", "punish"),
	}
}

func validType(ptype string) bool {
	return ptype == store.PunishmentMute || ptype == store.PunishmentBan
}

// Persists a punishment expiring duration from now. Applying the punishment on the platform is the caller's job.
func (m *Manager) Create(ctx context.Context, communityID, userID, ptype string, duration time.Duration, reason, moderatorID string) (uint, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("punishment duration must be positive: %s", duration)
	}
	if !validType(ptype) {
		return 0, fmt.Errorf("unsupported punishment type: %q", ptype)
	}
	id, err := m.Store.CreateTempPunishment(ctx, communityID, userID, ptype, duration, reason, moderatorID)
	if err != nil {
		return 0, fmt.Errorf("creating temporary punishment: %w", err)
	}
	punishmentsCreated.WithLabelValues(ptype).Inc()
	m.Logger.Info("temporary punishment created", "id", id, "community", communityID, "user", userID, "type", ptype, "duration", duration.String())
	return id, nil
}

// Drops a punishment record without reversing anything, for when applying the punishment on the platform failed.
func (m *Manager) Cancel(ctx context.Context, id uint) error {
	if err := m.Store.RemoveTempPunishment(ctx, id); err != nil {
		return fmt.Errorf("cancelling temporary punishment %d: %w", id, err)
	}
	m.Logger.Info("temporary punishment cancelled", "id", id)
	return nil
}

// Reverses and removes every punishment expired as of now, oldest first. Only one sweep runs at a time; an overlapping call returns a Skipped result.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	if !m.sweepLk.TryLock() {
		res.Skipped = true
		return res, nil
	}
	defer m.sweepLk.Unlock()

	if m.Lease != nil {
		ok, err := m.Lease.Acquire(ctx)
		if err != nil {
			return res, fmt.Errorf("acquiring sweep lease: %w", err)
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := m.Lease.Release(context.WithoutCancel(ctx)); err != nil {
				m.Logger.Warn("failed to release sweep lease", "err", err)
			}
		}()
	}

	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	expired, err := m.Store.GetExpiredPunishments(ctx, now)
	if err != nil {
		return res, fmt.Errorf("fetching expired punishments: %w", err)
	}
	res.Expired = len(expired)

	for _, p := range expired {
		// a record which has started processing is carried through reversal and removal
		if ctx.Err() != nil {
			break
		}
		m.expire(context.WithoutCancel(ctx), p, &res)
	}
	return res, nil
}

func (m *Manager) expire(ctx context.Context, p store.TempPunishment, res *SweepResult) {
	logger := m.Logger.With("id", p.ID, "community", p.CommunityID, "user", p.UserID, "type", p.Type, "expiresAt", p.ExpiresAt)

	err := m.Reverser.LiftPunishment(ctx, p.CommunityID, p.UserID, p.Type)
	if errors.Is(err, platform.ErrUnsupportedPunishment) {
		logger.Warn("no reversal action for punishment type, removing record")
		if err := m.Store.RemoveTempPunishment(ctx, p.ID); err != nil {
			logger.Error("failed to remove punishment record", "err", err)
			res.Failed++
			return
		}
		punishmentsExpired.WithLabelValues(p.Type, "dropped").Inc()
		res.Dropped++
		return
	}
	if err != nil {
		logger.Error("failed to reverse expired punishment, will retry", "err", err)
		punishmentsExpired.WithLabelValues(p.Type, "failed").Inc()
		res.Failed++
		return
	}

	if err := m.Store.RemoveTempPunishment(ctx, p.ID); err != nil {
		// reversal is idempotent, so the next sweep can safely repeat it
		logger.Error("reversed punishment but failed to remove record, will retry", "err", err)
		punishmentsExpired.WithLabelValues(p.Type, "failed").Inc()
		res.Failed++
		return
	}
	punishmentsExpired.WithLabelValues(p.Type, "reversed").Inc()
	res.Reversed++
	logger.Info("expired punishment reversed")

	var moderatorID string
	if m.Identity != nil {
		moderatorID = m.Identity.BotUserID()
	}
	_, err = m.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  p.CommunityID,
		ModeratorID:  moderatorID,
		TargetUserID: p.UserID,
		Action:       "expire_" + p.Type,
		Reason:       fmt.Sprintf("Temporary %s expired: %s", p.Type, p.Reason),
	})
	if err != nil {
		logger.Warn("failed to record punishment expiry", "err", err)
	}
}

// Sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := m.Sweep(ctx, m.Clock.Now())
			if err != nil {
				m.Logger.Error("punishment sweep failed", "err", err)
				continue
			}
			if res.Expired > 0 {
				m.Logger.Info("punishment sweep complete", "expired", res.Expired, "reversed", res.Reversed, "failed", res.Failed, "dropped", res.Dropped)
			}
		}
	}
}
