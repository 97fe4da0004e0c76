package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/cachestore"
	"github.com/guildwarden/warden/automod/countstore"
	"github.com/guildwarden/warden/automod/flagstore"
	"github.com/guildwarden/warden/automod/helpers"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	ActionAutoDelete = "auto_delete"

	CounterDelete     = "automod-delete"
	CounterDeleteUser = "automod-delete-user"
	CounterUsers      = "automod-flagged-users"

	configCacheName = "community-config"
)

// Source of the bot's own user ID. The gateway only learns it after connecting.
type BotIdentity interface {
	BotUserID() string
}

type StaticIdentity string

func (s StaticIdentity) BotUserID() string {
	return string(s)
}

// runtime for moderating chat messages: classification, enforcement, and recording moderation actions.
//
// Store, Classifier, Platform, Counters, Cache, Flags and Identity must all be non-nil. Notifier and Dedupe are optional.
type Engine struct {
	Logger     *slog.Logger
	Store      store.Store
	Classifier ai.Classifier
	Platform   platform.Client
	Counters   countstore.CountStore
	Cache      cachestore.CacheStore
	Flags      flagstore.FlagStore
	Identity   BotIdentity
	Notifier   Notifier
	// recently processed message IDs; redeliveries are skipped
	Dedupe *expirable.LRU[string, bool]
}

func NewDedupeCache(size int, ttl time.Duration) *expirable.LRU[string, bool] {
	return expirable.NewLRU[string, bool](size, nil, ttl)
}

func (eng *Engine) alreadyProcessed(messageID string) bool {
	return eng.Dedupe != nil && eng.Dedupe.Contains(messageID)
}

// Only called once the message has reached classification, so a redelivery after a transient failure is retried.
func (eng *Engine) markProcessed(messageID string) {
	if eng.Dedupe != nil {
		eng.Dedupe.Add(messageID, true)
	}
}

// Runs the moderation pipeline for a single message. Classifier failures are treated as a clean verdict; other errors abort processing of this message only.
func (eng *Engine) ProcessMessage(ctx context.Context, msg *platform.Message) (err error) {
	// similar to an HTTP server, we want to recover any panics from pipeline execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("automod event execution exception", "err", r, "community", msg.CommunityID, "message", msg.ID)
			eventErrorCount.WithLabelValues("message").Inc()
			err = fmt.Errorf("automod panic processing message %s: %v", msg.ID, r)
		}
	}()

	if msg.Author.Bot || msg.CommunityID == "" {
		return nil
	}
	if eng.alreadyProcessed(msg.ID) {
		eventSkipCount.WithLabelValues("duplicate").Inc()
		return nil
	}

	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
	}()
	eventProcessCount.WithLabelValues("message").Inc()

	logger := eng.Logger.With("community", msg.CommunityID, "channel", msg.ChannelID, "message", msg.ID, "user", msg.Author.ID)

	cfg, err := eng.GetCommunityConfig(ctx, msg.CommunityID)
	if err != nil {
		eventErrorCount.WithLabelValues("message").Inc()
		return fmt.Errorf("reading community config: %w", err)
	}
	eng.markProcessed(msg.ID)
	if cfg == nil || !cfg.AutoModEnabled {
		eventSkipCount.WithLabelValues("disabled").Inc()
		return nil
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	verdict, err := eng.Classifier.Classify(ctx, msg.Content, msg.CommunityID)
	if err != nil {
		classifierFailures.Inc()
		logger.Warn("classifier failed, treating message as clean", "err", err, "contentHash", helpers.HashOfString(msg.Content))
		return nil
	}
	if !verdict.Enforceable() {
		return nil
	}

	if err := eng.enforce(ctx, logger, msg, verdict); err != nil {
		eventErrorCount.WithLabelValues("message").Inc()
		return err
	}
	return nil
}

// Platform failures are logged and do not abort later steps. Store failures abort.
func (eng *Engine) enforce(ctx context.Context, logger *slog.Logger, msg *platform.Message, verdict ai.Verdict) error {
	reason := "Auto-moderation: " + verdict.Reason
	botID := eng.Identity.BotUserID()
	logger = logger.With("severity", verdict.Severity, "verdictAction", verdict.Action)

	if err := eng.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		enforcementFailures.WithLabelValues("delete").Inc()
		logger.Error("failed to delete flagged message", "err", err)
	} else {
		actionCount.WithLabelValues("delete").Inc()
	}

	_, err := eng.Store.AddModerationLog(ctx, store.ModerationLog{
		CommunityID:  msg.CommunityID,
		ModeratorID:  botID,
		TargetUserID: msg.Author.ID,
		Action:       ActionAutoDelete,
		Reason:       reason,
	})
	if err != nil {
		return fmt.Errorf("recording moderation log: %w", err)
	}

	notice := fmt.Sprintf("⚠️ %s, your message was removed by auto-moderation.\nReason: %s", helpers.Mention(msg.Author.ID), verdict.Reason)
	if err := eng.Platform.SendMessage(ctx, msg.ChannelID, notice); err != nil {
		enforcementFailures.WithLabelValues("notify").Inc()
		logger.Error("failed to notify channel of removal", "err", err)
	}

	var suggested []string
	switch verdict.Action {
	case ai.ActionWarn:
		if _, err := eng.Store.AddWarning(ctx, msg.CommunityID, msg.Author.ID, botID, reason); err != nil {
			return fmt.Errorf("recording warning: %w", err)
		}
		actionCount.WithLabelValues("warn").Inc()
	case ai.ActionMute, ai.ActionKick, ai.ActionBan:
		// not enforced automatically; recorded for human review
		suggested = []string{"automod-suggest-" + verdict.Action}
		if err := eng.Flags.Add(ctx, flagstore.UserKey(msg.CommunityID, msg.Author.ID), suggested); err != nil {
			logger.Error("failed to record suggested action", "err", err)
		}
		actionCount.WithLabelValues("suggest-" + verdict.Action).Inc()
	}

	if err := eng.persistCounters(ctx, msg); err != nil {
		logger.Error("failed to increment counters", "err", err)
	}

	logger.Info("auto-moderation enforced", "reason", verdict.Reason, "contentHash", helpers.HashOfString(msg.Content))

	if eng.Notifier != nil {
		report := &ActionReport{
			CommunityID:    msg.CommunityID,
			ChannelID:      msg.ChannelID,
			MessageID:      msg.ID,
			UserID:         msg.Author.ID,
			Verdict:        verdict,
			ContentHash:    helpers.HashOfString(msg.Content),
			SuggestedFlags: suggested,
		}
		if err := eng.Notifier.SendAction(ctx, report); err != nil {
			logger.Error("sending moderation notification", "err", err)
		}
	}
	return nil
}

func (eng *Engine) persistCounters(ctx context.Context, msg *platform.Message) error {
	if err := eng.Counters.Increment(ctx, CounterDelete, msg.CommunityID); err != nil {
		return err
	}
	if err := eng.Counters.Increment(ctx, CounterDeleteUser, flagstore.UserKey(msg.CommunityID, msg.Author.ID)); err != nil {
		return err
	}
	return eng.Counters.IncrementDistinct(ctx, CounterUsers, msg.CommunityID, msg.Author.ID)
}

// Reads community config through the cache. Returns nil (and no error) if the community has no config. Cache failures fall through to the store.
func (eng *Engine) GetCommunityConfig(ctx context.Context, communityID string) (*store.CommunityConfig, error) {
	existing, err := eng.Cache.Get(ctx, configCacheName, communityID)
	if err != nil {
		eng.Logger.Warn("community config cache read failed", "community", communityID, "err", err)
	} else if existing != "" {
		var cfg store.CommunityConfig
		if err := json.Unmarshal([]byte(existing), &cfg); err == nil {
			return &cfg, nil
		}
		eng.Logger.Warn("invalid community config cache entry", "community", communityID)
	}

	cfg, err := eng.Store.GetCommunityConfig(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := eng.Cache.Set(ctx, configCacheName, communityID, string(b)); err != nil {
		eng.Logger.Warn("community config cache write failed", "community", communityID, "err", err)
	}
	return cfg, nil
}

func (eng *Engine) PurgeCommunityConfig(ctx context.Context, communityID string) error {
	return eng.Cache.Purge(ctx, configCacheName, communityID)
}

// Bootstraps config (automod enabled) and the owner's role the first time the bot sees a community.
func (eng *Engine) ProcessCommunityJoin(ctx context.Context, evt *platform.CommunityJoin) error {
	cfg, err := eng.Store.GetCommunityConfig(ctx, evt.CommunityID)
	if err != nil {
		return fmt.Errorf("reading community config: %w", err)
	}
	if cfg != nil {
		return nil
	}
	if _, err := eng.Store.CreateCommunityConfig(ctx, evt.CommunityID, evt.OwnerID, "!"); err != nil {
		return fmt.Errorf("creating community config: %w", err)
	}
	// the platform-level owner is the only way to bootstrap staff
	if evt.OwnerID != "" {
		if err := eng.Store.AddUserPermission(ctx, evt.OwnerID, evt.CommunityID, "owner", eng.Identity.BotUserID()); err != nil {
			return fmt.Errorf("granting owner role: %w", err)
		}
	}
	eng.Logger.Info("created community config", "community", evt.CommunityID, "owner", evt.OwnerID, "name", evt.Name)
	return eng.PurgeCommunityConfig(ctx, evt.CommunityID)
}

// Sends a welcome message if the community has a welcome channel configured.
func (eng *Engine) ProcessMemberJoin(ctx context.Context, evt *platform.MemberJoin) error {
	if evt.User.Bot {
		return nil
	}
	cfg, err := eng.GetCommunityConfig(ctx, evt.CommunityID)
	if err != nil {
		return fmt.Errorf("reading community config: %w", err)
	}
	if cfg == nil || cfg.WelcomeChannelID == "" {
		return nil
	}
	rules := "Please read the server rules."
	if cfg.RulesChannelID != "" {
		rules = fmt.Sprintf("Check out <#%s>.", cfg.RulesChannelID)
	}
	msg := fmt.Sprintf("🎉 Welcome %s to the server! %s Use `/help` to see available commands.", helpers.Mention(evt.User.ID), rules)
	if err := eng.Platform.SendMessage(ctx, cfg.WelcomeChannelID, msg); err != nil {
		return fmt.Errorf("sending welcome message: %w", err)
	}
	return nil
}
