package engine

import (
	"log/slog"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/cachestore"
	"github.com/guildwarden/warden/automod/countstore"
	"github.com/guildwarden/warden/automod/flagstore"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"
)

// Engine wired entirely to in-memory stores and fakes, for tests.
func EngineTestFixture(st store.Store, classifier ai.Classifier, client platform.Client, clock util.Clock) *Engine {
	return &Engine{
		Logger:     slog.Default(),
		Store:      st,
		Classifier: classifier,
		Platform:   client,
		Counters:   countstore.NewMemCountStore(clock),
		Cache:      cachestore.NewMemCacheStore(1000, time.Hour),
		Flags:      flagstore.NewMemFlagStore(),
		Identity:   StaticIdentity("bot1"),
		Dedupe:     NewDedupeCache(1000, time.Hour),
	}
}
