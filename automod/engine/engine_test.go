package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/countstore"
	"github.com/guildwarden/warden/automod/flagstore"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	eng        *Engine
	store      *store.MemStore
	classifier *ai.FakeClassifier
	client     *platform.FakeClient
}

func newFixture(t *testing.T, v ai.Verdict) *engineFixture {
	clock := util.NewManualClock(testEpoch)
	st := store.NewMemStore(clock)
	st.PutCommunityConfig(store.CommunityConfig{CommunityID: "c1", OwnerID: "owner", AutoModEnabled: true})
	st.PutCommunityConfig(store.CommunityConfig{CommunityID: "c2", OwnerID: "owner", AutoModEnabled: false})
	classifier := ai.NewFakeClassifier(v)
	client := platform.NewFakeClient()
	return &engineFixture{
		eng:        EngineTestFixture(st, classifier, client, clock),
		store:      st,
		classifier: classifier,
		client:     client,
	}
}

func testMessage(id string) *platform.Message {
	return &platform.Message{
		ID:          id,
		ChannelID:   "ch1",
		CommunityID: "c1",
		Author:      platform.User{ID: "u1", Username: "alice"},
		Content:     "some message content",
	}
}

func TestModerationDecisionTable(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name     string
		verdict  ai.Verdict
		err      error
		enforced bool
	}{
		{name: "flagged high", verdict: ai.Verdict{Flagged: true, Reason: "slur", Severity: "high", Action: "none"}, enforced: true},
		{name: "flagged medium", verdict: ai.Verdict{Flagged: true, Reason: "spam", Severity: "medium", Action: "none"}, enforced: true},
		{name: "flagged low", verdict: ai.Verdict{Flagged: true, Reason: "meh", Severity: "low", Action: "warn"}, enforced: false},
		{name: "not flagged high", verdict: ai.Verdict{Flagged: false, Severity: "high", Action: "ban"}, enforced: false},
		{name: "classifier error", verdict: ai.Verdict{Flagged: true, Severity: "high"}, err: ai.ErrClassifierUnavailable, enforced: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert := assert.New(t)
			f := newFixture(t, c.verdict)
			f.classifier.Set(c.verdict, c.err)

			assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))
			assert.Equal(1, f.classifier.Calls())

			logs, err := f.store.ListModerationLogs(ctx, "c1", 0)
			require.NoError(t, err)
			if !c.enforced {
				assert.Empty(f.client.Calls())
				assert.Empty(logs)
				return
			}

			deletes := f.client.CallsFor("delete")
			require.Len(t, deletes, 1)
			assert.Equal("m1", deletes[0].MessageID)

			require.Len(t, logs, 1)
			assert.Equal(ActionAutoDelete, logs[0].Action)
			assert.Equal("Auto-moderation: "+c.verdict.Reason, logs[0].Reason)
			assert.Equal("bot1", logs[0].ModeratorID)
			assert.Equal("u1", logs[0].TargetUserID)
			assert.Equal(testEpoch, logs[0].Timestamp)

			sends := f.client.CallsFor("send")
			require.Len(t, sends, 1)
			assert.True(strings.Contains(sends[0].Content, "<@u1>"))
			assert.True(strings.Contains(sends[0].Content, c.verdict.Reason))

			warnings, err := f.store.GetUserWarnings(ctx, "u1", "c1")
			assert.NoError(err)
			assert.Empty(warnings)

			n, err := f.eng.Counters.GetCount(ctx, CounterDelete, "c1", countstore.PeriodTotal)
			assert.NoError(err)
			assert.Equal(1, n)
		})
	}
}

func TestWarnBranch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "insults", Severity: "medium", Action: "warn"})
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))

	logs, err := f.store.ListModerationLogs(ctx, "c1", 0)
	assert.NoError(err)
	require.Len(t, logs, 1)
	assert.Equal(ActionAutoDelete, logs[0].Action)

	warnings, err := f.store.GetUserWarnings(ctx, "u1", "c1")
	assert.NoError(err)
	require.Len(t, warnings, 1)
	assert.Equal("Auto-moderation: insults", warnings[0].Reason)
	assert.Equal("bot1", warnings[0].ModeratorID)
	assert.True(warnings[0].Active)
}

func TestSuggestedActionsNotEnforced(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "raid", Severity: "high", Action: "ban"})
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))

	assert.Empty(f.client.CallsFor("ban"))
	assert.Empty(f.client.CallsFor("timeout"))
	assert.Len(f.client.CallsFor("delete"), 1)

	flags, err := f.eng.Flags.Get(ctx, flagstore.UserKey("c1", "u1"))
	assert.NoError(err)
	assert.Equal([]string{"automod-suggest-ban"}, flags)

	warnings, _ := f.store.GetUserWarnings(ctx, "u1", "c1")
	assert.Empty(warnings)
}

func TestDeleteFailureDoesNotAbort(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "spam", Severity: "high", Action: "warn"})
	f.client.SetFail("delete", true)
	f.client.SetFail("send", true)

	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))

	logs, _ := f.store.ListModerationLogs(ctx, "c1", 0)
	assert.Len(logs, 1)
	warnings, _ := f.store.GetUserWarnings(ctx, "u1", "c1")
	assert.Len(warnings, 1)
}

type failingLogStore struct {
	*store.MemStore
}

func (s failingLogStore) AddModerationLog(ctx context.Context, entry store.ModerationLog) (uint, error) {
	return 0, errors.New("connection reset")
}

func TestStoreFailureAbortsMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "spam", Severity: "high", Action: "warn"})
	f.eng.Store = failingLogStore{f.store}

	assert.Error(f.eng.ProcessMessage(ctx, testMessage("m1")))
	warnings, _ := f.store.GetUserWarnings(ctx, "u1", "c1")
	assert.Empty(warnings)

	// next message is unaffected
	f.eng.Store = f.store
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m2")))
	warnings, _ = f.store.GetUserWarnings(ctx, "u1", "c1")
	assert.Len(warnings, 1)
}

type flakyConfigStore struct {
	*store.MemStore
	failures int
}

func (s *flakyConfigStore) GetCommunityConfig(ctx context.Context, communityID string) (*store.CommunityConfig, error) {
	if s.failures > 0 {
		s.failures--
		return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	}
	return s.MemStore.GetCommunityConfig(ctx, communityID)
}

func TestRedeliveryAfterConfigFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "spam", Severity: "high"})
	f.eng.Store = &flakyConfigStore{MemStore: f.store, failures: 1}

	assert.Error(f.eng.ProcessMessage(ctx, testMessage("m1")))
	assert.Equal(0, f.classifier.Calls())

	// the redelivered message is classified and enforced
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))
	assert.Equal(1, f.classifier.Calls())
	assert.Len(f.client.CallsFor("delete"), 1)

	// and only then counts as processed
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))
	assert.Equal(1, f.classifier.Calls())
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(ctx context.Context, content, communityID string) (ai.Verdict, error) {
	panic("classifier blew up")
}

func TestPanicContained(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.NeutralVerdict())
	f.eng.Classifier = panickyClassifier{}
	assert.Error(f.eng.ProcessMessage(ctx, testMessage("m1")))
	assert.Empty(f.client.Calls())
}

func TestSkips(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "spam", Severity: "high"})

	bot := testMessage("m1")
	bot.Author.Bot = true
	assert.NoError(f.eng.ProcessMessage(ctx, bot))

	dm := testMessage("m2")
	dm.CommunityID = ""
	assert.NoError(f.eng.ProcessMessage(ctx, dm))

	disabled := testMessage("m3")
	disabled.CommunityID = "c2"
	assert.NoError(f.eng.ProcessMessage(ctx, disabled))

	unknown := testMessage("m4")
	unknown.CommunityID = "c-unknown"
	assert.NoError(f.eng.ProcessMessage(ctx, unknown))

	assert.Equal(0, f.classifier.Calls())
	assert.Empty(f.client.Calls())

	// redelivery of an already-processed message does not delete twice
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m5")))
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m5")))
	assert.Len(f.client.CallsFor("delete"), 1)
	assert.Equal(1, f.classifier.Calls())
}

func TestCommunityConfigCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "spam", Severity: "high"})

	cfg, err := f.eng.GetCommunityConfig(ctx, "c1")
	require.NoError(t, err)
	assert.True(cfg.AutoModEnabled)

	// cached value is served until purged
	assert.NoError(f.store.SetAutoModEnabled(ctx, "c1", false))
	cfg, _ = f.eng.GetCommunityConfig(ctx, "c1")
	assert.True(cfg.AutoModEnabled)
	assert.NoError(f.eng.PurgeCommunityConfig(ctx, "c1"))
	cfg, _ = f.eng.GetCommunityConfig(ctx, "c1")
	assert.False(cfg.AutoModEnabled)
}

func TestCommunityAndMemberJoin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := newFixture(t, ai.NeutralVerdict())

	assert.NoError(f.eng.ProcessCommunityJoin(ctx, &platform.CommunityJoin{CommunityID: "c9", OwnerID: "o9"}))
	cfg, err := f.store.GetCommunityConfig(ctx, "c9")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(cfg.AutoModEnabled)
	assert.Equal("o9", cfg.OwnerID)
	perm, err := f.store.GetUserPermissions(ctx, "o9", "c9")
	require.NoError(t, err)
	require.NotNil(t, perm)
	assert.Equal([]string{"owner"}, perm.Roles)
	// joining again does not fail or reset
	assert.NoError(f.eng.ProcessCommunityJoin(ctx, &platform.CommunityJoin{CommunityID: "c9", OwnerID: "o9"}))

	// no welcome channel configured
	assert.NoError(f.eng.ProcessMemberJoin(ctx, &platform.MemberJoin{CommunityID: "c9", User: platform.User{ID: "u5"}}))
	assert.Empty(f.client.Calls())

	f.store.PutCommunityConfig(store.CommunityConfig{CommunityID: "c3", WelcomeChannelID: "welcome", RulesChannelID: "rules"})
	assert.NoError(f.eng.ProcessMemberJoin(ctx, &platform.MemberJoin{CommunityID: "c3", User: platform.User{ID: "u5"}}))
	sends := f.client.CallsFor("send")
	require.Len(t, sends, 1)
	assert.Equal("welcome", sends[0].ChannelID)
	assert.True(strings.Contains(sends[0].Content, "<@u5>"))
	assert.True(strings.Contains(sends[0].Content, "<#rules>"))
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newFixture(t, ai.Verdict{Flagged: true, Reason: "raid", Severity: "high", Action: "kick"})
	f.eng.Notifier = NewSlackNotifier(srv.URL)
	assert.NoError(f.eng.ProcessMessage(ctx, testMessage("m1")))

	assert.True(strings.Contains(body, "automod-suggest-kick"))
	assert.False(strings.Contains(body, "some message content"))
}
