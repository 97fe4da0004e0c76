package punish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type staticIdentity string

func (s staticIdentity) BotUserID() string {
	return string(s)
}

func newTestManager() (*Manager, *store.MemStore, *platform.FakeClient, *util.ManualClock) {
	clock := util.NewManualClock(testEpoch)
	st := store.NewMemStore(clock)
	client := platform.NewFakeClient()
	return NewManager(st, client, clock, staticIdentity("bot1")), st, client, clock
}

func TestCreate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, _, clock := newTestManager()

	id, err := m.Create(ctx, "c1", "u1", "mute", 10*time.Minute, "spam", "mod1")
	require.NoError(t, err)
	list, err := st.ListTempPunishments(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(id, list[0].ID)
	assert.Equal(clock.Now().Add(10*time.Minute), list[0].ExpiresAt)

	_, err = m.Create(ctx, "c1", "u1", "mute", 0, "spam", "mod1")
	assert.Error(err)
	_, err = m.Create(ctx, "c1", "u1", "mute", -time.Minute, "spam", "mod1")
	assert.Error(err)
	_, err = m.Create(ctx, "c1", "u1", "kick", time.Minute, "spam", "mod1")
	assert.Error(err)
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, client, clock := newTestManager()
	id, err := m.Create(ctx, "c1", "u1", "ban", time.Minute, "spam", "mod1")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, id))

	list, err := st.ListTempPunishments(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(list)

	// a cancelled punishment is never reversed
	clock.Advance(time.Hour)
	res, err := m.Sweep(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(0, res.Expired)
	assert.Empty(client.CallsFor("unban"))
}

func TestSweepIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, client, clock := newTestManager()

	_, err := m.Create(ctx, "c1", "u1", "ban", 5*time.Minute, "raid", "mod1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "c1", "u2", "mute", 2*time.Minute, "spam", "mod1")
	require.NoError(t, err)

	// nothing expired yet
	res, err := m.Sweep(ctx, clock.Now())
	assert.NoError(err)
	assert.Equal(SweepResult{}, res)
	assert.Empty(client.Calls())

	res, err = m.Sweep(ctx, clock.Advance(10*time.Minute))
	assert.NoError(err)
	assert.Equal(SweepResult{Expired: 2, Reversed: 2}, res)

	// reversed in expiry order
	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal("unmute", calls[0].Op)
	assert.Equal("u2", calls[0].UserID)
	assert.Equal("unban", calls[1].Op)
	assert.Equal("u1", calls[1].UserID)

	logs, err := st.ListModerationLogs(ctx, "c1", 0)
	assert.NoError(err)
	require.Len(t, logs, 2)
	assert.Equal("expire_ban", logs[0].Action)
	assert.Equal("bot1", logs[0].ModeratorID)
	assert.Equal("expire_mute", logs[1].Action)

	// a later sweep does not re-process anything
	res, err = m.Sweep(ctx, clock.Advance(time.Hour))
	assert.NoError(err)
	assert.Equal(SweepResult{}, res)
	assert.Len(client.Calls(), 2)
}

func TestSweepRetainsOnReversalFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, client, clock := newTestManager()

	id, err := m.Create(ctx, "c1", "u1", "ban", time.Minute, "raid", "mod1")
	require.NoError(t, err)

	client.SetFail("unban", true)
	for i := 0; i < 3; i++ {
		res, err := m.Sweep(ctx, clock.Advance(time.Minute))
		assert.NoError(err)
		assert.Equal(SweepResult{Expired: 1, Failed: 1}, res)
		list, _ := st.ListTempPunishments(ctx, "c1")
		require.Len(t, list, 1)
		assert.Equal(id, list[0].ID)
	}
	logs, _ := st.ListModerationLogs(ctx, "c1", 0)
	assert.Empty(logs)

	client.SetFail("unban", false)
	res, err := m.Sweep(ctx, clock.Advance(time.Minute))
	assert.NoError(err)
	assert.Equal(SweepResult{Expired: 1, Reversed: 1}, res)
	list, _ := st.ListTempPunishments(ctx, "c1")
	assert.Empty(list)
	assert.Len(client.CallsFor("unban"), 4)
}

func TestSweepDropsUnsupportedType(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, client, clock := newTestManager()

	// created directly in the store, bypassing Create's validation
	_, err := st.CreateTempPunishment(ctx, "c1", "u1", "kick", time.Minute, "legacy", "mod1")
	require.NoError(t, err)

	res, err := m.Sweep(ctx, clock.Advance(time.Hour))
	assert.NoError(err)
	assert.Equal(SweepResult{Expired: 1, Dropped: 1}, res)
	list, _ := st.ListTempPunishments(ctx, "c1")
	assert.Empty(list)
	assert.Empty(client.Calls())
}

type blockingReverser struct {
	started chan struct{}
	release chan struct{}
	calls   int
	lk      sync.Mutex
}

func (r *blockingReverser) LiftPunishment(ctx context.Context, communityID, userID, ptype string) error {
	r.lk.Lock()
	r.calls++
	r.lk.Unlock()
	r.started <- struct{}{}
	<-r.release
	return nil
}

func TestSweepSingleFlight(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, _, clock := newTestManager()
	rev := &blockingReverser{started: make(chan struct{}, 1), release: make(chan struct{})}
	m.Reverser = rev

	_, err := st.CreateTempPunishment(ctx, "c1", "u1", "ban", time.Minute, "raid", "mod1")
	require.NoError(t, err)
	now := clock.Advance(time.Hour)

	done := make(chan SweepResult)
	go func() {
		res, _ := m.Sweep(ctx, now)
		done <- res
	}()
	<-rev.started

	res, err := m.Sweep(ctx, now)
	assert.NoError(err)
	assert.True(res.Skipped)

	close(rev.release)
	first := <-done
	assert.Equal(1, first.Reversed)
	assert.Equal(1, rev.calls)
}

type fakeLease struct {
	held       bool
	acquireErr error
	releases   int
}

func (l *fakeLease) Acquire(ctx context.Context) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	return !l.held, nil
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.releases++
	return nil
}

func TestSweepLease(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m, st, client, clock := newTestManager()
	lease := &fakeLease{held: true}
	m.Lease = lease

	_, err := st.CreateTempPunishment(ctx, "c1", "u1", "ban", time.Minute, "raid", "mod1")
	require.NoError(t, err)

	res, err := m.Sweep(ctx, clock.Advance(time.Hour))
	assert.NoError(err)
	assert.True(res.Skipped)
	assert.Empty(client.Calls())
	assert.Equal(0, lease.releases)

	lease.acquireErr = errors.New("redis down")
	_, err = m.Sweep(ctx, clock.Now())
	assert.Error(err)

	lease.acquireErr = nil
	lease.held = false
	res, err = m.Sweep(ctx, clock.Now())
	assert.NoError(err)
	assert.Equal(1, res.Reversed)
	assert.Equal(1, lease.releases)
}

func TestDefaultHolder(t *testing.T) {
	assert := assert.New(t)

	assert.NotEmpty(DefaultHolder())
}
