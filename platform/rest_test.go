package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

func testServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	var lk sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lk.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: string(b)})
		lk.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestRESTClientCalls(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, reqs := testServer(t, http.StatusNoContent)
	c := NewRESTClient(srv.URL, "sekrit", "app1", 1000)

	in := &Interaction{ID: "i1", Token: "tok"}
	assert.NoError(c.Reply(ctx, in, "hello", true))
	assert.NoError(c.FollowUp(ctx, in, "again", false))
	assert.NoError(c.SendMessage(ctx, "ch1", "notice"))
	assert.NoError(c.DeleteMessage(ctx, "ch1", "m1"))
	assert.NoError(c.BanMember(ctx, "g1", "u1", "raid"))
	assert.NoError(c.TimeoutMember(ctx, "g1", "u1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "spam"))
	assert.NoError(c.LiftPunishment(ctx, "g1", "u1", "ban"))
	assert.NoError(c.LiftPunishment(ctx, "g1", "u1", "mute"))

	require.Len(t, *reqs, 8)
	got := *reqs
	assert.Equal("Bot sekrit", got[0].Auth)

	assert.Equal("POST /interactions/i1/tok/callback", got[0].Method+" "+got[0].Path)
	var ir interactionResponse
	assert.NoError(json.Unmarshal([]byte(got[0].Body), &ir))
	assert.Equal(4, ir.Type)
	assert.Equal("hello", ir.Data.Content)
	assert.Equal(64, ir.Data.Flags)

	assert.Equal("POST /webhooks/app1/tok", got[1].Method+" "+got[1].Path)
	assert.Equal("POST /channels/ch1/messages", got[2].Method+" "+got[2].Path)
	assert.Equal("DELETE /channels/ch1/messages/m1", got[3].Method+" "+got[3].Path)
	assert.Equal("PUT /guilds/g1/bans/u1", got[4].Method+" "+got[4].Path)
	assert.Equal("PATCH /guilds/g1/members/u1", got[5].Method+" "+got[5].Path)
	assert.True(strings.Contains(got[5].Body, "2024-03-01T12:00:00Z"))
	assert.Equal("DELETE /guilds/g1/bans/u1", got[6].Method+" "+got[6].Path)
	assert.Equal("PATCH /guilds/g1/members/u1", got[7].Method+" "+got[7].Path)
	assert.Equal(`{"communication_disabled_until":null}`, got[7].Body)
}

func TestChannelLocking(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var lk sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lk.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(b)})
		lk.Unlock()
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"ch1","name":"general","type":0},{"id":"v1","name":"voice","type":2},{"id":"ch2","name":"memes","type":0}]`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := NewRESTClient(srv.URL, "sekrit", "app1", 1000)

	channels, err := c.ListTextChannels(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal("ch1", channels[0].ID)
	assert.Equal("memes", channels[1].Name)

	assert.NoError(c.SetChannelLocked(ctx, "g1", "ch1", true, "raid"))
	assert.NoError(c.SetChannelLocked(ctx, "g1", "ch1", false, "over"))

	require.Len(t, reqs, 3)
	assert.Equal("GET /guilds/g1/channels", reqs[0].Method+" "+reqs[0].Path)
	assert.Equal("PUT /channels/ch1/permissions/g1", reqs[1].Method+" "+reqs[1].Path)
	assert.JSONEq(`{"type":0,"allow":"0","deny":"2048"}`, reqs[1].Body)
	assert.JSONEq(`{"type":0,"allow":"2048","deny":"0"}`, reqs[2].Body)
}

func TestRESTClientErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, _ := testServer(t, http.StatusForbidden)
	c := NewRESTClient(srv.URL, "sekrit", "app1", 1000)

	err := c.DeleteMessage(ctx, "ch1", "m1")
	assert.ErrorIs(err, ErrEnforcementFailed)

	var se *StatusError
	assert.ErrorAs(err, &se)
	assert.Equal(http.StatusForbidden, se.StatusCode)

	err = c.LiftPunishment(ctx, "g1", "u1", "kick")
	assert.ErrorIs(err, ErrUnsupportedPunishment)

	err = c.LiftPunishment(ctx, "g1", "u1", "ban")
	assert.ErrorIs(err, ErrEnforcementFailed)
}

func TestLiftPunishmentAlreadyGone(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv, reqs := testServer(t, http.StatusNotFound)
	c := NewRESTClient(srv.URL, "sekrit", "app1", 1000)

	assert.NoError(c.LiftPunishment(ctx, "g1", "u1", "ban"))
	assert.NoError(c.LiftPunishment(ctx, "g1", "u1", "mute"))
	assert.Len(*reqs, 2)
	assert.ErrorIs(c.DeleteMessage(ctx, "ch1", "m1"), ErrEnforcementFailed)
}

func TestTruncate(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("hello", Truncate("hello", 10))
	assert.Equal("hel", Truncate("hello", 3))
	assert.Equal("héllo", Truncate("héllo", 5))
	// flag emoji is two runes in one cluster, and is not split
	assert.Equal("ab", Truncate("ab🇺🇸", 3))
	assert.Equal("ab🇺🇸", Truncate("ab🇺🇸c", 4))
}
