package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Recorded call to a FakeClient.
type Call struct {
	Op          string
	ChannelID   string
	CommunityID string
	UserID      string
	MessageID   string
	Content     string
	Ephemeral   bool
}

// In-memory Client for tests. Records every call; operations listed in Fail return a wrapped ErrEnforcementFailed.
type FakeClient struct {
	lk       sync.Mutex
	calls    []Call
	fail     map[string]bool
	channels []Channel
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		fail: make(map[string]bool),
	}
}

// Makes the named operation ("reply", "delete", "unban", ...) fail, or succeed again.
func (c *FakeClient) SetFail(op string, fail bool) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.fail[op] = fail
}

func (c *FakeClient) record(call Call) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.calls = append(c.calls, call)
	if c.fail[call.Op] {
		return fmt.Errorf("%w: %s: status=503", ErrEnforcementFailed, call.Op)
	}
	return nil
}

func (c *FakeClient) Calls() []Call {
	c.lk.Lock()
	defer c.lk.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *FakeClient) CallsFor(op string) []Call {
	c.lk.Lock()
	defer c.lk.Unlock()
	var out []Call
	for _, call := range c.calls {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Text channels returned by ListTextChannels.
func (c *FakeClient) SetChannels(channels ...Channel) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.channels = channels
}

func (c *FakeClient) Reset() {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.calls = nil
}

func (c *FakeClient) Reply(ctx context.Context, in *Interaction, content string, ephemeral bool) error {
	return c.record(Call{Op: "reply", ChannelID: in.ChannelID, CommunityID: in.CommunityID, UserID: in.User.ID, Content: content, Ephemeral: ephemeral})
}

func (c *FakeClient) FollowUp(ctx context.Context, in *Interaction, content string, ephemeral bool) error {
	return c.record(Call{Op: "followup", ChannelID: in.ChannelID, CommunityID: in.CommunityID, UserID: in.User.ID, Content: content, Ephemeral: ephemeral})
}

func (c *FakeClient) SendMessage(ctx context.Context, channelID, content string) error {
	return c.record(Call{Op: "send", ChannelID: channelID, Content: content})
}

func (c *FakeClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.record(Call{Op: "delete", ChannelID: channelID, MessageID: messageID})
}

func (c *FakeClient) BanMember(ctx context.Context, communityID, userID, reason string) error {
	return c.record(Call{Op: "ban", CommunityID: communityID, UserID: userID, Content: reason})
}

func (c *FakeClient) TimeoutMember(ctx context.Context, communityID, userID string, until time.Time, reason string) error {
	return c.record(Call{Op: "timeout", CommunityID: communityID, UserID: userID, Content: reason})
}

func (c *FakeClient) LiftPunishment(ctx context.Context, communityID, userID, ptype string) error {
	switch ptype {
	case "ban":
		return c.record(Call{Op: "unban", CommunityID: communityID, UserID: userID})
	case "mute":
		return c.record(Call{Op: "unmute", CommunityID: communityID, UserID: userID})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedPunishment, ptype)
	}
}

func (c *FakeClient) ListTextChannels(ctx context.Context, communityID string) ([]Channel, error) {
	if err := c.record(Call{Op: "list_channels", CommunityID: communityID}); err != nil {
		return nil, err
	}
	c.lk.Lock()
	defer c.lk.Unlock()
	return append([]Channel(nil), c.channels...), nil
}

// Recorded as "lock" or "unlock".
func (c *FakeClient) SetChannelLocked(ctx context.Context, communityID, channelID string, locked bool, reason string) error {
	op := "unlock"
	if locked {
		op = "lock"
	}
	return c.record(Call{Op: op, CommunityID: communityID, ChannelID: channelID, Content: reason})
}
