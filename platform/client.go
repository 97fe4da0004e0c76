// Client for the chat platform's REST API and realtime gateway.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/rivo/uniseg"
)

// Returned (wrapped) when the platform rejects an action.
var ErrEnforcementFailed = errors.New("platform enforcement failed")

// Returned (wrapped) by LiftPunishment for punishment types with no reversal action.
var ErrUnsupportedPunishment = errors.New("unsupported punishment type")

// Platform messages are limited to this many characters.
const MaxMessageLength = 2000

type Client interface {
	// Initial response to an interaction. Ephemeral replies are only visible to the invoking user.
	Reply(ctx context.Context, in *Interaction, content string, ephemeral bool) error
	// Additional response to an interaction which has already been replied to.
	FollowUp(ctx context.Context, in *Interaction, content string, ephemeral bool) error
	SendMessage(ctx context.Context, channelID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	BanMember(ctx context.Context, communityID, userID, reason string) error
	TimeoutMember(ctx context.Context, communityID, userID string, until time.Time, reason string) error
	// Reverses a "mute" or "ban".
	LiftPunishment(ctx context.Context, communityID, userID, ptype string) error
	ListTextChannels(ctx context.Context, communityID string) ([]Channel, error)
	// Denies (or re-allows) sending messages in the channel for everyone in the community.
	SetChannelLocked(ctx context.Context, communityID, channelID string, locked bool, reason string) error
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

const ChannelTypeText = 0

// Truncates s to at most max characters without splitting grapheme clusters.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	var (
		count int
		end   int
	)
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n := len(gr.Runes())
		if count+n > max {
			break
		}
		count += n
		_, end = gr.Positions()
	}
	return s[:end]
}
