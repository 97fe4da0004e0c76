package platform

import (
	"time"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Slash-style command invocation.
type Interaction struct {
	ID          string
	Token       string
	CommunityID string
	ChannelID   string
	User        User
	Command     string
	// option values, stringified
	Options map[string]string
}

func (in *Interaction) Option(name string) (string, bool) {
	if in.Options == nil {
		return "", false
	}
	v, ok := in.Options[name]
	return v, ok
}

type Message struct {
	ID          string
	ChannelID   string
	CommunityID string
	Author      User
	Content     string
	Timestamp   time.Time
}

type MemberJoin struct {
	CommunityID string
	User        User
	JoinedAt    time.Time
}

// The bot was added to (or became available in) a community.
type CommunityJoin struct {
	CommunityID string
	Name        string
	OwnerID     string
}

type Ready struct {
	User      User
	SessionID string
}
