package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guildwarden/warden/util"

	"github.com/araddon/dateparse"
	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// guilds, guild members, guild messages, message content
const DefaultIntents = 1<<0 | 1<<1 | 1<<9 | 1<<15

const GatewayVersion = 10

var ErrReconnectRequested = errors.New("gateway requested reconnect")

type gatewayFrame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outboundFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyPayload struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type readyPayload struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

type interactionPayload struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	Type      int    `json:"type"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	Member    *struct {
		User User `json:"user"`
	} `json:"member"`
	User *User `json:"user"`
	Data struct {
		Name    string `json:"name"`
		Options []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		} `json:"options"`
	} `json:"data"`
}

type messagePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type memberAddPayload struct {
	GuildID  string `json:"guild_id"`
	User     User   `json:"user"`
	JoinedAt string `json:"joined_at"`
}

type guildCreatePayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// Callbacks for gateway dispatch events. Nil callbacks skip the event type. Errors are logged.
type GatewayCallbacks struct {
	Ready         func(ctx context.Context, evt *Ready) error
	Interaction   func(ctx context.Context, evt *Interaction) error
	Message       func(ctx context.Context, evt *Message) error
	MemberJoin    func(ctx context.Context, evt *MemberJoin) error
	CommunityJoin func(ctx context.Context, evt *CommunityJoin) error
}

// Realtime event subscription. Reconnects with backoff until the context is cancelled.
type Gateway struct {
	Host      string
	Token     string
	Intents   int
	Callbacks *GatewayCallbacks
	Logger    *slog.Logger

	botUserID atomic.Value
	lastSeq   atomic.Int64
}

func NewGateway(host, token string, callbacks *GatewayCallbacks) *Gateway {
	return &Gateway{
		Host:      host,
		Token:     token,
		Intents:   DefaultIntents,
		Callbacks: callbacks,
		Logger:    slog.Default().With("system", "gateway"),
	}
}

// The bot's own user ID, once READY has been received.
func (g *Gateway) BotUserID() string {
	v, _ := g.botUserID.Load().(string)
	return v
}

func sleepForBackoff(b int) time.Duration {
	if b == 0 {
		return 0
	}

	if b < 50 {
		return time.Millisecond * time.Duration(rand.Intn(100)+(5*b))
	}

	return time.Second * 5
}

func (g *Gateway) Run(ctx context.Context) error {
	u, err := util.GatewayURL(g.Host, GatewayVersion)
	if err != nil {
		return fmt.Errorf("invalid gateway host: %w", err)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}
	header := http.Header{
		"User-Agent": []string{fmt.Sprintf("warden/%s", versioninfo.Short())},
	}

	var backoff int
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		gatewayConnects.Inc()
		con, _, err := d.DialContext(ctx, u, header)
		if err != nil {
			g.Logger.Warn("dialing failed", "host", g.Host, "err", err, "backoff", backoff)
			time.Sleep(sleepForBackoff(backoff))
			backoff++
			continue
		}

		g.Logger.Info("gateway connected", "host", g.Host)
		if err := g.HandleConnection(ctx, con); err != nil && ctx.Err() == nil {
			g.Logger.Warn("gateway connection failed", "host", g.Host, "err", err)
			time.Sleep(sleepForBackoff(backoff))
			backoff++
			continue
		}
		backoff = 0
	}
}

// Runs the protocol on an established connection until it fails or ctx is done.
func (g *Gateway) HandleConnection(ctx context.Context, con *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer con.Close()

	var writeLk sync.Mutex
	send := func(op int, d any) error {
		writeLk.Lock()
		defer writeLk.Unlock()
		con.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return con.WriteJSON(outboundFrame{Op: op, D: d})
	}

	var hello gatewayFrame
	if err := con.ReadJSON(&hello); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello frame, got op=%d", hello.Op)
	}
	var hp helloPayload
	if err := json.Unmarshal(hello.D, &hp); err != nil {
		return fmt.Errorf("parsing hello: %w", err)
	}
	if hp.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %d", hp.HeartbeatInterval)
	}

	if err := send(opIdentify, identifyPayload{
		Token:   g.Token,
		Intents: g.Intents,
		Properties: map[string]string{
			"os":      "linux",
			"browser": "warden",
			"device":  "warden",
		},
	}); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	go func() {
		t := time.NewTicker(time.Duration(hp.HeartbeatInterval) * time.Millisecond)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				var seq any
				if s := g.lastSeq.Load(); s > 0 {
					seq = s
				}
				if err := send(opHeartbeat, seq); err != nil {
					g.Logger.Warn("failed to heartbeat", "err", err)
				}
			case <-ctx.Done():
				con.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var frame gatewayFrame
		if err := con.ReadJSON(&frame); err != nil {
			return err
		}

		switch frame.Op {
		case opDispatch:
			if frame.S != nil {
				g.lastSeq.Store(*frame.S)
			}
			gatewayEvents.WithLabelValues(frame.T).Inc()
			if err := g.dispatch(ctx, frame.T, frame.D); err != nil {
				g.Logger.Error("event handler failed", "type", frame.T, "err", err)
			}
		case opHeartbeat:
			if err := send(opHeartbeat, g.lastSeq.Load()); err != nil {
				return err
			}
		case opHeartbeatAck:
			// ok
		case opReconnect, opInvalidSession:
			return ErrReconnectRequested
		default:
			g.Logger.Debug("ignoring gateway frame", "op", frame.Op)
		}
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func optionString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// integer-valued options are the common case
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}

func (g *Gateway) dispatch(ctx context.Context, typ string, raw json.RawMessage) error {
	cb := g.Callbacks
	if cb == nil {
		return nil
	}
	switch typ {
	case "READY":
		var p readyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parsing READY: %w", err)
		}
		g.botUserID.Store(p.User.ID)
		g.Logger.Info("gateway ready", "user", p.User.ID, "username", p.User.Username)
		if cb.Ready != nil {
			return cb.Ready(ctx, &Ready{User: p.User, SessionID: p.SessionID})
		}
	case "INTERACTION_CREATE":
		if cb.Interaction == nil {
			return nil
		}
		evt, err := ParseInteraction(raw)
		if err != nil {
			return err
		}
		if evt == nil {
			return nil
		}
		return cb.Interaction(ctx, evt)
	case "MESSAGE_CREATE":
		if cb.Message == nil {
			return nil
		}
		var p messagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parsing MESSAGE_CREATE: %w", err)
		}
		return cb.Message(ctx, &Message{
			ID:          p.ID,
			ChannelID:   p.ChannelID,
			CommunityID: p.GuildID,
			Author:      p.Author,
			Content:     p.Content,
			Timestamp:   parseTimestamp(p.Timestamp),
		})
	case "GUILD_MEMBER_ADD":
		if cb.MemberJoin == nil {
			return nil
		}
		var p memberAddPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parsing GUILD_MEMBER_ADD: %w", err)
		}
		return cb.MemberJoin(ctx, &MemberJoin{
			CommunityID: p.GuildID,
			User:        p.User,
			JoinedAt:    parseTimestamp(p.JoinedAt),
		})
	case "GUILD_CREATE":
		if cb.CommunityJoin == nil {
			return nil
		}
		var p guildCreatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("parsing GUILD_CREATE: %w", err)
		}
		return cb.CommunityJoin(ctx, &CommunityJoin{
			CommunityID: p.ID,
			Name:        p.Name,
			OwnerID:     p.OwnerID,
		})
	}
	return nil
}

// Parses an INTERACTION_CREATE payload. Returns nil (and no error) for interaction types other than application commands.
func ParseInteraction(raw json.RawMessage) (*Interaction, error) {
	var p interactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing INTERACTION_CREATE: %w", err)
	}
	// 2 is APPLICATION_COMMAND
	if p.Type != 2 {
		return nil, nil
	}
	evt := &Interaction{
		ID:          p.ID,
		Token:       p.Token,
		CommunityID: p.GuildID,
		ChannelID:   p.ChannelID,
		Command:     strings.ToLower(p.Data.Name),
		Options:     make(map[string]string, len(p.Data.Options)),
	}
	if p.Member != nil {
		evt.User = p.Member.User
	} else if p.User != nil {
		evt.User = *p.User
	}
	for _, opt := range p.Data.Options {
		evt.Options[opt.Name] = optionString(opt.Value)
	}
	return evt, nil
}
