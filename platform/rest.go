package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/guildwarden/warden/util"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

const (
	interactionResponseMessage = 4
	messageFlagEphemeral       = 64
)

// Non-2xx API response. Unwraps to ErrEnforcementFailed.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: status=%d body=%q", ErrEnforcementFailed, e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrEnforcementFailed
}

// REST API client. Implements Client.
type RESTClient struct {
	// API base URL, eg "https://discord.com/api/v10"
	Host          string
	Token         string
	ApplicationID string
	Client        *http.Client
	Limiter       *rate.Limiter
	UserAgent     string
	Logger        *slog.Logger
}

var _ Client = (*RESTClient)(nil)

func NewRESTClient(host, token, applicationID string, rps float64) *RESTClient {
	if rps <= 0 {
		rps = 40
	}
	return &RESTClient{
		Host:          host,
		Token:         token,
		ApplicationID: applicationID,
		Client:        util.RobustHTTPClient(),
		Limiter:       rate.NewLimiter(rate.Limit(rps), int(rps)),
		UserAgent:     fmt.Sprintf("DiscordBot (warden, %s)", versioninfo.Short()),
		Logger:        slog.Default().With("system", "platform"),
	}
}

type messageBody struct {
	Content string `json:"content"`
	Flags   int    `json:"flags,omitempty"`
}

type interactionResponse struct {
	Type int         `json:"type"`
	Data messageBody `json:"data"`
}

func newMessageBody(content string, ephemeral bool) messageBody {
	mb := messageBody{Content: Truncate(content, MaxMessageLength)}
	if ephemeral {
		mb.Flags = messageFlagEphemeral
	}
	return mb
}

// Performs a single API request. Non-2xx responses are wrapped ErrEnforcementFailed.
func (c *RESTClient) do(ctx context.Context, op, method, path string, body any, auditReason string) error {
	return c.doInto(ctx, op, method, path, body, auditReason, nil)
}

// Like do, decoding a successful JSON response into out if it is not nil.
func (c *RESTClient) doInto(ctx context.Context, op, method, path string, body any, auditReason string, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.PathEscape(auditReason))
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		apiRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: %s: %w", ErrEnforcementFailed, op, err)
	}
	defer resp.Body.Close()
	apiRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decoding response: %w", op, err)
		}
		return nil
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *RESTClient) Reply(ctx context.Context, in *Interaction, content string, ephemeral bool) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", in.ID, in.Token)
	return c.do(ctx, "reply", http.MethodPost, path, interactionResponse{
		Type: interactionResponseMessage,
		Data: newMessageBody(content, ephemeral),
	}, "")
}

func (c *RESTClient) FollowUp(ctx context.Context, in *Interaction, content string, ephemeral bool) error {
	path := fmt.Sprintf("/webhooks/%s/%s", c.ApplicationID, in.Token)
	return c.do(ctx, "followup", http.MethodPost, path, newMessageBody(content, ephemeral), "")
}

func (c *RESTClient) SendMessage(ctx context.Context, channelID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	return c.do(ctx, "send", http.MethodPost, path, newMessageBody(content, false), "")
}

func (c *RESTClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	return c.do(ctx, "delete", http.MethodDelete, path, nil, "")
}

func (c *RESTClient) BanMember(ctx context.Context, communityID, userID, reason string) error {
	path := fmt.Sprintf("/guilds/%s/bans/%s", communityID, userID)
	return c.do(ctx, "ban", http.MethodPut, path, struct{}{}, reason)
}

type memberTimeout struct {
	// nil clears the timeout
	CommunicationDisabledUntil *string `json:"communication_disabled_until"`
}

func (c *RESTClient) TimeoutMember(ctx context.Context, communityID, userID string, until time.Time, reason string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s", communityID, userID)
	ts := until.UTC().Format(time.RFC3339)
	return c.do(ctx, "timeout", http.MethodPatch, path, memberTimeout{CommunicationDisabledUntil: &ts}, reason)
}

// A punishment which is already gone (unknown ban, or member no longer present) counts as lifted.
func (c *RESTClient) LiftPunishment(ctx context.Context, communityID, userID, ptype string) error {
	var err error
	switch ptype {
	case "ban":
		path := fmt.Sprintf("/guilds/%s/bans/%s", communityID, userID)
		err = c.do(ctx, "unban", http.MethodDelete, path, nil, "temporary ban expired")
	case "mute":
		path := fmt.Sprintf("/guilds/%s/members/%s", communityID, userID)
		err = c.do(ctx, "unmute", http.MethodPatch, path, memberTimeout{}, "temporary mute expired")
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedPunishment, ptype)
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		c.Logger.Info("punishment already lifted", "community", communityID, "user", userID, "type", ptype)
		return nil
	}
	return err
}

func (c *RESTClient) ListTextChannels(ctx context.Context, communityID string) ([]Channel, error) {
	var all []Channel
	path := fmt.Sprintf("/guilds/%s/channels", communityID)
	if err := c.doInto(ctx, "list_channels", http.MethodGet, path, nil, "", &all); err != nil {
		return nil, err
	}
	var out []Channel
	for _, ch := range all {
		if ch.Type == ChannelTypeText {
			out = append(out, ch)
		}
	}
	return out, nil
}

// permission bit for sending messages
const permSendMessages = 1 << 11

type permissionOverwrite struct {
	// 0 for a role overwrite
	Type  int    `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// The @everyone role shares the community's ID.
func (c *RESTClient) SetChannelLocked(ctx context.Context, communityID, channelID string, locked bool, reason string) error {
	ow := permissionOverwrite{Allow: strconv.Itoa(permSendMessages), Deny: "0"}
	if locked {
		ow.Allow, ow.Deny = "0", strconv.Itoa(permSendMessages)
	}
	path := fmt.Sprintf("/channels/%s/permissions/%s", channelID, communityID)
	return c.do(ctx, "channel_lock", http.MethodPut, path, ow, reason)
}
