package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/util"
)

// Summary of an enforced automated moderation action, for human reviewers.
type ActionReport struct {
	CommunityID string
	ChannelID   string
	MessageID   string
	UserID      string
	Verdict     ai.Verdict
	// hash of the removed content; the content itself is not forwarded
	ContentHash    string
	SuggestedFlags []string
}

// Interface for a type that can handle sending notifications
type Notifier interface {
	SendAction(ctx context.Context, report *ActionReport) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

var _ Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(url string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: url,
		Client:          util.RobustHTTPClient(),
	}
}

func (n *SlackNotifier) SendAction(ctx context.Context, report *ActionReport) error {
	return n.sendSlackMsg(ctx, slackBody("⚠️ Automod Action ⚠️\n", report))
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(header string, r *ActionReport) string {
	msg := header
	msg += fmt.Sprintf("community `%s` / channel `%s` / user `%s`\n", r.CommunityID, r.ChannelID, r.UserID)
	msg += fmt.Sprintf("Message `%s` removed (content hash `%s`)\n", r.MessageID, r.ContentHash)
	msg += fmt.Sprintf("Severity: `%s` / Reason: %s\n", r.Verdict.Severity, r.Verdict.Reason)
	if r.Verdict.Action != "" && r.Verdict.Action != ai.ActionNone {
		msg += fmt.Sprintf("Classifier action: `%s`\n", r.Verdict.Action)
	}
	if len(r.SuggestedFlags) > 0 {
		msg += fmt.Sprintf("Flags (needs human review): `%s`\n", strings.Join(r.SuggestedFlags, ", "))
	}
	return msg
}
