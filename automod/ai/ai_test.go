package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeModel struct {
	out   string
	err   error
	calls int
	last  []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.last = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.out}},
	}, nil
}

func TestParseVerdict(t *testing.T) {
	assert := assert.New(t)

	v, err := ParseVerdict(`{"flagged": true, "reason": "slur", "severity": "high", "action": "ban"}`)
	assert.NoError(err)
	assert.Equal(Verdict{Flagged: true, Reason: "slur", Severity: SeverityHigh, Action: ActionBan}, v)
	assert.True(v.Enforceable())

	v, err = ParseVerdict("```json\n{\"flagged\": true, \"reason\": \"spam\", \"severity\": \"Medium\", \"action\": \"warn\"}\n```")
	assert.NoError(err)
	assert.Equal(SeverityMedium, v.Severity)
	assert.Equal(ActionWarn, v.Action)

	v, err = ParseVerdict(`{"flagged": false}`)
	assert.NoError(err)
	assert.Equal(NeutralVerdict(), v)

	for _, raw := range []string{
		"",
		"I cannot help with that",
		`{"flagged": "yes"}`,
		`{"flagged": true, "severity": "extreme", "action": "warn"}`,
		`{"flagged": true, "severity": "high", "action": "exile"}`,
	} {
		v, err = ParseVerdict(raw)
		assert.ErrorIs(err, ErrClassifierUnavailable, raw)
		assert.Equal(NeutralVerdict(), v, raw)
		assert.False(v.Enforceable())
	}

	assert.False(Verdict{Flagged: true, Severity: SeverityLow}.Enforceable())
	assert.False(Verdict{Flagged: false, Severity: SeverityHigh}.Enforceable())
}

func TestLLMClassifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m := &fakeModel{out: `{"flagged": true, "reason": "spam", "severity": "medium", "action": "none"}`}
	c := NewLLMClassifier(m, Config{})

	v, err := c.Classify(ctx, "buy now", "c1")
	assert.NoError(err)
	assert.True(v.Flagged)
	require.Len(t, m.last, 2)
	assert.Equal(schema.ChatMessageTypeSystem, m.last[0].Role)
	assert.Equal(llms.TextContent{Text: "buy now"}, m.last[1].Parts[0])

	m.err = errors.New("503 from upstream")
	v, err = c.Classify(ctx, "buy now", "c1")
	assert.ErrorIs(err, ErrClassifierUnavailable)
	assert.Equal(NeutralVerdict(), v)

	m.err = nil
	m.out = "sorry, no"
	v, err = c.Classify(ctx, "buy now", "c1")
	assert.ErrorIs(err, ErrClassifierUnavailable)
	assert.Equal(NeutralVerdict(), v)
}

func TestAssistant(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	st := store.NewMemStore(util.SystemClock{})
	m := &fakeModel{out: "  use a for loop  "}
	a := NewAssistant(m, st, Config{}, 2)

	req := ChatRequest{CommunityID: "c1", UserID: "u1", ChannelID: "ch1", Message: "how do I loop?"}
	out, err := a.Chat(ctx, req)
	assert.NoError(err)
	assert.Equal("use a for loop", out)

	logs := st.AIChatLogs()
	require.Len(t, logs, 1)
	assert.Equal("how do I loop?", logs[0].Message)
	assert.Equal("use a for loop", logs[0].Response)

	m.out = ""
	out, err = a.Chat(ctx, req)
	assert.NoError(err)
	assert.Equal(NoResponseMessage, out)

	// quota is per community
	_, err = a.Chat(ctx, req)
	assert.ErrorIs(err, ErrQuotaExceeded)
	req.CommunityID = "c2"
	_, err = a.Chat(ctx, req)
	assert.NoError(err)

	m.err = errors.New("timeout")
	_, err = a.Chat(ctx, req)
	assert.ErrorIs(err, ErrClassifierUnavailable)
	assert.Len(st.AIChatLogs(), 3)
}
