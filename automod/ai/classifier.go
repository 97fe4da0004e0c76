// Text classification and chat completion against an OpenAI-compatible LLM endpoint.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// Returned (wrapped) when the model errors or returns unusable output.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

const moderationPrompt = `You are a content moderation AI. Analyze the following message for:
- Inappropriate content
- Spam
- Toxicity
- Rule violations

Respond with only a JSON object containing:
{
  "flagged": boolean,
  "reason": "string explaining why it was flagged",
  "severity": "low|medium|high",
  "action": "none|warn|mute|kick|ban"
}`

type Classifier interface {
	Classify(ctx context.Context, content, communityID string) (Verdict, error)
}

// The subset of llms.Model used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type Config struct {
	BaseURL string
	Token   string
	Model   string
	// outbound requests per second, shared by classification and chat
	RateLimit float64
	Timeout   time.Duration
}

func NewModel(cfg Config) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return llm, nil
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type LLMClassifier struct {
	Model   ContentGenerator
	Limiter *rate.Limiter
	Timeout time.Duration
	Logger  *slog.Logger
}

var _ Classifier = (*LLMClassifier)(nil)

func NewLLMClassifier(model ContentGenerator, cfg Config) *LLMClassifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMClassifier{
		Model:   model,
		Limiter: newLimiter(cfg.RateLimit),
		Timeout: timeout,
		Logger:  slog.Default().With("system", "classifier"),
	}
}

func textMessage(role schema.ChatMessageType, text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  role,
		Parts: []llms.ContentPart{llms.TextContent{Text: text}},
	}
}

func firstChoice(resp *llms.ContentResponse) (string, bool) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", false
	}
	return resp.Choices[0].Content, true
}

// Always returns a usable verdict. On error it is the neutral verdict.
func (c *LLMClassifier) Classify(ctx context.Context, content, communityID string) (Verdict, error) {
	start := time.Now()
	defer func() {
		classifyDuration.Observe(time.Since(start).Seconds())
	}()

	if err := c.Limiter.Wait(ctx); err != nil {
		return NeutralVerdict(), fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	resp, err := c.Model.GenerateContent(ctx, []llms.MessageContent{
		textMessage(schema.ChatMessageTypeSystem, moderationPrompt),
		textMessage(schema.ChatMessageTypeHuman, content),
	}, llms.WithMaxTokens(200), llms.WithTemperature(0.1))
	if err != nil {
		classifyResults.WithLabelValues("error").Inc()
		return NeutralVerdict(), fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	out, ok := firstChoice(resp)
	if !ok {
		classifyResults.WithLabelValues("empty").Inc()
		return NeutralVerdict(), fmt.Errorf("%w: empty response", ErrClassifierUnavailable)
	}
	v, err := ParseVerdict(out)
	if err != nil {
		classifyResults.WithLabelValues("malformed").Inc()
		c.Logger.Warn("malformed classifier output", "community", communityID, "err", err)
		return v, err
	}
	if v.Flagged {
		classifyResults.WithLabelValues("flagged").Inc()
	} else {
		classifyResults.WithLabelValues("clean").Inc()
	}
	return v, nil
}
