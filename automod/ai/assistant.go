package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/guildwarden/warden/store"

	"github.com/RussellLuo/slidingwindow"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

var ErrQuotaExceeded = errors.New("assistant quota exceeded")

const (
	NoResponseMessage    = "I couldn't generate a response."
	UnavailableMessage   = "Sorry, I'm having trouble processing your request right now."
	QuotaExceededMessage = "The assistant is busy in this server right now. Try again later."
)

const assistantPrompt = `You are a helpful AI assistant for a community chat server.
You can help with:
- Programming and scripting questions
- General server questions
- Moderation assistance

Keep responses helpful, concise, and appropriate for the community.`

type ChatRequest struct {
	CommunityID string
	UserID      string
	ChannelID   string
	Message     string
	// optional extra system context
	Context string
}

// Chat-completion assistant with a per-community hourly quota. Conversations are logged to the store.
type Assistant struct {
	Model   ContentGenerator
	Store   store.Store
	Limiter *rate.Limiter
	Timeout time.Duration
	Logger  *slog.Logger

	// per community, per hour
	QuotaPerHour int64

	quotaLk sync.Mutex
	quotas  map[string]*slidingwindow.Limiter
}

func NewAssistant(model ContentGenerator, st store.Store, cfg Config, quotaPerHour int64) *Assistant {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Assistant{
		Model:        model,
		Store:        st,
		Limiter:      newLimiter(cfg.RateLimit),
		Timeout:      timeout,
		Logger:       slog.Default().With("system", "assistant"),
		QuotaPerHour: quotaPerHour,
		quotas:       make(map[string]*slidingwindow.Limiter),
	}
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

func (a *Assistant) allow(communityID string) bool {
	if a.QuotaPerHour <= 0 {
		return true
	}
	a.quotaLk.Lock()
	lim, ok := a.quotas[communityID]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(time.Hour, a.QuotaPerHour, windowFunc)
		a.quotas[communityID] = lim
	}
	a.quotaLk.Unlock()
	return lim.Allow()
}

// Returns the model's response. Errors are ErrQuotaExceeded or a wrapped ErrClassifierUnavailable; callers should reply with a fixed message rather than the error.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !a.allow(req.CommunityID) {
		chatResults.WithLabelValues("quota").Inc()
		return "", ErrQuotaExceeded
	}

	if err := a.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	system := assistantPrompt
	if req.Context != "" {
		system += "\nAdditional context: " + req.Context
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	resp, err := a.Model.GenerateContent(ctx, []llms.MessageContent{
		textMessage(schema.ChatMessageTypeSystem, system),
		textMessage(schema.ChatMessageTypeHuman, req.Message),
	}, llms.WithMaxTokens(500), llms.WithTemperature(0.7))
	if err != nil {
		chatResults.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}
	out, _ := firstChoice(resp)
	out = strings.TrimSpace(out)
	if out == "" {
		out = NoResponseMessage
	}
	chatResults.WithLabelValues("ok").Inc()

	// logging is best-effort; the user still gets the response
	if a.Store != nil {
		_, err := a.Store.AddAIChatLog(context.WithoutCancel(ctx), store.AIChatLog{
			CommunityID: req.CommunityID,
			UserID:      req.UserID,
			ChannelID:   req.ChannelID,
			Message:     req.Message,
			Response:    out,
		})
		if err != nil {
			a.Logger.Error("failed to log assistant chat", "community", req.CommunityID, "user", req.UserID, "err", err)
		}
	}
	return out, nil
}
