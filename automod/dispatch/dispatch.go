// Routes command interactions to handlers, gated by permission and per-user cooldown.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/cooldown"
	"github.com/guildwarden/warden/platform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Wraps any error or panic coming out of a command handler.
var ErrHandlerFault = errors.New("command handler fault")

const (
	DenyPermissionMessage = "❌ You don't have permission to use this command!"
	GenericFailureMessage = "There was an error executing this command!"
	cooldownMessageFmt    = "⏰ Please wait %.1f seconds before using this command again."
)

func CooldownMessage(remaining time.Duration) string {
	return fmt.Sprintf(cooldownMessageFmt, remaining.Seconds())
}

type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeDenied
	OutcomeCooldown
	OutcomeCompleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDenied:
		return "denied"
	case OutcomeCooldown:
		return "cooldown"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Dispatcher struct {
	Registry  *Registry
	Authz     *authz.Resolver
	Cooldowns *cooldown.Ledger
	Services  *Services
	Logger    *slog.Logger
}

func NewDispatcher(reg *Registry, resolver *authz.Resolver, ledger *cooldown.Ledger, svc *Services) *Dispatcher {
	if svc.Registry == nil {
		svc.Registry = reg
	}
	return &Dispatcher{
		Registry:  reg,
		Authz:     resolver,
		Cooldowns: ledger,
		Services:  svc,
		Logger:    slog.Default().With("system", "dispatch"),
	}
}

// Runs one interaction through authorization, cooldown and the handler. Never returns an error: every failure is logged, counted and answered with a fixed message.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *platform.Interaction) Outcome {
	cmd, ok := d.Registry.Lookup(evt.Command)
	if !ok {
		commandOutcomes.WithLabelValues("_unknown", OutcomeUnknown.String()).Inc()
		d.Logger.Debug("ignoring unknown command", "command", evt.Command, "user", evt.User.ID)
		return OutcomeUnknown
	}

	ctx, span := otel.Tracer("dispatch").Start(ctx, "Dispatch", trace.WithAttributes(
		attribute.String("command", cmd.Name),
		attribute.String("community", evt.CommunityID),
	))
	defer span.End()

	logger := d.Logger.With("command", cmd.Name, "user", evt.User.ID, "community", evt.CommunityID)
	inv := &Invocation{
		Event:    evt,
		Command:  cmd,
		Logger:   logger,
		Services: d.Services,
	}

	outcome := d.run(ctx, logger, inv)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "command failed")
	}
	commandOutcomes.WithLabelValues(cmd.Name, outcome.String()).Inc()
	return outcome
}

func (d *Dispatcher) run(ctx context.Context, logger *slog.Logger, inv *Invocation) Outcome {
	cmd := inv.Command
	evt := inv.Event

	if cmd.Permission != authz.RoleNone && !d.Authz.Check(ctx, evt.User.ID, evt.CommunityID, cmd.Permission) {
		logger.Info("command denied", "required", cmd.Permission.String())
		d.respond(ctx, logger, inv, "denied", DenyPermissionMessage)
		return OutcomeDenied
	}

	res := d.Cooldowns.Check(cmd.Name, evt.User.ID, cmd.EffectiveCooldown())
	if !res.Allowed {
		logger.Debug("command on cooldown", "remaining", res.Remaining.String())
		d.respond(ctx, logger, inv, "cooldown", CooldownMessage(res.Remaining))
		return OutcomeCooldown
	}

	start := time.Now()
	err := d.execute(ctx, inv)
	commandDuration.WithLabelValues(cmd.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("command failed", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
		d.respond(ctx, logger, inv, "failed", GenericFailureMessage)
		return OutcomeFailed
	}
	return OutcomeCompleted
}

func (d *Dispatcher) execute(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			inv.Logger.Error("command handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFault, r)
		}
	}()
	if err := inv.Command.Handler(ctx, inv); err != nil {
		return fmt.Errorf("%w: %w", ErrHandlerFault, err)
	}
	return nil
}

func (d *Dispatcher) respond(ctx context.Context, logger *slog.Logger, inv *Invocation, kind, content string) {
	if err := inv.Reply(ctx, content, true); err != nil {
		replyFailures.WithLabelValues(kind).Inc()
		logger.Warn("failed to send dispatcher reply", "kind", kind, "err", err)
	}
}
