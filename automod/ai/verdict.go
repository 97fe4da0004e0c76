package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	ActionNone = "none"
	ActionWarn = "warn"
	ActionMute = "mute"
	ActionKick = "kick"
	ActionBan  = "ban"
)

// Classifier judgment of a single message.
type Verdict struct {
	Flagged  bool   `json:"flagged"`
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

// Substituted whenever the classifier fails or returns something unusable.
func NeutralVerdict() Verdict {
	return Verdict{
		Flagged:  false,
		Reason:   "",
		Severity: SeverityLow,
		Action:   ActionNone,
	}
}

// Whether the verdict warrants enforcement (deleting the message).
func (v Verdict) Enforceable() bool {
	return v.Flagged && v.Severity != SeverityLow
}

func validSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

func validAction(s string) bool {
	switch s {
	case ActionNone, ActionWarn, ActionMute, ActionKick, ActionBan:
		return true
	}
	return false
}

// extracts the outermost JSON object, ignoring markdown fences or chatter around it
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

// Parses model output into a verdict. Missing severity and action default to "low" and "none". Any other non-conforming output returns the neutral verdict and a wrapped ErrClassifierUnavailable.
func ParseVerdict(raw string) (Verdict, error) {
	obj := extractObject(raw)
	if obj == "" {
		return NeutralVerdict(), fmt.Errorf("%w: no JSON object in classifier output", ErrClassifierUnavailable)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return NeutralVerdict(), fmt.Errorf("%w: parsing classifier output: %w", ErrClassifierUnavailable, err)
	}
	v.Severity = strings.ToLower(strings.TrimSpace(v.Severity))
	v.Action = strings.ToLower(strings.TrimSpace(v.Action))
	if v.Severity == "" {
		v.Severity = SeverityLow
	}
	if v.Action == "" {
		v.Action = ActionNone
	}
	if !validSeverity(v.Severity) {
		return NeutralVerdict(), fmt.Errorf("%w: unknown severity %q", ErrClassifierUnavailable, v.Severity)
	}
	if !validAction(v.Action) {
		return NeutralVerdict(), fmt.Errorf("%w: unknown action %q", ErrClassifierUnavailable, v.Action)
	}
	v.Reason = strings.TrimSpace(v.Reason)
	return v, nil
}
