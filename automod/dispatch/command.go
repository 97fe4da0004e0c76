package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildwarden/warden/automod/authz"
)

// Applied when a command declares no cooldown of its own.
const DefaultCooldown = 3 * time.Second

type Handler func(ctx context.Context, inv *Invocation) error

type Option struct {
	Name        string
	Description string
	Required    bool
}

type Command struct {
	Name        string
	Description string
	// grouping for help output
	Category string
	// RoleNone means anybody may run the command
	Permission authz.Role
	// non-positive means DefaultCooldown
	Cooldown time.Duration
	Options  []Option
	Handler  Handler
}

func (c *Command) EffectiveCooldown() time.Duration {
	if c.Cooldown <= 0 {
		return DefaultCooldown
	}
	return c.Cooldown
}

// Operator override of a command's declared permission and cooldown. Nil fields leave the declaration alone.
type Override struct {
	Permission *authz.Role
	Cooldown   *time.Duration
}

// Parses "name=role", "name=role:cooldown" or "name=:cooldown", eg "ban=admin:10s".
func ParseOverride(s string) (string, Override, error) {
	var ov Override
	name, rest, ok := strings.Cut(s, "=")
	name = strings.ToLower(strings.TrimSpace(name))
	if !ok || name == "" {
		return "", ov, fmt.Errorf("invalid command override (expected name=role[:cooldown]): %q", s)
	}
	roleStr, cooldownStr, _ := strings.Cut(rest, ":")
	if roleStr = strings.TrimSpace(roleStr); roleStr != "" {
		var role authz.Role
		if roleStr == "public" || roleStr == "none" {
			role = authz.RoleNone
		} else {
			r, ok := authz.ParseRole(roleStr)
			if !ok {
				return "", ov, fmt.Errorf("invalid role in command override %q: %q", s, roleStr)
			}
			role = r
		}
		ov.Permission = &role
	}
	if cooldownStr = strings.TrimSpace(cooldownStr); cooldownStr != "" {
		d, err := time.ParseDuration(cooldownStr)
		if err != nil {
			return "", ov, fmt.Errorf("invalid cooldown in command override %q: %w", s, err)
		}
		ov.Cooldown = &d
	}
	if ov.Permission == nil && ov.Cooldown == nil {
		return "", ov, fmt.Errorf("empty command override: %q", s)
	}
	return name, ov, nil
}

type Registry struct {
	lk       sync.RWMutex
	commands map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
	}
}

func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("command must have a name and a handler")
	}
	name := strings.ToLower(cmd.Name)
	r.lk.Lock()
	defer r.lk.Unlock()
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("duplicate command: %s", name)
	}
	cmd.Name = name
	r.commands[name] = cmd
	return nil
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	r.lk.RLock()
	defer r.lk.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// All registered commands, sorted by name.
func (r *Registry) Commands() []*Command {
	r.lk.RLock()
	out := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	r.lk.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) ApplyOverride(name string, ov Override) error {
	r.lk.Lock()
	defer r.lk.Unlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("override for unknown command: %s", name)
	}
	if ov.Permission != nil {
		cmd.Permission = *ov.Permission
	}
	if ov.Cooldown != nil {
		cmd.Cooldown = *ov.Cooldown
	}
	return nil
}
