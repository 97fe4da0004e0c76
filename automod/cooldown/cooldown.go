// Per-command, per-user rate limiting for interactive commands.
package cooldown

import (
	"context"
	"log/slog"
	"time"

	"github.com/guildwarden/warden/util"

	"github.com/puzpuzpuz/xsync/v3"
)

type key struct {
	Command string
	User    string
}

type Result struct {
	Allowed bool
	// only set when the attempt was blocked
	Remaining time.Duration
}

// Ledger of cooldown expiry times. Check-and-stamp is atomic per (command, user).
type Ledger struct {
	Clock  util.Clock
	Logger *slog.Logger

	entries *xsync.MapOf[key, time.Time]
}

func NewLedger(clock util.Clock, logger *slog.Logger) *Ledger {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		Clock:   clock,
		Logger:  logger.With("system", "cooldown"),
		entries: xsync.NewMapOf[key, time.Time](),
	}
}

// If there is no unexpired entry for the key, records now+d and allows. Otherwise reports the remaining time and leaves the entry untouched.
func (l *Ledger) CheckAndStamp(command, user string, now time.Time, d time.Duration) Result {
	var res Result
	l.entries.Compute(key{Command: command, User: user}, func(expiry time.Time, loaded bool) (time.Time, bool) {
		if loaded && expiry.After(now) {
			res = Result{Allowed: false, Remaining: expiry.Sub(now)}
			return expiry, false
		}
		res = Result{Allowed: true}
		return now.Add(d), false
	})
	return res
}

// Like CheckAndStamp, using the ledger's clock.
func (l *Ledger) Check(command, user string, d time.Duration) Result {
	return l.CheckAndStamp(command, user, l.Clock.Now(), d)
}

// Removes entries which have expired as of now. Returns the number removed.
func (l *Ledger) Sweep(now time.Time) int {
	removed := 0
	l.entries.Range(func(k key, expiry time.Time) bool {
		if expiry.After(now) {
			return true
		}
		// re-checked under the per-key lock, so a concurrent fresh stamp is kept
		l.entries.Compute(k, func(cur time.Time, loaded bool) (time.Time, bool) {
			if !loaded {
				return cur, true
			}
			if cur.After(now) {
				return cur, false
			}
			removed++
			return cur, true
		})
		return true
	})
	return removed
}

func (l *Ledger) Size() int {
	return l.entries.Size()
}

// Periodically sweeps expired entries until ctx is done.
func (l *Ledger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(l.Clock.Now()); n > 0 {
				l.Logger.Debug("swept expired cooldowns", "count", n)
			}
		}
	}
}
