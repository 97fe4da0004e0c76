package punish

import (
	"context"
	"fmt"
	"os"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/redis/go-redis/v9"
)

// Claim on running the sweep, held for at most one sweep.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

const DefaultLeaseKey = "warden/punish/sweep-lease"

// Redis lease (SET NX with a TTL). The TTL bounds how long a crashed holder blocks other instances.
//
// This avoids concurrent sweeps in the common case; it is not leader election, and a sweep which outlives the TTL may overlap with another instance.
type RedisLease struct {
	Client *redis.Client
	Key    string
	Holder string
	TTL    time.Duration
}

var _ Lease = (*RedisLease)(nil)

// Returns a random, human-readable identifier for this process, eg "wise-koala-1234".
func DefaultHolder() string {
	return fmt.Sprintf("%s-%d", petname.Generate(2, "-"), os.Getpid())
}

func NewRedisLease(rdb *redis.Client, holder string, ttl time.Duration) *RedisLease {
	if holder == "" {
		holder = DefaultHolder()
	}
	return &RedisLease{
		Client: rdb,
		Key:    DefaultLeaseKey,
		Holder: holder,
		TTL:    ttl,
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.Client.SetNX(ctx, l.Key, l.Holder, l.TTL).Result()
}

// only deletes the key if we still hold it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.Client, []string{l.Key}, l.Holder).Err()
}
