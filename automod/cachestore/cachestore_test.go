package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCacheStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(10, time.Hour)

	v, err := cs.Get(ctx, "community-config", "c1")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(cs.Set(ctx, "community-config", "c1", `{"AutoModEnabled":true}`))
	v, err = cs.Get(ctx, "community-config", "c1")
	assert.NoError(err)
	assert.Equal(`{"AutoModEnabled":true}`, v)

	// names are separate namespaces
	v, _ = cs.Get(ctx, "other", "c1")
	assert.Equal("", v)

	assert.NoError(cs.Purge(ctx, "community-config", "c1"))
	assert.NoError(cs.Purge(ctx, "community-config", "c1"))
	v, _ = cs.Get(ctx, "community-config", "c1")
	assert.Equal("", v)
}
