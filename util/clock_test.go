package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	assert := assert.New(t)

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(t0)
	assert.Equal(t0, c.Now())
	assert.Equal(t0.Add(2*time.Second), c.Advance(2*time.Second))
	assert.Equal(t0.Add(2*time.Second), c.Now())

	c.Set(t0)
	assert.Equal(t0, c.Now())
}
