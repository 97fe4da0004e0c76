package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupeStrings(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"a", "b"}, DedupeStrings([]string{"a", "b", "a", "b"}))
	assert.Nil(DedupeStrings(nil))
}

func TestHashOfString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(HashOfString("spam"), HashOfString("spam"))
	assert.NotEqual(HashOfString("spam"), HashOfString("ham"))
	assert.Len(HashOfString(""), 16)
}

func TestParseUserRef(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		s  string
		id string
		ok bool
	}{
		{s: "123456", id: "123456", ok: true},
		{s: "<@123456>", id: "123456", ok: true},
		{s: "<@!123456>", id: "123456", ok: true},
		{s: " 42 ", id: "42", ok: true},
		{s: "", ok: false},
		{s: "@everyone", ok: false},
		{s: "<#123>", ok: false},
	}
	for _, fix := range fixtures {
		id, ok := ParseUserRef(fix.s)
		assert.Equal(fix.ok, ok, fix.s)
		assert.Equal(fix.id, id, fix.s)
	}
}

func TestParseDuration(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		s string
		d time.Duration
	}{
		{s: "90s", d: 90 * time.Second},
		{s: "10m", d: 10 * time.Minute},
		{s: "1h30m", d: 90 * time.Minute},
		{s: "7d", d: 7 * 24 * time.Hour},
		{s: "15", d: 15 * time.Minute},
	}
	for _, fix := range fixtures {
		d, err := ParseDuration(fix.s)
		assert.NoError(err, fix.s)
		assert.Equal(fix.d, d, fix.s)
	}

	for _, bad := range []string{"", "soon", "xd", "1y"} {
		_, err := ParseDuration(bad)
		assert.Error(err, bad)
	}
}

func TestFormatDuration(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("45s", FormatDuration(45*time.Second))
	assert.Equal("1h 30m", FormatDuration(90*time.Minute))
	assert.Equal("1d 2h", FormatDuration(26*time.Hour+5*time.Minute))
	assert.Equal("0s", FormatDuration(0))
}
