package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAllowReply(t *testing.T) {
	cfg := Config{Max: 20}

	res, err := parseAllowReply([]interface{}{int64(1), int64(59000)}, cfg)
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 19, res.Remaining)

	res, err = parseAllowReply([]interface{}{int64(21), int64(100)}, cfg)
	assert.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestParseAllowReplyMalformed(t *testing.T) {
	cfg := Config{Max: 20}

	for _, reply := range []interface{}{
		nil,
		"OK",
		[]interface{}{int64(1)},
		[]interface{}{int64(1), int64(2), int64(3)},
		[]interface{}{"1", int64(2)},
		[]interface{}{int64(1), "2"},
	} {
		assert.NotPanics(t, func() {
			_, err := parseAllowReply(reply, cfg)
			assert.Error(t, err, "reply %v", reply)
		})
	}
}
