package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottleLeadingEdge(t *testing.T) {
	th := NewThrottle(60 * time.Millisecond)
	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow(), "first move goes through")

	now = now.Add(30 * time.Millisecond)
	assert.False(t, th.Allow())
	now = now.Add(29 * time.Millisecond)
	assert.False(t, th.Allow())

	now = now.Add(time.Millisecond)
	assert.True(t, th.Allow(), "interval elapsed")
	assert.False(t, th.Allow())
}
