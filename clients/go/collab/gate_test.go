package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateRejectsStale(t *testing.T) {
	g := NewGate("me")

	assert.True(t, g.Accept(100, "peer"))
	assert.False(t, g.Accept(100, "peer"), "equal timestamp is stale")
	assert.False(t, g.Accept(99, "peer"))
	assert.True(t, g.Accept(101, "other"))
	assert.Equal(t, int64(101), g.Last())
}

func TestGateRejectsSelfOrigin(t *testing.T) {
	g := NewGate("me")

	assert.False(t, g.Accept(500, "me"))
	assert.Equal(t, int64(0), g.Last(), "rejected echo must not move the gate")
	assert.True(t, g.Accept(500, "peer"))
}

func TestGateZeroTimestamp(t *testing.T) {
	g := NewGate("me")
	fixed := time.UnixMilli(1_700_000_000_000)
	g.now = func() time.Time { return fixed }

	assert.True(t, g.Accept(0, "peer"))
	assert.Equal(t, fixed.UnixMilli(), g.Last())
	assert.False(t, g.Accept(0, "me"))
}

func TestGateObserveAndReset(t *testing.T) {
	g := NewGate("me")

	g.Observe(1000)
	assert.False(t, g.Accept(999, "peer"), "older remote must not overwrite a local emit")
	g.Observe(10)
	assert.Equal(t, int64(1000), g.Last(), "observe never lowers the gate")

	g.Reset()
	assert.Equal(t, int64(0), g.Last())
	assert.True(t, g.Accept(1, "peer"))
}

func TestGateConcurrent(t *testing.T) {
	g := NewGate("me")

	var wg sync.WaitGroup
	accepted := make(chan int64, 100)
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			if g.Accept(ts, "peer") {
				accepted <- ts
			}
		}(int64(i))
	}
	wg.Wait()
	close(accepted)

	require.NotEmpty(t, accepted)
	assert.Equal(t, int64(100), g.Last())
}
