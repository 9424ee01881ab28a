package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerSpacesTokensOnOneSlot(t *testing.T) {
	delay := 100 * time.Millisecond
	pacer := NewPacer(delay, 1)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, pacer.Wait(ctx, i))
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), delay-5*time.Millisecond)
	}
}

func TestPacerSlotsAreIndependent(t *testing.T) {
	pacer := NewPacer(time.Hour, 3)
	ctx := context.Background()

	start := time.Now()
	for worker := 0; worker < 3; worker++ {
		require.NoError(t, pacer.Wait(ctx, worker))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pacer.Wait(cancelled, 0), "slot 0 has no token for an hour")
}

func TestPacerWithoutDelayNeverBlocks(t *testing.T) {
	pacer := NewPacer(0, 2)
	for i := 0; i < 100; i++ {
		require.NoError(t, pacer.Wait(context.Background(), i))
	}
	assert.Equal(t, 2, pacer.Slots())
}
