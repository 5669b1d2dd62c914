package transcribe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayDeliversOnlyWhileListening(t *testing.T) {
	var starts, stops int
	r := NewRelay(WithRelayHooks(
		func(ctx context.Context) error { starts++; return nil },
		func() error { stops++; return nil },
	))

	assert.ErrorIs(t, r.StartListening(context.Background()), ErrNotInitialized)
	require.NoError(t, r.Initialize(context.Background()))

	assert.False(t, r.Push("too early"))
	require.NoError(t, r.StartListening(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))
	assert.Equal(t, 1, starts)

	assert.False(t, r.Push("   "))
	assert.True(t, r.Push(" turn on the lights "))
	u := <-r.Utterances()
	assert.Equal(t, "turn on the lights", u.Text)
	assert.False(t, u.ID.IsZero())

	require.NoError(t, r.StopListening())
	require.NoError(t, r.StopListening())
	assert.Equal(t, 1, stops)
	assert.False(t, r.Push("after stop"))
}

func TestRelayStartFailure(t *testing.T) {
	boom := errors.New("no microphone")
	r := NewRelay(WithRelayHooks(func(ctx context.Context) error { return boom }, nil))
	require.NoError(t, r.Initialize(context.Background()))

	assert.ErrorIs(t, r.StartListening(context.Background()), boom)
	assert.False(t, r.Push("hello"))
}

func TestRelayDropsWhenFull(t *testing.T) {
	r := NewRelay()
	require.NoError(t, r.Initialize(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))

	for i := range cap(r.out) {
		require.True(t, r.Push("x"), "push %d", i)
	}
	assert.False(t, r.Push("overflow"))
}
