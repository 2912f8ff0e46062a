package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedAllowEnforcesLimit(t *testing.T) {
	k := NewKeyed(2, time.Hour)

	assert.True(t, k.Allow("user-1"))
	assert.True(t, k.Allow("user-1"))
	assert.False(t, k.Allow("user-1"), "third operation in the window must be denied")
}

func TestKeyedKeysAreIndependent(t *testing.T) {
	k := NewKeyed(1, time.Hour)

	assert.True(t, k.Allow("user-1"))
	assert.False(t, k.Allow("user-1"))
	assert.True(t, k.Allow("user-2"), "one user's burst must not starve another")
}

func TestKeyedWaitRespectsContext(t *testing.T) {
	k := NewKeyed(1, time.Hour)
	require.NoError(t, k.Wait(context.Background(), "user-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := k.Wait(ctx, "user-1")
	assert.Error(t, err, "an exhausted key must not block past the context deadline")
}

func TestKeyedMinimumLimit(t *testing.T) {
	k := NewKeyed(0, time.Minute)
	assert.True(t, k.Allow("user-1"), "a zero limit is clamped to one")
}
