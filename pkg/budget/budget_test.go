package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUntil(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &deadline{at: now.Add(10 * time.Second), now: func() time.Time { return now }}
	assert.Equal(t, 10*time.Second, b.Remaining())

	now = now.Add(time.Minute)
	assert.Equal(t, time.Duration(0), b.Remaining())
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	left := FromContext(ctx, time.Hour).Remaining()
	assert.LessOrEqual(t, left, 2*time.Second)
	assert.Greater(t, left, time.Second)

	left = FromContext(context.Background(), time.Hour).Remaining()
	assert.Greater(t, left, 59*time.Minute)
}

func TestFunc(t *testing.T) {
	b := Func(func() time.Duration { return 3 * time.Second })
	assert.Equal(t, 3*time.Second, b.Remaining())
	assert.Greater(t, Unlimited.Remaining(), 24*time.Hour)
}
