// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedis_SetGet(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "http://img/channelLogo/1.jpg", []byte{0xff, 0xd8, 0x00}, time.Hour)
	assert.True(t, mr.Exists(KeyPrefix+"http://img/channelLogo/1.jpg"))

	got, ok := c.Get(ctx, "http://img/channelLogo/1.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8, 0x00}, got)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Sets)
	assert.Equal(t, int64(1), st.Hits)
}

func TestRedis_Miss(t *testing.T) {
	_, c := setupMiniRedis(t)

	got, ok := c.Get(context.Background(), "nonexistent")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestRedis_Expiry(t *testing.T) {
	mr, c := setupMiniRedis(t)
	ctx := context.Background()

	c.Set(ctx, "cover", []byte("jpeg"), time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "cover")
	assert.False(t, ok)
}

func TestRedis_ServerDown(t *testing.T) {
	mr, c := setupMiniRedis(t)
	mr.Close()

	c.Set(context.Background(), "k", []byte("v"), time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().Sets)
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
