package postgres

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/config"
)

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(config.RedisConfig{
		URL:        "redis://" + mr.Addr(),
		MaxRetries: 1,
		PoolSize:   4,
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
	assert.Equal(t, 4, client.Options().PoolSize)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(config.RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisClient(config.RedisConfig{URL: "redis://" + addr})
	assert.Error(t, err)
}
