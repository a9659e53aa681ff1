package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RunScript(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.LoadScriptFromContent("incr_by", `return redis.call('incrby', KEYS[1], ARGV[1])`))

	ctx := context.Background()
	res, err := c.RunScript(ctx, "incr_by", []string{"counter"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res)

	// 服务端脚本缓存被清空后仍能执行
	mr.FlushAll()
	require.NoError(t, c.GetClient().ScriptFlush(ctx).Err())
	res, err = c.RunScript(ctx, "incr_by", []string{"counter"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res)
}

func TestClient_UnknownScript(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RunScript(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestNewClient_RequiresAddress(t *testing.T) {
	_, err := NewClient(" , ")
	assert.Error(t, err)
}
