package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCtxWithoutInjectionUsesConfiguredLogger(t *testing.T) {
	Init(Config{Level: "info", Format: "json"})

	// 消费者回调等路径的上下文没有经过WithContext注入，
	// Ctx也必须返回可用的记录器而不是丢弃输出的disabled logger
	l := Ctx(context.Background())
	require.NotNil(t, l)
	assert.NotEqual(t, zerolog.Disabled, l.GetLevel())
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestCtxPrefersInjectedLogger(t *testing.T) {
	Init(Config{Level: "info", Format: "json"})

	child := Logger.Level(zerolog.WarnLevel)
	ctx := child.WithContext(context.Background())
	assert.Equal(t, zerolog.WarnLevel, Ctx(ctx).GetLevel())
}
