package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancePricingPerHour(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// 3600/小时折算为 1/秒
	rate, err := e.registry.Price(ctx, &Resource{
		ResourceType: "instance",
		Properties:   map[string]interface{}{"flavor": "one"},
	})
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("1")), "rate = %s", rate)

	rate, err = e.registry.Price(ctx, &Resource{
		ResourceType: "instance",
		Properties:   map[string]interface{}{"flavor": "five"},
	})
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("5")))
}

func TestInstancePricingUnknownFlavor(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.registry.Price(context.Background(), &Resource{
		ResourceType: "instance",
		Properties:   map[string]interface{}{"flavor": "huge"},
	})
	assert.Error(t, err)

	_, err = e.registry.Price(context.Background(), &Resource{
		ResourceType: "instance",
		Properties:   map[string]interface{}{},
	})
	assert.Error(t, err)
}

func TestVolumePricingSteps(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rate, err := e.registry.Price(ctx, &Resource{
		ResourceType: "volume",
		Properties:   map[string]interface{}{"size": float64(50)},
	})
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("0.01")))

	// 区间左闭右开，100 落入第二档
	rate, err = e.registry.Price(ctx, &Resource{
		ResourceType: "volume",
		Properties:   map[string]interface{}{"size": float64(100)},
	})
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("0.02")))

	// 第二档无上界
	rate, err = e.registry.Price(ctx, &Resource{
		ResourceType: "volume",
		Properties:   map[string]interface{}{"size": float64(100000)},
	})
	require.NoError(t, err)
	assert.True(t, rate.Equal(dec("0.02")))
}

func TestPricingUnknownResourceType(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.registry.Price(context.Background(), &Resource{
		ResourceType: "snapshot",
		Properties:   map[string]interface{}{},
	})
	assert.Error(t, err)
}
