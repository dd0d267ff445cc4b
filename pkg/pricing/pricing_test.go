package pricing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	version     string
	multipliers map[string]float64
	err         error
}

func (f *fakeSource) ActivePricing(ctx context.Context) (string, map[string]float64, error) {
	return f.version, f.multipliers, f.err
}

func TestMultiplierUnknownAlias(t *testing.T) {
	c := NewStaticCache("v1", map[string]float64{"fast": 2.0})

	assert.Equal(t, 2.0, c.Multiplier("fast"))
	assert.Equal(t, 1.0, c.Multiplier("never-heard-of-it"))
}

func TestReloadSwapsSnapshot(t *testing.T) {
	src := &fakeSource{version: "v1", multipliers: map[string]float64{"fast": 2.0}}
	c := NewCache(src)

	assert.Equal(t, 1.0, c.Multiplier("fast"), "empty cache defaults to 1.0")

	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, 2.0, c.Multiplier("fast"))

	src.version = "v2"
	src.multipliers = map[string]float64{"fast": 3.0}
	require.NoError(t, c.Reload(context.Background()))
	assert.Equal(t, "v2", c.Version())
	assert.Equal(t, 3.0, c.Multiplier("fast"))
}

func TestReloadFailureKeepsPrevious(t *testing.T) {
	src := &fakeSource{version: "v1", multipliers: map[string]float64{"fast": 2.0}}
	c := NewCache(src)
	require.NoError(t, c.Reload(context.Background()))

	src.err = fmt.Errorf("store down")
	require.Error(t, c.Reload(context.Background()))
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, 2.0, c.Multiplier("fast"))
}

func TestReloadCopiesSourceMap(t *testing.T) {
	mult := map[string]float64{"fast": 2.0}
	src := &fakeSource{version: "v1", multipliers: mult}
	c := NewCache(src)
	require.NoError(t, c.Reload(context.Background()))

	mult["fast"] = 99.0
	assert.Equal(t, 2.0, c.Multiplier("fast"), "snapshot must not alias the source map")
}
