package kernels

import (
	"testing"

	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nameSink []string

func (ns *nameSink) PushBuffer(name string, _ kernel.Direction) error {
	*ns = append(*ns, name)
	return nil
}

func (ns *nameSink) PushScalar(name string) error {
	*ns = append(*ns, name)
	return nil
}

func newContext() *kernel.Context {
	return &kernel.Context{
		Inputs:      kernel.HostBuffers{},
		OutputSizes: map[string]int{},
		Scalars:     kernel.ScalarValues{},
		Definitions: kernel.NewDefinitions(),
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	for _, key := range []string{"array_copy", "vector_add", "saxpy"} {
		d, err := kernel.Default.Lookup(key)
		require.NoError(t, err, key)
		assert.Equal(t, key, d.Key())

		sp, ok := d.(kernel.SourceProvider)
		require.True(t, ok, key)
		for _, suffix := range []string{"cu", "cl"} {
			src, found := sp.Source(suffix)
			assert.True(t, found, "%s.%s", key, suffix)
			assert.Contains(t, src, d.EntryPoint())
		}
		_, found := sp.Source("metal")
		assert.False(t, found)
	}
}

func TestArrayCopy(t *testing.T) {
	d := NewArrayCopy()
	ctx := newContext()
	ctx.Inputs["A"] = make([]byte, 16)
	v, err := kernel.Scalars(d.Parameters())[0].ParseValue("4")
	require.NoError(t, err)
	ctx.Scalars["n"] = v

	size, err := d.OutputSize("B", ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, size)

	var order nameSink
	require.NoError(t, d.Marshal(&order, ctx))
	assert.Equal(t, nameSink{"A", "B", "n"}, order)

	assert.True(t, d.IsInputValid(ctx))
	ctx.Scalars["n"] = int32(5)
	assert.False(t, d.IsInputValid(ctx), "n exceeds the elements of A")
	ctx.Scalars["n"] = int32(4)

	lc, err := d.DeduceLaunchConfig(ctx)
	require.NoError(t, err)
	cfg, err := launch.Resolve(launch.Components{}, func(launch.Components) (launch.Components, error) { return lc, nil })
	require.NoError(t, err)
	assert.Equal(t, launch.Dims{256, 1, 1}, cfg.Block)
	assert.Equal(t, launch.Dims{1, 1, 1}, cfg.Grid)
	assert.False(t, cfg.FullBlocks)
}

func TestVectorAdd(t *testing.T) {
	d := NewVectorAdd()
	ctx := newContext()
	ctx.Inputs["a"] = make([]byte, 4096)
	ctx.Inputs["b"] = make([]byte, 4096)
	ctx.Definitions.Valued["BLOCK_SIZE"] = "128"

	assert.True(t, d.IsInputValid(ctx))
	assert.Empty(t, kernel.RequiredScalars(d))

	extra, err := d.AdditionalScalars(ctx)
	require.NoError(t, err)
	assert.Equal(t, kernel.ScalarValues{"length": uint32(1024)}, extra)
	ctx.Scalars["length"] = extra["length"]

	lc, err := d.DeduceLaunchConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, launch.Dims{128, 1, 1}, *lc.Block)
	assert.Equal(t, launch.Dims{1024, 1, 1}, *lc.Overall)

	ctx.Inputs["b"] = make([]byte, 16)
	assert.False(t, d.IsInputValid(ctx))
}

func TestSaxpy(t *testing.T) {
	d := NewSaxpy()
	ctx := newContext()
	ctx.Inputs["x"] = make([]byte, 40)
	ctx.Inputs["y"] = make([]byte, 40)

	assert.Equal(t, []string{"BLOCK_SIZE"}, kernel.RequiredDefinitions(d))
	assert.Equal(t, []string{"a"}, kernel.RequiredScalars(d))
	assert.Equal(t, []string{"y"}, kernel.BufferNames(d.Parameters(), kernel.DirectionInOut))

	size, err := d.OutputSize("y", ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, size)

	extra, err := d.AdditionalScalars(ctx)
	require.NoError(t, err)
	ctx.Scalars["length"] = extra["length"]
	ctx.Definitions.Valued["BLOCK_SIZE"] = "bogus"
	_, err = d.DeduceLaunchConfig(ctx)
	assert.Error(t, err)

	ctx.Definitions.Valued["BLOCK_SIZE"] = "8"
	lc, err := d.DeduceLaunchConfig(ctx)
	require.NoError(t, err)
	cfg, err := launch.Resolve(launch.Components{}, func(launch.Components) (launch.Components, error) { return lc, nil })
	require.NoError(t, err)
	assert.Equal(t, launch.Dims{2, 1, 1}, cfg.Grid)

	ctx.Inputs["y"] = make([]byte, 36)
	assert.False(t, d.IsInputValid(ctx))
}
