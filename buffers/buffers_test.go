package buffers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/backend/backendtest"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDriver(t *testing.T) *backendtest.Driver {
	t.Helper()
	d := backendtest.New(backend.CUDA)
	require.NoError(t, d.Open(0, 0))
	return d
}

func TestManager_ArrayCopy(t *testing.T) {
	drv := openDriver(t)
	desc := kernels.NewArrayCopy()
	ctx := &kernel.Context{
		Inputs:      kernel.HostBuffers{"A": []byte("0123456789abcdef")},
		Scalars:     kernel.ScalarValues{"n": int32(4)},
		Definitions: kernel.NewDefinitions(),
	}
	require.NoError(t, SizeOutputs(desc, ctx))
	assert.Equal(t, map[string]int{"B": 16}, ctx.OutputSizes)

	m := NewManager(drv, nil)
	require.NoError(t, m.Prepare(desc, ctx))
	require.Contains(t, m.Inputs, "A")
	require.Contains(t, m.Outputs, "B")
	assert.Equal(t, 16, m.Outputs["B"].Device.Size())
	assert.Equal(t, int64(32), m.DeviceBytes())
	assert.Empty(t, m.InOut())

	// Simulate the kernel writing B
	copy(m.Outputs["B"].Device.(*backendtest.Buffer).Bytes(), "fedcba9876543210")
	require.NoError(t, m.Collect())
	assert.Equal(t, []byte("fedcba9876543210"), m.Outputs["B"].Host)

	require.NoError(t, m.ZeroOutputs())
	assert.Equal(t, make([]byte, 16), m.Outputs["B"].Device.(*backendtest.Buffer).Bytes())

	require.NoError(t, m.Release())
	assert.Empty(t, drv.Live())
	require.NoError(t, m.Release(), "second release is a no-op")
}

func TestManager_InOutPristineAndWorking(t *testing.T) {
	drv := openDriver(t)
	desc := kernels.NewSaxpy()
	ctx := &kernel.Context{
		Inputs:      kernel.HostBuffers{"x": make([]byte, 8), "y": {1, 2, 3, 4, 5, 6, 7, 8}},
		Definitions: kernel.NewDefinitions(),
	}
	require.NoError(t, SizeOutputs(desc, ctx))

	m := NewManager(drv, nil)
	require.NoError(t, m.Prepare(desc, ctx))
	assert.Equal(t, []string{"y"}, m.InOut())

	pristine := m.Inputs["y"].Device.(*backendtest.Buffer)
	working := m.Outputs["y"].Device.(*backendtest.Buffer)
	assert.NotSame(t, pristine, working, "inout names own two device buffers")
	assert.Equal(t, pristine.Bytes(), working.Bytes())

	working.Bytes()[0] = 99
	require.NoError(t, m.ResetWorking())
	assert.Equal(t, byte(1), working.Bytes()[0])
	assert.Equal(t, "sync", drv.Calls[len(drv.Calls)-1])

	// Zeroing leaves inout buffers alone
	require.NoError(t, m.ZeroOutputs())
	assert.Equal(t, pristine.Bytes(), working.Bytes())
	require.NoError(t, m.Release())
}

func TestManager_MissingInput(t *testing.T) {
	drv := openDriver(t)
	ctx := &kernel.Context{Inputs: kernel.HostBuffers{}, OutputSizes: map[string]int{"B": 4},
		Definitions: kernel.NewDefinitions()}
	m := NewManager(drv, nil)
	err := m.Prepare(kernels.NewArrayCopy(), ctx)
	assert.True(t, fault.Is(err, fault.Validation))
	assert.Empty(t, drv.Allocations)
}

func TestStore_Paths(t *testing.T) {
	s := Store{InputDir: "in", OutputDir: "out", Overrides: map[string]string{"A": "a.bin", "B": "b.bin", "y": "y.bin"}}
	assert.Equal(t, filepath.Join("in", "a.bin"), s.InputPath("A"))
	assert.Equal(t, filepath.Join("in", "x"), s.InputPath("x"))
	assert.Equal(t, filepath.Join("out", "b.bin"), s.OutputPath("B", kernel.DirectionOut))
	assert.Equal(t, filepath.Join("out", "y.out"), s.OutputPath("y", kernel.DirectionInOut))
	assert.Equal(t, filepath.Join("out", "c.out"), s.OutputPath("c", kernel.DirectionOut))
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Store{InputDir: dir, OutputDir: dir}
	data := []byte{0, 1, 2, 250, 251, 252}

	path := s.OutputPath("c", kernel.DirectionOut)
	require.NoError(t, s.Write(path, data))
	back, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestStore_OverwritePolicy(t *testing.T) {
	dir := t.TempDir()
	s := Store{InputDir: dir, OutputDir: dir}
	desc := kernels.NewArrayCopy()
	paths := s.OutputPaths(desc)
	require.Equal(t, map[string]string{"B": filepath.Join(dir, "B.out")}, paths)

	require.NoError(t, s.CheckWritable(paths))
	require.NoError(t, s.Write(paths["B"], []byte("first")))

	err := s.CheckWritable(paths)
	assert.True(t, fault.Is(err, fault.Configuration))
	err = s.Write(paths["B"], []byte("second"))
	assert.True(t, fault.Is(err, fault.Configuration))

	s.Overwrite = true
	require.NoError(t, s.CheckWritable(paths))
	require.NoError(t, s.Write(paths["B"], []byte("second")))
	back, err := os.ReadFile(paths["B"])
	require.NoError(t, err)
	assert.Equal(t, "second", string(back))

	missing := map[string]string{"B": filepath.Join(dir, "absent", "B.out")}
	err = s.CheckWritable(missing)
	assert.True(t, fault.Is(err, fault.Configuration), "a missing directory is refused even when overwriting")
	assert.Contains(t, err.Error(), "does not exist")
}

func TestStore_Read(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte{1, 2, 3, 4}, 0o644))
	s := Store{InputDir: dir}

	_, err := s.Read(kernels.NewSaxpy())
	assert.True(t, fault.Is(err, fault.Validation), "y is missing")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "y"), []byte{5, 6, 7, 8}, 0o644))
	bufs, err := s.Read(kernels.NewSaxpy())
	require.NoError(t, err)
	assert.Equal(t, kernel.HostBuffers{"x": {1, 2, 3, 4}, "y": {5, 6, 7, 8}}, bufs)
}
