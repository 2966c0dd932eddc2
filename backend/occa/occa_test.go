package occa

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/launch"
	"github.com/notargets/kernelrunner/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilerFlags(t *testing.T) {
	req := backend.CompileRequest{Debug: true, LineInfo: true, LanguageStandard: "C++17"}

	cu, err := New(backend.CUDA, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"-G", "-lineinfo", "-std=c++17"}, cu.(*CUDA).compilerFlags(req))
	assert.Empty(t, cu.(*CUDA).compilerFlags(backend.CompileRequest{}))

	cl, err := New(backend.OpenCL, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"-g", "-cl-opt-disable"}, cl.(*OpenCL).compilerFlags(req))

	props, err := buildProps(append([]string{"-G"}, includeFlags([]string{"/opt/inc"})...))
	require.NoError(t, err)
	assert.JSONEq(t, `{"okl":{"enabled":false},"compiler_flags":"-G -I/opt/inc"}`, props)

	_, err = New(backend.Ecosystem(9), nil)
	assert.True(t, fault.Is(err, fault.Configuration))
}

func TestConvertArgs(t *testing.T) {
	n, a := int32(4), float32(2.5)
	buf := &buffer{size: 16}

	t.Run("sentinel", func(t *testing.T) {
		values, err := convertArgs(backend.Sentinel,
			backend.ArgumentList{Pointers: []interface{}{buf, &n, &a, nil}})
		require.NoError(t, err)
		require.Len(t, values, 3)
		assert.Equal(t, int32(4), values[1])
		assert.Equal(t, float32(2.5), values[2])

		_, err = convertArgs(backend.Sentinel, backend.ArgumentList{Pointers: []interface{}{&n}})
		assert.Error(t, err)
	})

	t.Run("explicit_sizes", func(t *testing.T) {
		values, err := convertArgs(backend.ExplicitSizes, backend.ArgumentList{
			Pointers: []interface{}{buf, &n}, Sizes: []uintptr{8, 4}})
		require.NoError(t, err)
		assert.Len(t, values, 2)

		_, err = convertArgs(backend.ExplicitSizes, backend.ArgumentList{
			Pointers: []interface{}{buf, &n}, Sizes: []uintptr{8}})
		assert.Error(t, err, "missing size")
		_, err = convertArgs(backend.ExplicitSizes, backend.ArgumentList{
			Pointers: []interface{}{&n}, Sizes: []uintptr{8}})
		assert.Error(t, err, "wrong size")
	})

	t.Run("unsupported", func(t *testing.T) {
		s := "text"
		_, err := convertArgs(backend.Sentinel, backend.ArgumentList{Pointers: []interface{}{&s, nil}})
		assert.Error(t, err)
	})
}

const cudaScale = `
extern "C" __global__ void scale(float *y, float a, unsigned length)
{
    unsigned i = blockIdx.x * blockDim.x + threadIdx.x;
    if (i < length) y[i] *= a;
}
`

const openclScale = `
__kernel void scale(__global float *y, float a, unsigned length)
{
    unsigned i = get_global_id(0);
    if (i < length) y[i] *= a;
}
`

func floats(values ...float32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, values)
	return buf.Bytes()
}

func TestDriver_OnDevice(t *testing.T) {
	eco, ok := utils.CreateTestDevice()
	if !ok {
		t.Skip("no CUDA or OpenCL device available")
	}
	d, err := New(eco, nil)
	require.NoError(t, err)
	require.NoError(t, d.Open(0, 0))
	defer d.Close()

	src := cudaScale
	if eco == backend.OpenCL {
		src = openclScale
	}
	res, err := d.Compile(backend.CompileRequest{Source: src, EntryPoint: "scale",
		ValuedDefines: map[string]string{"UNUSED": "1"}})
	require.NoError(t, err)
	require.True(t, res.Success, res.Log)
	defer res.Kernel.Release()
	assert.Contains(t, res.Intermediate, "#define UNUSED 1")

	host := floats(1, 2, 3, 4, 5)
	y, err := d.Allocate(len(host))
	require.NoError(t, err)
	defer y.Release()
	pristine, err := d.Allocate(len(host))
	require.NoError(t, err)
	defer pristine.Release()
	require.NoError(t, d.CopyHostToDevice(pristine, host))
	require.NoError(t, d.CopyDeviceToDevice(y, pristine))

	a, length := float32(2), uint32(5)
	args := backend.ArgumentList{Pointers: []interface{}{y, &a, &length}}
	if d.Convention() == backend.Sentinel {
		args.Pointers = append(args.Pointers, nil)
	} else {
		args.Sizes = []uintptr{8, 4, 4}
	}
	cfg, err := launch.Resolve(launch.Components{
		Block: &launch.Dims{4, 1, 1}, Overall: &launch.Dims{5, 1, 1}}, nil)
	require.NoError(t, err)

	lr, err := d.Launch(res.Kernel, cfg, args, true)
	require.NoError(t, err)
	assert.True(t, lr.Timed)

	out := make([]byte, len(host))
	require.NoError(t, d.CopyDeviceToHost(out, y))
	got := make([]float32, 5)
	require.NoError(t, binary.Read(bytes.NewReader(out), binary.LittleEndian, got))
	for i, v := range got {
		assert.InDelta(t, 2*float64(i+1), float64(v), 1e-6)
	}

	require.NoError(t, d.ZeroFill(y))
	require.NoError(t, d.CopyDeviceToHost(out, y))
	assert.Equal(t, make([]byte, len(host)), out)

	cfg.SharedMemory = 64
	_, err = d.Launch(res.Kernel, cfg, args, false)
	assert.True(t, fault.Is(err, fault.Device))
}

func TestDriver_InvalidDevice(t *testing.T) {
	eco, ok := utils.CreateTestDevice()
	if !ok {
		t.Skip("no CUDA or OpenCL device available")
	}
	d, err := New(eco, nil)
	require.NoError(t, err)
	err = d.Open(0, 4096)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Device))
	assert.Contains(t, err.Error(), "invalid")
}
