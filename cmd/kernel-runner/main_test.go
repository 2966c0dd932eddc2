package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/kernels"
	"github.com/notargets/kernelrunner/launch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func builtins(t *testing.T) *kernel.Registry {
	t.Helper()
	reg := kernel.NewRegistry()
	for _, d := range []kernel.Descriptor{kernels.NewArrayCopy(), kernels.NewVectorAdd(), kernels.NewSaxpy()} {
		require.NoError(t, reg.Register(d, false))
	}
	return reg
}

// parse runs the command line through buildOptions without running a kernel
func parse(t *testing.T, file *config.File, args ...string) (config.Options, error) {
	t.Helper()
	reg := builtins(t)
	flags := baseFlags()
	var desc kernel.Descriptor
	if key := preScan(args).kernelKey(); reg.Has(key) {
		desc, _ = reg.Lookup(key)
		flags = append(flags, descriptorFlags(desc)...)
	}
	var opts config.Options
	var buildErr error
	app := &cli.App{
		Name:   appName,
		Flags:  flags,
		Writer: &bytes.Buffer{},
		Action: func(c *cli.Context) error {
			opts, buildErr = buildOptions(c, file, desc)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{appName}, args...)))
	return opts, buildErr
}

func TestPreScan(t *testing.T) {
	p := preScan([]string{"-K", "saxpy", "--config=run.yaml", "--manifest", "a.yaml", "-t",
		"--manifest=b.yaml", "--", "-K", "ignored"})
	assert.Equal(t, "saxpy", p.key)
	assert.Equal(t, "run.yaml", p.config)
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, p.manifests)
	assert.Equal(t, "saxpy", p.kernelKey())

	p = preScan([]string{"--kernel-source", "kernels/vector_add.cu", "--kernel-key"})
	assert.Empty(t, p.key, "a trailing flag without value is left to the parser")
	assert.Equal(t, "vector_add", p.kernelKey())
}

func TestDescriptorFlags(t *testing.T) {
	var names []string
	for _, f := range descriptorFlags(kernels.NewSaxpy()) {
		names = append(names, f.Names()[0])
	}
	assert.Equal(t, []string{"x", "y", "a", "length", "BLOCK_SIZE"}, names)
	assert.NoError(t, checkCollisions(baseFlags(), descriptorFlags(kernels.NewSaxpy())))

	clash := &kernel.Base{KeyName: "clash", Params: []kernel.Parameter{
		kernel.ScalarArg("device", kernel.Int32, false, "shadows a base option"),
	}}
	err := checkCollisions(baseFlags(), descriptorFlags(clash))
	assert.True(t, fault.Is(err, fault.Configuration))
	assert.Contains(t, err.Error(), "--device")
}

func TestBuildOptions(t *testing.T) {
	opts, err := parse(t, nil, "-K", "saxpy", "--opencl", "-p", "1", "--BLOCK_SIZE", "64", "-D", "FAST",
		"--a", "2.5", "--y", "y.bin", "-b", "64", "-o", "1000", "--num-runs", "3", "-t", "-z")
	require.NoError(t, err)
	assert.Equal(t, backend.OpenCL, opts.Ecosystem)
	assert.True(t, opts.PlatformSet)
	assert.Equal(t, 1, opts.Platform)
	assert.Equal(t, 3, opts.Runs)
	assert.Equal(t, "saxpy", opts.KernelKey)
	assert.Equal(t, []config.Define{{Name: "FAST"}}, opts.Defines)
	assert.Equal(t, []config.Define{{Name: "BLOCK_SIZE", Value: "64", HasValue: true}}, opts.NamedDefines)
	assert.Equal(t, map[string]string{"a": "2.5"}, opts.Scalars)
	assert.Equal(t, map[string]string{"y": "y.bin"}, opts.BufferFiles)
	assert.Equal(t, &launch.Dims{64, 1, 1}, opts.Forced.Block)
	assert.Equal(t, &launch.Dims{1000, 1, 1}, opts.Forced.Overall)
	assert.Nil(t, opts.Forced.Grid)
	assert.True(t, opts.TimeExecution)
	assert.True(t, opts.ZeroOutputs)
	assert.True(t, opts.WriteOutputs)
	assert.True(t, opts.LineInfo)

	_, err = parse(t, nil, "--cuda", "--opencl")
	assert.True(t, fault.Is(err, fault.Configuration))

	_, err = parse(t, nil, "-K", "array_copy", "-g", "1,0")
	assert.True(t, fault.Is(err, fault.Configuration))
}

func TestBuildOptions_FilePrecedence(t *testing.T) {
	device := 2
	file := &config.File{Backend: "OpenCL", Device: &device, Runs: 5, MetricsFile: "run.prom"}
	file.Dirs.Inputs = "data"
	file.Defines = []string{"FROM_FILE=1"}

	opts, err := parse(t, file, "-K", "array_copy", "-D", "FROM_FLAG")
	require.NoError(t, err)
	assert.Equal(t, backend.OpenCL, opts.Ecosystem)
	assert.Equal(t, 2, opts.Device)
	assert.Equal(t, 5, opts.Runs)
	assert.Equal(t, "data", opts.InputDir)
	assert.Equal(t, ".", opts.OutputDir)
	assert.Equal(t, "run.prom", opts.MetricsFile)
	assert.Equal(t, []config.Define{{Name: "FROM_FILE", Value: "1", HasValue: true}, {Name: "FROM_FLAG"}}, opts.Defines)

	opts, err = parse(t, file, "-K", "array_copy", "--cuda", "--device", "0", "--num-runs", "1",
		"--input-buffer-dir", "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, backend.CUDA, opts.Ecosystem)
	assert.Equal(t, 0, opts.Device)
	assert.Equal(t, 1, opts.Runs)
	assert.Equal(t, "elsewhere", opts.InputDir)
}

func TestBuildOptions_IRFile(t *testing.T) {
	opts, err := parse(t, nil, "-K", "lib/array_copy", "-P", "--output-buffer-dir", "out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "array_copy.ir"), opts.IRFile)

	opts, err = parse(t, nil, "--kernel-source", "k/saxpy.cl", "--ir-output-file", "saxpy.txt")
	require.NoError(t, err)
	assert.Equal(t, "saxpy.txt", opts.IRFile)
	assert.Empty(t, opts.KernelKey, "the key is inferred later from the source file")
}

const manifest = `
kernels:
  - key: scale
    parameters:
      - {name: x, kind: buffer, direction: inout}
      - {name: factor, kind: scalar, type: float32}
`

func TestNewApp_ManifestFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	mpath := filepath.Join(dir, "kernels.yaml")
	require.NoError(t, os.WriteFile(mpath, []byte(manifest), 0o644))
	cpath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cpath, []byte("runs: 2\nmanifests:\n  - "+mpath+"\n"), 0o644))

	reg := builtins(t)
	var out bytes.Buffer
	app, err := newApp([]string{appName, "--config", cpath, "-K", "scale"}, reg, &out, &out)
	require.NoError(t, err)
	assert.True(t, reg.Has("scale"))

	var names []string
	for _, f := range app.Flags {
		names = append(names, f.Names()[0])
	}
	assert.Contains(t, names, "x")
	assert.Contains(t, names, "factor")

	require.NoError(t, app.Run([]string{appName, "--config", cpath, "--list-kernels"}))
	assert.Equal(t, []string{"array_copy", "saxpy", "scale", "vector_add"}, strings.Fields(out.String()))
}

func TestRun_ExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{appName, "--list-kernels"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "saxpy")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{appName, "--no-such-option"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "--help")

	stderr.Reset()
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Equal(t, 2, run([]string{appName, "--config", missing}, &stdout, &stderr))
}
