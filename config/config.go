// Package config is the configuration surface of a kernel run: the option
// set, the YAML file, and parsing and validation of option values.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/launch"
)

// Define is one NAME or NAME=VALUE preprocessor definition
type Define struct {
	Name     string
	Value    string
	HasValue bool
}

// Options is everything one invocation can configure
type Options struct {
	Ecosystem   backend.Ecosystem
	Platform    int
	PlatformSet bool
	Device      int
	Runs        int

	KernelKey    string
	FunctionName string
	SourceFile   string
	KernelsDir   string
	InputDir     string
	OutputDir    string
	Manifests    []string

	IncludeDirs      []string
	PreincludeFiles  []string
	LanguageStandard string
	Debug            bool
	LineInfo         bool
	Defines          []Define
	// NamedDefines are definitions set through descriptor-specific options
	NamedDefines []Define

	// BufferFiles overrides the file name of a buffer
	BufferFiles map[string]string
	// Scalars holds raw scalar text, parsed by the descriptor
	Scalars map[string]string
	Forced  launch.Components

	ZeroOutputs   bool
	TimeExecution bool
	CompileOnly   bool
	WriteOutputs  bool
	Overwrite     bool
	IRFile        string
	MetricsFile   string
}

// Default returns the options of an invocation that sets nothing
func Default() Options {
	return Options{
		Ecosystem:    backend.CUDA,
		Runs:         1,
		KernelsDir:   ".",
		InputDir:     ".",
		OutputDir:    ".",
		WriteOutputs: true,
		BufferFiles:  map[string]string{},
		Scalars:      map[string]string{},
	}
}

// ParseDefine splits NAME or NAME=VALUE. "NAME=" defines NAME with an empty
// value.
func ParseDefine(s string) (Define, error) {
	name, value, hasValue := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return Define{}, fault.Configurationf("preprocessor definition %q has no name", s)
	}
	return Define{Name: name, Value: value, HasValue: hasValue}, nil
}

// ParseDims parses "x[,y[,z]]"; missing axes are 1
func ParseDims(s string) (launch.Dims, error) {
	parts := strings.Split(s, ",")
	axes := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return launch.Dims{}, fault.Configurationf("invalid dimensions %q", s)
		}
		axes = append(axes, v)
	}
	d, err := launch.NewDims(axes...)
	if err != nil {
		return launch.Dims{}, fault.Wrap(fault.Configuration, err, "invalid dimensions %q", s)
	}
	return d, nil
}

// SelectEcosystem resolves the two mutually exclusive backend switches. CUDA
// is on by default; an explicit OpenCL request replaces that default, but
// explicitly requesting both is an error.
func SelectEcosystem(cudaSet, cuda, openclSet, opencl bool) (backend.Ecosystem, error) {
	switch {
	case cudaSet && cuda && openclSet && opencl:
		return 0, fault.Configurationf("CUDA and OpenCL cannot both be selected")
	case opencl && !(cudaSet && cuda):
		return backend.OpenCL, nil
	case cuda:
		return backend.CUDA, nil
	}
	return 0, fault.Configurationf("no backend selected; enable CUDA or OpenCL")
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var standards = map[string]bool{"c++11": true, "c++14": true, "c++17": true}

// Validate checks values that can be judged without a descriptor or device
func (o *Options) Validate() error {
	if o.Runs <= 0 {
		return fault.Configurationf("the number of runs must be positive, got %d", o.Runs)
	}
	if o.Device < 0 {
		return fault.Configurationf("invalid device index %d", o.Device)
	}
	if o.PlatformSet && o.Ecosystem != backend.OpenCL {
		return fault.Configurationf("a platform index applies to OpenCL only")
	}
	if o.PlatformSet && o.Platform < 0 {
		return fault.Configurationf("invalid platform index %d", o.Platform)
	}
	if o.Forced.Grid != nil && o.Forced.Overall != nil {
		return fault.Configurationf("grid dimensions and overall grid dimensions cannot both be specified")
	}
	if o.LanguageStandard != "" && !standards[strings.ToLower(o.LanguageStandard)] {
		return fault.Configurationf("unsupported language standard %q; use c++11, c++14 or c++17", o.LanguageStandard)
	}
	if o.FunctionName != "" && !identifier.MatchString(o.FunctionName) {
		return fault.Configurationf("kernel function name %q is not a valid identifier", o.FunctionName)
	}
	dirs := map[string]string{"kernel sources": o.KernelsDir, "input": o.InputDir}
	if o.WriteOutputs && !o.CompileOnly {
		dirs["output"] = o.OutputDir
	}
	for role, dir := range dirs {
		if err := isDir(role, dir); err != nil {
			return err
		}
	}
	for _, dir := range o.IncludeDirs {
		if err := isDir("include", dir); err != nil {
			return err
		}
	}
	return nil
}

func isDir(role, dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fault.Wrap(fault.Configuration, err, "%s directory %s", role, dir)
	}
	if !info.IsDir() {
		return fault.Configurationf("%s directory %s is not a directory", role, dir)
	}
	return nil
}

// InferKernelKey fills KernelKey from the source file stem when only a
// source file is given
func (o *Options) InferKernelKey() error {
	if o.KernelKey != "" {
		return nil
	}
	if o.SourceFile == "" {
		return fault.Configurationf("a kernel key or a kernel source file is required")
	}
	base := filepath.Base(o.SourceFile)
	o.KernelKey = strings.TrimSuffix(base, filepath.Ext(base))
	return nil
}
