package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
	"github.com/notargets/kernelrunner/runner"
	"github.com/urfave/cli/v2"
)

const appName = "kernel-runner"

func baseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "YAML configuration file; explicit flags override its values"},
		&cli.StringFlag{Name: "verbosity", Aliases: []string{"l"}, Value: "warn", Usage: "log level (debug, info, warn, error)"},
		&cli.StringFlag{Name: "log-encoding", Value: "console", Usage: "log encoding (console or json)"},
		&cli.BoolFlag{Name: "list-kernels", Aliases: []string{"L"}, Usage: "list the keys of the kernels which may be run"},

		&cli.BoolFlag{Name: "cuda", Value: true, Usage: "use CUDA"},
		&cli.BoolFlag{Name: "opencl", Usage: "use OpenCL"},
		&cli.IntFlag{Name: "platform-id", Aliases: []string{"p"}, Usage: "OpenCL platform index"},
		&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "device index"},
		&cli.IntFlag{Name: "num-runs", Value: 1, Usage: "number of times to run the compiled kernel"},

		&cli.StringFlag{Name: "kernel-key", Aliases: []string{"K"}, Usage: "key of the kernel among the registered kernels"},
		&cli.StringFlag{Name: "kernel-function", Usage: "kernel function name, if different from the descriptor's"},
		&cli.StringFlag{Name: "kernel-source", Usage: "kernel source file; defaults to <kernel-sources-dir>/<key>.<cu|cl>"},
		&cli.StringFlag{Name: "kernel-sources-dir", Value: ".", Usage: "base location of kernel source files"},
		&cli.StringFlag{Name: "input-buffer-dir", Value: ".", Usage: "base location of input buffer files"},
		&cli.StringFlag{Name: "output-buffer-dir", Value: ".", Usage: "base location for written output buffers"},
		&cli.StringSliceFlag{Name: "manifest", Usage: "YAML file of declarative kernel descriptors (repeatable)"},

		&cli.StringSliceFlag{Name: "include-path", Aliases: []string{"I"}, Usage: "header search directory (repeatable)"},
		&cli.StringSliceFlag{Name: "include", Usage: "file included at the top of the translation unit (repeatable)"},
		&cli.StringSliceFlag{Name: "define", Aliases: []string{"D"}, Usage: "preprocessor definition NAME or NAME=VALUE (repeatable)"},
		&cli.StringFlag{Name: "language-standard", Usage: "CUDA language standard (c++11, c++14, c++17)"},
		&cli.BoolFlag{Name: "debug-mode", Aliases: []string{"G"}, Usage: "compile in debug mode, without optimizations"},
		&cli.BoolFlag{Name: "generate-line-info", Value: true, Usage: "add source line information to the compiled code"},
		&cli.BoolFlag{Name: "compile-only", Usage: "compile the kernel but do not run it"},
		&cli.BoolFlag{Name: "write-ir", Aliases: []string{"P"}, Usage: "write the kernel's intermediate representation"},
		&cli.StringFlag{Name: "ir-output-file", Usage: "file for the intermediate representation; implies --write-ir"},

		&cli.StringFlag{Name: "block-dimensions", Aliases: []string{"b"}, Usage: "threads per block (OpenCL: local work size), x[,y[,z]]"},
		&cli.StringFlag{Name: "grid-dimensions", Aliases: []string{"g"}, Usage: "blocks per grid, x[,y[,z]]"},
		&cli.StringFlag{Name: "overall-grid-dimensions", Aliases: []string{"o"}, Usage: "threads per grid (OpenCL: global work size), x[,y[,z]]"},
		&cli.Uint64Flag{Name: "dynamic-shared-memory-size", Aliases: []string{"S"}, Usage: "dynamic shared memory in bytes"},

		&cli.BoolFlag{Name: "zero-output-buffers", Aliases: []string{"z"}, Usage: "zero output-only buffers before each run"},
		&cli.BoolFlag{Name: "time-execution", Aliases: []string{"t"}, Usage: "time each run of the kernel"},
		&cli.BoolFlag{Name: "write-output", Aliases: []string{"w"}, Value: true, Usage: "write output buffers to files"},
		&cli.BoolFlag{Name: "overwrite-allowed", Aliases: []string{"W"}, Usage: "overwrite existing output and IR files"},
		&cli.StringFlag{Name: "metrics-file", Usage: "write run metrics to this file in the Prometheus text format"},
	}
}

// descriptorFlags are named after the kernel's buffers, scalars and
// preprocessor definitions
func descriptorFlags(d kernel.Descriptor) []cli.Flag {
	var flags []cli.Flag
	for _, dir := range []kernel.Direction{kernel.DirectionIn, kernel.DirectionOut, kernel.DirectionInOut} {
		category := fmt.Sprintf("%s (%s buffers)", d.Key(), dir)
		for _, p := range d.Parameters() {
			if p.Kind != kernel.Buffer || p.Direction != dir {
				continue
			}
			flags = append(flags, &cli.StringFlag{Name: p.Name, Category: category,
				Usage: p.Description + " (file name; default " + defaultFileName(p) + ")"})
		}
	}
	for _, p := range kernel.Scalars(d.Parameters()) {
		usage := p.Description
		if p.Required {
			usage += " (required)"
		}
		flags = append(flags, &cli.StringFlag{Name: p.Name, Category: d.Key() + " (scalar arguments)", Usage: usage})
	}
	for _, def := range d.PreprocessorDefinitions() {
		usage := def.Description
		if def.Required {
			usage += " (required)"
		}
		flags = append(flags, &cli.StringFlag{Name: def.Name, Category: d.Key() + " (preprocessor definitions)", Usage: usage})
	}
	return flags
}

func defaultFileName(p kernel.Parameter) string {
	if p.Direction == kernel.DirectionIn {
		return p.Name
	}
	return p.Name + ".out"
}

func checkCollisions(base, extra []cli.Flag) error {
	taken := map[string]bool{"help": true, "h": true}
	for _, f := range base {
		for _, name := range f.Names() {
			taken[name] = true
		}
	}
	for _, f := range extra {
		name := f.Names()[0]
		if taken[name] {
			return fault.Configurationf("kernel option --%s clashes with another option", name)
		}
		taken[name] = true
	}
	return nil
}

// prescan holds what must be known before the command line is built
type prescan struct {
	key       string
	source    string
	config    string
	manifests []string
}

// kernelKey is the explicit key, or the stem of the source file
func (p prescan) kernelKey() string {
	if p.key != "" || p.source == "" {
		return p.key
	}
	base := filepath.Base(p.source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// preScan picks the kernel key, source file, configuration file and
// manifests out of args without interpreting anything else
func preScan(args []string) prescan {
	var p prescan
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, inline := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch name {
		case "K", "kernel-key", "kernel-source", "config", "manifest":
		default:
			continue
		}
		if !inline {
			if i+1 >= len(args) {
				break
			}
			i++
			value = args[i]
		}
		switch name {
		case "K", "kernel-key":
			p.key = value
		case "kernel-source":
			p.source = value
		case "config":
			p.config = value
		case "manifest":
			p.manifests = append(p.manifests, value)
		}
	}
	return p
}

// buildOptions layers explicit flags over the configuration file over the
// defaults
func buildOptions(c *cli.Context, file *config.File, desc kernel.Descriptor) (config.Options, error) {
	opts := config.Default()
	if file == nil {
		file = &config.File{}
	}

	var err error
	if file.Backend != "" && !c.IsSet("cuda") && !c.IsSet("opencl") {
		if opts.Ecosystem, err = backend.ParseEcosystem(file.Backend); err != nil {
			return opts, fault.Wrap(fault.Configuration, err, "configuration file")
		}
	} else if opts.Ecosystem, err = config.SelectEcosystem(c.IsSet("cuda"), c.Bool("cuda"),
		c.IsSet("opencl"), c.Bool("opencl")); err != nil {
		return opts, err
	}

	if file.Platform != nil {
		opts.Platform, opts.PlatformSet = *file.Platform, true
	}
	if c.IsSet("platform-id") {
		opts.Platform, opts.PlatformSet = c.Int("platform-id"), true
	}
	opts.Device = pickInt(c, "device", file.Device)
	opts.Runs = c.Int("num-runs")
	if !c.IsSet("num-runs") && file.Runs != 0 {
		opts.Runs = file.Runs
	}

	opts.KernelKey = c.String("kernel-key")
	opts.FunctionName = c.String("kernel-function")
	opts.SourceFile = c.String("kernel-source")
	opts.KernelsDir = pickString(c, "kernel-sources-dir", file.Dirs.Kernels)
	opts.InputDir = pickString(c, "input-buffer-dir", file.Dirs.Inputs)
	opts.OutputDir = pickString(c, "output-buffer-dir", file.Dirs.Outputs)
	opts.Manifests = append(append([]string{}, file.Manifests...), c.StringSlice("manifest")...)

	opts.IncludeDirs = append(append([]string{}, file.IncludeDirs...), c.StringSlice("include-path")...)
	opts.PreincludeFiles = append(append([]string{}, file.PreincludeFiles...), c.StringSlice("include")...)
	for _, raw := range append(append([]string{}, file.Defines...), c.StringSlice("define")...) {
		d, err := config.ParseDefine(raw)
		if err != nil {
			return opts, err
		}
		opts.Defines = append(opts.Defines, d)
	}
	opts.LanguageStandard = c.String("language-standard")
	opts.Debug = c.Bool("debug-mode")
	opts.LineInfo = c.Bool("generate-line-info")
	opts.CompileOnly = c.Bool("compile-only")

	for flag, target := range map[string]**launch.Dims{
		"block-dimensions":        &opts.Forced.Block,
		"grid-dimensions":         &opts.Forced.Grid,
		"overall-grid-dimensions": &opts.Forced.Overall,
	} {
		if !c.IsSet(flag) {
			continue
		}
		dims, err := config.ParseDims(c.String(flag))
		if err != nil {
			return opts, err
		}
		*target = &dims
	}
	if c.IsSet("dynamic-shared-memory-size") {
		size := c.Uint64("dynamic-shared-memory-size")
		opts.Forced.SharedMemory = &size
	}

	opts.ZeroOutputs = c.Bool("zero-output-buffers")
	opts.TimeExecution = c.Bool("time-execution")
	opts.WriteOutputs = c.Bool("write-output")
	opts.Overwrite = c.Bool("overwrite-allowed")
	opts.MetricsFile = pickString(c, "metrics-file", file.MetricsFile)

	if desc != nil {
		for _, p := range desc.Parameters() {
			if !c.IsSet(p.Name) {
				continue
			}
			if p.Kind == kernel.Buffer {
				opts.BufferFiles[p.Name] = c.String(p.Name)
			} else {
				opts.Scalars[p.Name] = c.String(p.Name)
			}
		}
		for _, def := range desc.PreprocessorDefinitions() {
			if c.IsSet(def.Name) {
				opts.NamedDefines = append(opts.NamedDefines,
					config.Define{Name: def.Name, Value: c.String(def.Name), HasValue: true})
			}
		}
	}

	opts.IRFile = c.String("ir-output-file")
	if opts.IRFile == "" && c.Bool("write-ir") {
		if err := opts.InferKernelKey(); err != nil {
			return opts, err
		}
		opts.IRFile = filepath.Join(opts.OutputDir, runner.ClipKey(opts.KernelKey)+".ir")
	}
	return opts, nil
}

func pickString(c *cli.Context, flag, fromFile string) string {
	if !c.IsSet(flag) && fromFile != "" {
		return fromFile
	}
	return c.String(flag)
}

func pickInt(c *cli.Context, flag string, fromFile *int) int {
	if !c.IsSet(flag) && fromFile != nil {
		return *fromFile
	}
	return c.Int(flag)
}
