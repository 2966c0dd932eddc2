package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/notargets/kernelrunner/backend/occa"
	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	_ "github.com/notargets/kernelrunner/kernels"
	"github.com/notargets/kernelrunner/logger"
	"github.com/notargets/kernelrunner/runner"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes one invocation and returns its exit status
func run(args []string, stdout, stderr io.Writer) int {
	app, err := newApp(args, kernel.Default, stdout, stderr)
	if err == nil {
		err = app.Run(args)
	}
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) && fe.Kind == fault.Compilation && fe.Log != "" {
			fmt.Fprintln(stderr, fe.Log)
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if fault.Is(err, fault.Configuration) {
			fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", appName)
		}
	}
	return fault.ExitCode(err)
}

// newApp builds the command line for args. Descriptor manifests are loaded
// into reg, and the options of the selected kernel are added, before any
// flag is parsed.
func newApp(args []string, reg *kernel.Registry, stdout, stderr io.Writer) (*cli.App, error) {
	pre := preScan(args[1:])
	var file *config.File
	if pre.config != "" {
		f, err := config.LoadFile(pre.config)
		if err != nil {
			return nil, fault.Wrap(fault.Configuration, err, "loading configuration file %s", pre.config)
		}
		file = f
	}
	manifests := pre.manifests
	if file != nil {
		manifests = append(append([]string{}, file.Manifests...), manifests...)
	}
	for _, path := range manifests {
		if _, err := kernel.LoadManifest(path, reg, true); err != nil {
			return nil, fault.Wrap(fault.Configuration, err, "loading descriptor manifest")
		}
	}

	flags := baseFlags()
	var desc kernel.Descriptor
	if key := pre.kernelKey(); key != "" && reg.Has(key) {
		desc, _ = reg.Lookup(key)
		extra := descriptorFlags(desc)
		if err := checkCollisions(flags, extra); err != nil {
			return nil, err
		}
		flags = append(flags, extra...)
	}

	var log *zap.Logger
	app := &cli.App{
		Name:            appName,
		Usage:           "A runner for dynamically-compiled CUDA and OpenCL kernels",
		Flags:           flags,
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		ExitErrHandler:  func(*cli.Context, error) {},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return fault.Wrap(fault.Configuration, err, "invalid command line")
		},
		Before: func(c *cli.Context) error {
			verbosity, encoding := c.String("verbosity"), c.String("log-encoding")
			if file != nil {
				if !c.IsSet("verbosity") && file.Logger.Verbosity != "" {
					verbosity = file.Logger.Verbosity
				}
				if !c.IsSet("log-encoding") && file.Logger.Encoding != "" {
					encoding = file.Logger.Encoding
				}
			}
			var err error
			log, err = logger.New(verbosity, encoding)
			if err != nil {
				return fault.Wrap(fault.Configuration, err, "building logger")
			}
			log = log.Named("cli")
			return nil
		},
		After: func(*cli.Context) error {
			if log != nil {
				_ = log.Sync()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.Bool("list-kernels") {
				for _, key := range reg.Keys() {
					fmt.Fprintln(c.App.Writer, key)
				}
				return nil
			}
			opts, err := buildOptions(c, file, desc)
			if err != nil {
				return err
			}
			log.Debug("options resolved", zap.String("kernel", opts.KernelKey),
				zap.Stringer("backend", opts.Ecosystem), zap.Int("runs", opts.Runs))
			return runner.Run(opts, occa.Factory(log), reg, log)
		},
	}
	return app, nil
}
