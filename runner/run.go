package runner

import (
	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/kernel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Run performs a whole invocation. Resources are released on every path;
// in compile-only mode it stops once the kernel is built.
func Run(opts config.Options, factory backend.Factory, registry *kernel.Registry, log *zap.Logger) (err error) {
	if err := opts.Validate(); err != nil {
		return err
	}
	c := New(opts, log)
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	if err := c.SelectBackend(factory); err != nil {
		return err
	}
	if err := c.BindDevice(); err != nil {
		return err
	}
	if err := c.BindDescriptor(registry); err != nil {
		return err
	}
	if err := c.Compile(); err != nil {
		return err
	}
	if opts.CompileOnly {
		return nil
	}
	steps := []func() error{
		c.PrepareBuffers,
		c.MarshalArguments,
		c.ConfigureLaunch,
		c.Execute,
		c.Collect,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
