// Package runner drives one kernel through build, run and collect.
//
// A Context is the single owner of every backend handle, buffer and compiled
// artifact of an invocation. Its steps must be called in order; each step
// advances the state by one, and Close releases everything from any state.
package runner

import (
	"fmt"
	"sort"
	"time"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/buffers"
	"github.com/notargets/kernelrunner/config"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
	"github.com/notargets/kernelrunner/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Context struct {
	opts   config.Options
	log    *zap.Logger
	state  State
	closed bool

	driver     backend.Driver
	deviceOpen bool

	desc  kernel.Descriptor
	kctx  *kernel.Context
	store buffers.Store

	kernel       backend.Kernel
	intermediate string

	buffers   *buffers.Manager
	args      backend.ArgumentList
	launchCfg launch.Config

	times     []time.Duration
	collected bool
	Metrics   *metrics.Recorder
}

// New returns an Uninitialized context. log may be nil.
func New(opts config.Options, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{opts: opts, log: log.Named("runner"), Metrics: metrics.NewRecorder()}
}

func (c *Context) State() State { return c.state }

// SelectBackend builds the driver for the configured ecosystem
func (c *Context) SelectBackend(factory backend.Factory) error {
	c.expect("SelectBackend", Uninitialized)
	driver, err := factory(c.opts.Ecosystem)
	if err != nil {
		return fault.Wrap(fault.Device, err, "selecting the %v backend", c.opts.Ecosystem)
	}
	c.driver = driver
	c.log.Debug("backend selected", zap.Stringer("backend", c.opts.Ecosystem))
	c.state = BackendSelected
	return nil
}

// BindDevice opens the configured platform and device
func (c *Context) BindDevice() error {
	c.expect("BindDevice", BackendSelected)
	if err := c.driver.Open(c.opts.Platform, c.opts.Device); err != nil {
		if _, classified := fault.KindOf(err); classified {
			return err
		}
		return fault.Wrap(fault.Device, err, "opening device %d", c.opts.Device)
	}
	c.deviceOpen = true
	c.log.Debug("device bound", zap.String("device", c.driver.DeviceName()))
	c.state = DeviceBound
	return nil
}

// BindDescriptor looks up the kernel, reads its inputs, parses its scalars
// and finalizes its definitions, then validates the combination
func (c *Context) BindDescriptor(registry *kernel.Registry) error {
	c.expect("BindDescriptor", DeviceBound)
	if err := c.opts.InferKernelKey(); err != nil {
		return err
	}
	desc, err := registry.Lookup(c.opts.KernelKey)
	if err != nil {
		return err
	}
	c.desc = desc
	c.store = buffers.Store{
		InputDir:  c.opts.InputDir,
		OutputDir: c.opts.OutputDir,
		Overrides: c.opts.BufferFiles,
		Overwrite: c.opts.Overwrite,
	}
	c.kctx = &kernel.Context{
		Inputs:      kernel.HostBuffers{},
		OutputSizes: map[string]int{},
		Scalars:     kernel.ScalarValues{},
		RawScalars:  c.opts.Scalars,
		Definitions: finalizeDefinitions(c.opts.Defines, c.opts.NamedDefines),
		Forced:      c.opts.Forced,
	}

	for _, name := range kernel.RequiredDefinitions(desc) {
		if !c.kctx.Definitions.Has(name) {
			return fault.Validationf("kernel %s requires preprocessor definition %s", desc.Key(), name)
		}
	}
	if err := c.parseScalars(); err != nil {
		return err
	}
	if c.opts.IRFile != "" {
		if err := c.store.CheckWritable(map[string]string{"the intermediate representation": c.opts.IRFile}); err != nil {
			return err
		}
	}
	if c.opts.CompileOnly {
		c.log.Debug("descriptor bound for compilation only", zap.String("kernel", desc.Key()))
		c.state = DescriptorBound
		return nil
	}

	if c.opts.WriteOutputs {
		if err := c.store.CheckWritable(c.store.OutputPaths(desc)); err != nil {
			return err
		}
	}
	if c.kctx.Inputs, err = c.store.Read(desc); err != nil {
		return err
	}
	extra, err := desc.AdditionalScalars(c.kctx)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "generating scalars for %s", desc.Key())
	}
	for name, v := range extra {
		if _, given := c.kctx.Scalars[name]; !given {
			c.kctx.Scalars[name] = v
		}
	}
	for _, name := range kernel.RequiredScalars(desc) {
		if _, ok := c.kctx.Scalars[name]; !ok {
			return fault.Validationf("kernel %s requires scalar argument %s", desc.Key(), name)
		}
	}
	if !desc.IsInputValid(c.kctx) {
		return fault.Validationf("kernel %s rejected the combination of inputs and definitions", desc.Key())
	}
	c.log.Debug("descriptor bound", zap.String("kernel", desc.Key()),
		zap.Strings("definitions", c.kctx.Definitions.Terms()))
	c.state = DescriptorBound
	return nil
}

func (c *Context) parseScalars() error {
	params := c.desc.Parameters()
	names := make([]string, 0, len(c.opts.Scalars))
	for name := range c.opts.Scalars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p, ok := kernel.Find(params, name)
		if !ok || p.Kind != kernel.Scalar {
			return fault.Configurationf("kernel %s has no scalar argument %s", c.desc.Key(), name)
		}
		v, err := p.ParseValue(c.opts.Scalars[name])
		if err != nil {
			return fault.Wrap(fault.Configuration, err, "invalid value %q", c.opts.Scalars[name])
		}
		c.kctx.Scalars[name] = v
	}
	return nil
}

// Compile builds the kernel source. A rejected source is a Compilation error
// carrying the compiler log, which is logged whatever the verbosity.
func (c *Context) Compile() error {
	c.expect("Compile", DescriptorBound)
	src, err := loadSource(&c.opts, c.desc, c.driver.SourceSuffix())
	if err != nil {
		return err
	}
	entry := c.opts.FunctionName
	if entry == "" {
		entry = c.desc.EntryPoint()
	}
	defs := c.kctx.Definitions
	req := backend.CompileRequest{
		Source:           src.text,
		EntryPoint:       entry,
		Debug:            c.opts.Debug,
		LineInfo:         c.opts.LineInfo,
		LanguageStandard: c.opts.LanguageStandard,
		IncludeDirs:      includeDirs(src, c.opts.IncludeDirs, c.driver.DefaultIncludeDirs()),
		PreincludeFiles:  c.opts.PreincludeFiles,
		ValuelessDefines: valueless(defs),
		ValuedDefines:    defs.Valued,
	}
	source := src.path
	if source == "" {
		source = "built-in " + c.desc.Key()
	}
	c.log.Debug("compiling", zap.String("source", source), zap.String("entry", entry),
		zap.Strings("includes", req.IncludeDirs))

	res, err := c.driver.Compile(req)
	if err != nil {
		return fault.Wrap(fault.Device, err, "building %s", entry)
	}
	c.Metrics.ObserveBuild(c.desc.Key(), c.opts.Ecosystem.String(), res.Success)
	if !res.Success {
		c.log.Error("kernel build failed", zap.String("kernel", entry), zap.String("log", res.Log))
		return fault.CompilationFailed(res.Log, fmt.Errorf("%s from %s", entry, source))
	}
	if !blank(res.Log) {
		c.log.Debug("compiler output", zap.String("log", res.Log))
	}
	c.kernel = res.Kernel
	c.intermediate = res.Intermediate
	c.log.Info("kernel built", zap.String("kernel", entry), zap.Stringer("backend", c.opts.Ecosystem))

	if c.opts.IRFile != "" {
		if err := c.store.Write(c.opts.IRFile, []byte(res.Intermediate)); err != nil {
			return fmt.Errorf("writing intermediate representation: %w", err)
		}
		c.log.Debug("intermediate representation written", zap.String("file", c.opts.IRFile))
	}
	c.state = SourceCompiled
	return nil
}

// PrepareBuffers sizes the outputs, allocates every device buffer and copies
// the inputs in
func (c *Context) PrepareBuffers() error {
	c.expect("PrepareBuffers", SourceCompiled)
	if err := buffers.SizeOutputs(c.desc, c.kctx); err != nil {
		return err
	}
	c.buffers = buffers.NewManager(c.driver, c.log)
	if err := c.buffers.Prepare(c.desc, c.kctx); err != nil {
		return err
	}
	c.Metrics.DeviceBytes.Set(float64(c.buffers.DeviceBytes()))
	c.state = BuffersReady
	return nil
}

// MarshalArguments builds the argument list in declaration order
func (c *Context) MarshalArguments() error {
	c.expect("MarshalArguments", BuffersReady)
	sink := newArgSink(c.desc.Parameters(), c.buffers, c.kctx.Scalars, c.driver.Convention())
	if err := c.desc.Marshal(sink, c.kctx); err != nil {
		return fmt.Errorf("marshaling arguments of %s: %w", c.desc.Key(), err)
	}
	args, err := sink.finish()
	if err != nil {
		return fmt.Errorf("marshaling arguments of %s: %w", c.desc.Key(), err)
	}
	c.args = args
	c.log.Debug("arguments marshaled", zap.Int("count", args.Len()))
	c.state = ArgumentsMarshaled
	return nil
}

// ConfigureLaunch resolves the forced components, deferring to the
// descriptor for whatever is missing
func (c *Context) ConfigureLaunch() error {
	c.expect("ConfigureLaunch", ArgumentsMarshaled)
	deduce := func(partial launch.Components) (launch.Components, error) {
		c.kctx.Forced = partial
		return c.desc.DeduceLaunchConfig(c.kctx)
	}
	cfg, err := launch.Resolve(c.opts.Forced, deduce)
	if err != nil {
		if _, classified := fault.KindOf(err); classified {
			return err
		}
		return fault.Wrap(fault.Configuration, err, "kernel %s", c.desc.Key())
	}
	c.launchCfg = cfg
	c.log.Info("launch configured", zap.Stringer("grid", cfg.Grid), zap.Stringer("block", cfg.Block),
		zap.Stringer("overall", cfg.Overall), zap.Uint64("sharedMemory", cfg.SharedMemory),
		zap.Bool("fullBlocks", cfg.FullBlocks))
	c.state = LaunchConfigured
	return nil
}

// Execute performs the configured number of strictly sequential runs. Each
// run starts from pristine inout contents.
func (c *Context) Execute() error {
	c.expect("Execute", LaunchConfigured)
	key, eco := c.desc.Key(), c.opts.Ecosystem.String()
	for k := 0; k < c.opts.Runs; k++ {
		if err := c.buffers.ResetWorking(); err != nil {
			return err
		}
		if c.opts.ZeroOutputs {
			if err := c.buffers.ZeroOutputs(); err != nil {
				return err
			}
		}
		res, err := c.driver.Launch(c.kernel, c.launchCfg, c.args, c.opts.TimeExecution)
		if err != nil {
			if _, classified := fault.KindOf(err); classified {
				return err
			}
			return fault.Wrap(fault.Device, err, "run %d of %s", k+1, key)
		}
		c.Metrics.ObserveRun(key, eco, res.Elapsed, res.Timed)
		if res.Timed {
			c.times = append(c.times, res.Elapsed)
			c.log.Info("run complete", zap.Int("run", k+1), zap.Int("of", c.opts.Runs),
				zap.Duration("elapsed", res.Elapsed))
		} else {
			c.log.Info("run complete", zap.Int("run", k+1), zap.Int("of", c.opts.Runs))
		}
	}
	c.state = Executed
	return nil
}

// Collect reads the outputs back, writes them if configured, and reports
// timing and metrics
func (c *Context) Collect() error {
	c.expect("Collect", Executed)
	if c.collected {
		panic("runner: Collect called twice")
	}
	c.collected = true
	if err := c.buffers.Collect(); err != nil {
		return err
	}
	if c.opts.WriteOutputs {
		paths := c.store.OutputPaths(c.desc)
		for _, name := range kernel.BufferNames(c.desc.Parameters(), kernel.DirectionOut, kernel.DirectionInOut) {
			if err := c.store.Write(paths[name], c.buffers.Outputs[name].Host); err != nil {
				return err
			}
			c.log.Debug("output written", zap.String("buffer", name), zap.String("file", paths[name]))
		}
	}
	if len(c.times) > 0 {
		s := metrics.Summarize(c.times)
		c.log.Info("timing summary", zap.Int("runs", s.Count), zap.Float64("meanMs", s.Mean),
			zap.Float64("stddevMs", s.StdDev), zap.Float64("medianMs", s.Median),
			zap.Float64("minMs", s.Min), zap.Float64("maxMs", s.Max))
	}
	if c.opts.MetricsFile != "" {
		if err := c.Metrics.WriteTextfile(c.opts.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// Close releases the kernel, every buffer and the device, in that order, and
// moves to Finalized. It may be called from any state, any number of times.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.buffers != nil {
		err = multierr.Append(err, c.buffers.Release())
	}
	if c.kernel != nil {
		err = multierr.Append(err, c.kernel.Release())
		c.kernel = nil
	}
	if c.deviceOpen {
		err = multierr.Append(err, c.driver.Close())
		c.deviceOpen = false
	}
	c.state = Finalized
	if err != nil {
		return fault.Wrap(fault.Device, err, "releasing resources")
	}
	return nil
}

// Outputs returns the host copies of every output buffer
func (c *Context) Outputs() kernel.HostBuffers {
	out := kernel.HostBuffers{}
	if c.buffers == nil {
		return out
	}
	for name, e := range c.buffers.Outputs {
		out[name] = e.Host
	}
	return out
}

func (c *Context) LaunchConfig() launch.Config { return c.launchCfg }

func (c *Context) Arguments() backend.ArgumentList { return c.args }

func (c *Context) Intermediate() string { return c.intermediate }

// Times returns the elapsed time of every timed run
func (c *Context) Times() []time.Duration { return c.times }
