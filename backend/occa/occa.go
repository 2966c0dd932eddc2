// Package occa implements the CUDA and OpenCL drivers over gocca. Kernels are
// built as native sources, with OKL translation disabled.
package occa

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/launch"
	"go.uber.org/zap"
)

// dialect is what distinguishes one ecosystem's driver from another
type dialect interface {
	Convention() backend.Convention
	deviceProps(platform, device int) string
	compilerFlags(req backend.CompileRequest) []string
}

// core holds the device binding and every operation OCCA performs the same
// way for both ecosystems
type core struct {
	eco     backend.Ecosystem
	dialect dialect
	log     *zap.Logger
	device  *gocca.OCCADevice
	name    string
}

// New returns the driver for eco
func New(eco backend.Ecosystem, log *zap.Logger) (backend.Driver, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("occa")
	switch eco {
	case backend.CUDA:
		d := &CUDA{}
		d.core = core{eco: eco, dialect: d, log: log}
		return d, nil
	case backend.OpenCL:
		d := &OpenCL{}
		d.core = core{eco: eco, dialect: d, log: log}
		return d, nil
	}
	return nil, fault.Configurationf("unsupported backend %v", eco)
}

// Factory binds New to a logger
func Factory(log *zap.Logger) backend.Factory {
	return func(eco backend.Ecosystem) (backend.Driver, error) {
		return New(eco, log)
	}
}

func (c *core) Ecosystem() backend.Ecosystem { return c.eco }

func (c *core) DeviceName() string { return c.name }

func (c *core) tryOpen(platform, device int) (*gocca.OCCADevice, error) {
	props := c.dialect.deviceProps(platform, device)
	dev, err := gocca.NewDevice(props)
	if err != nil {
		return nil, err
	}
	if dev.Mode() != c.eco.String() {
		mode := dev.Mode()
		dev.Free()
		return nil, fmt.Errorf("requested %s, OCCA opened %s", c.eco, mode)
	}
	return dev, nil
}

// Open binds the requested device. On failure, index 0 is probed to tell a
// bad index apart from an absent ecosystem.
func (c *core) Open(platform, device int) error {
	if c.device != nil {
		return fault.Devicef("%v device already open", c.eco)
	}
	dev, err := c.tryOpen(platform, device)
	if err == nil {
		c.device = dev
		c.name = fmt.Sprintf("%s platform %d device %d", c.eco, platform, device)
		c.log.Debug("device opened", zap.String("device", c.name))
		return nil
	}
	probe := func(p, d int) bool {
		if p == platform && d == device {
			return false
		}
		dev, err := c.tryOpen(p, d)
		if err != nil {
			return false
		}
		dev.Free()
		return true
	}
	switch {
	case probe(platform, 0):
		return fault.Wrap(fault.Device, err, "invalid %v device index %d", c.eco, device)
	case c.eco == backend.OpenCL && probe(0, 0):
		return fault.Wrap(fault.Device, err, "invalid OpenCL platform index %d", platform)
	}
	return fault.Wrap(fault.Device, err, "no %v devices found", c.eco)
}

func (c *core) opened() error {
	if c.device == nil {
		return fault.Devicef("no %v device is open", c.eco)
	}
	return nil
}

type buffer struct {
	mem      *gocca.OCCAMemory
	size     int
	released bool
}

func (b *buffer) Size() int { return b.size }

func (b *buffer) Release() error {
	if b.released {
		return nil
	}
	b.released = true
	b.mem.Free()
	return nil
}

type kernel struct {
	k        *gocca.OCCAKernel
	name     string
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) Release() error {
	if k.released {
		return nil
	}
	k.released = true
	k.k.Free()
	return nil
}

// buildProps renders native-kernel properties with the given compiler flags
func buildProps(flags []string) (string, error) {
	props := map[string]interface{}{
		"okl":            map[string]interface{}{"enabled": false},
		"compiler_flags": strings.Join(flags, " "),
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func includeFlags(dirs []string) []string {
	flags := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		flags = append(flags, "-I"+dir)
	}
	return flags
}

// Compile builds the preamble plus source. OCCA returns the compiler's
// diagnostics through the build error, which becomes the log.
func (c *core) Compile(req backend.CompileRequest) (backend.CompileResult, error) {
	if err := c.opened(); err != nil {
		return backend.CompileResult{}, err
	}
	flags := append(c.dialect.compilerFlags(req), includeFlags(req.IncludeDirs)...)
	propsJSON, err := buildProps(flags)
	if err != nil {
		return backend.CompileResult{}, fmt.Errorf("encoding build properties: %w", err)
	}
	c.log.Debug("building kernel", zap.String("entry", req.EntryPoint), zap.Strings("flags", flags))

	unit := req.TranslationUnit()
	result := backend.CompileResult{Intermediate: unit}

	props := gocca.JsonParse(propsJSON)
	defer props.Free()
	k, err := c.device.BuildKernelFromString(unit, req.EntryPoint, props)
	if err != nil {
		result.Log = err.Error()
		return result, nil
	}
	if k == nil {
		result.Log = fmt.Sprintf("kernel build returned nil for %s", req.EntryPoint)
		return result, nil
	}
	result.Kernel = &kernel{k: k, name: req.EntryPoint}
	result.Success = true
	return result, nil
}

func (c *core) Allocate(size int) (backend.DeviceBuffer, error) {
	if err := c.opened(); err != nil {
		return nil, err
	}
	// OCCA refuses empty allocations
	bytes := int64(size)
	if bytes == 0 {
		bytes = 1
	}
	mem := c.device.Malloc(bytes, nil, nil)
	if mem == nil {
		return nil, fault.Devicef("allocating %d bytes on %s", size, c.name)
	}
	return &buffer{mem: mem, size: size}, nil
}

func (c *core) own(buf backend.DeviceBuffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok {
		return nil, fmt.Errorf("buffer %T does not belong to the OCCA driver", buf)
	}
	if b.released {
		return nil, fmt.Errorf("buffer used after release")
	}
	return b, nil
}

func (c *core) CopyHostToDevice(dst backend.DeviceBuffer, src []byte) error {
	b, err := c.own(dst)
	if err != nil {
		return err
	}
	if len(src) != b.size {
		return fault.Devicef("copying %d host bytes into a %d byte buffer", len(src), b.size)
	}
	if b.size == 0 {
		return nil
	}
	b.mem.CopyFrom(unsafe.Pointer(&src[0]), int64(b.size))
	c.device.Finish()
	return nil
}

func (c *core) CopyDeviceToHost(dst []byte, src backend.DeviceBuffer) error {
	b, err := c.own(src)
	if err != nil {
		return err
	}
	if len(dst) != b.size {
		return fault.Devicef("copying a %d byte buffer into %d host bytes", b.size, len(dst))
	}
	if b.size == 0 {
		return nil
	}
	b.mem.CopyTo(unsafe.Pointer(&dst[0]), int64(b.size))
	c.device.Finish()
	return nil
}

// CopyDeviceToDevice stages through host memory
func (c *core) CopyDeviceToDevice(dst, src backend.DeviceBuffer) error {
	to, err := c.own(dst)
	if err != nil {
		return err
	}
	from, err := c.own(src)
	if err != nil {
		return err
	}
	if to.size != from.size {
		return fault.Devicef("device copy between %d and %d byte buffers", from.size, to.size)
	}
	if to.size == 0 {
		return nil
	}
	scratch := make([]byte, to.size)
	from.mem.CopyTo(unsafe.Pointer(&scratch[0]), int64(to.size))
	to.mem.CopyFrom(unsafe.Pointer(&scratch[0]), int64(to.size))
	c.device.Finish()
	return nil
}

func (c *core) ZeroFill(buf backend.DeviceBuffer) error {
	b, err := c.own(buf)
	if err != nil {
		return err
	}
	if b.size == 0 {
		return nil
	}
	zeros := make([]byte, b.size)
	b.mem.CopyFrom(unsafe.Pointer(&zeros[0]), int64(b.size))
	c.device.Finish()
	return nil
}

func (c *core) Synchronize() error {
	if err := c.opened(); err != nil {
		return err
	}
	c.device.Finish()
	return nil
}

func occaDim(d launch.Dims) gocca.OCCADim {
	return gocca.OCCADim{X: d[0], Y: d[1], Z: d[2]}
}

// Launch maps the grid to OCCA's outer dimensions and the block to its inner
// dimensions. Timing is wall clock around the run and the device barrier.
func (c *core) Launch(k backend.Kernel, cfg launch.Config, args backend.ArgumentList,
	timed bool) (backend.LaunchResult, error) {
	if err := c.opened(); err != nil {
		return backend.LaunchResult{}, err
	}
	kern, ok := k.(*kernel)
	if !ok || kern.released {
		return backend.LaunchResult{}, fault.Devicef("launching a kernel not built by this driver")
	}
	if cfg.SharedMemory != 0 {
		return backend.LaunchResult{}, fault.Devicef(
			"dynamic shared memory (%d bytes) is not supported by the OCCA driver", cfg.SharedMemory)
	}
	values, err := convertArgs(c.dialect.Convention(), args)
	if err != nil {
		return backend.LaunchResult{}, fault.Wrap(fault.Device, err, "launching %s", kern.name)
	}

	kern.k.SetRunDims(occaDim(cfg.Grid), occaDim(cfg.Block))
	start := time.Now()
	if err := kern.k.RunWithArgs(values...); err != nil {
		return backend.LaunchResult{}, fault.Wrap(fault.Device, err, "kernel %s execution failed", kern.name)
	}
	c.device.Finish()
	if !timed {
		return backend.LaunchResult{}, nil
	}
	return backend.LaunchResult{Elapsed: time.Since(start), Timed: true}, nil
}

// convertArgs checks the list against conv and turns it into the values
// RunWithArgs takes: OCCA memory for buffers, dereferenced scalars
func convertArgs(conv backend.Convention, args backend.ArgumentList) ([]interface{}, error) {
	ptrs := args.Pointers
	switch conv {
	case backend.Sentinel:
		if len(ptrs) == 0 || ptrs[len(ptrs)-1] != nil {
			return nil, fmt.Errorf("argument list is not sentinel terminated")
		}
		ptrs = ptrs[:len(ptrs)-1]
	case backend.ExplicitSizes:
		if len(args.Sizes) != len(ptrs) {
			return nil, fmt.Errorf("%d arguments but %d sizes", len(ptrs), len(args.Sizes))
		}
	}
	values := make([]interface{}, 0, len(ptrs))
	for i, p := range ptrs {
		var v interface{}
		switch x := p.(type) {
		case *buffer:
			if x.released {
				return nil, fmt.Errorf("argument %d: buffer used after release", i)
			}
			v = x.mem
		case *int32:
			v = *x
		case *uint32:
			v = *x
		case *int64:
			v = *x
		case *uint64:
			v = *x
		case *float32:
			v = *x
		case *float64:
			v = *x
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %T", i, p)
		}
		if conv == backend.ExplicitSizes {
			if want := sizeOf(p); want != args.Sizes[i] {
				return nil, fmt.Errorf("argument %d: size %d, expected %d", i, args.Sizes[i], want)
			}
		}
		values = append(values, v)
	}
	return values, nil
}

func sizeOf(p interface{}) uintptr {
	switch p.(type) {
	case *int32, *uint32, *float32:
		return 4
	default:
		// Eight byte scalars and device pointers
		return 8
	}
}

func (c *core) Close() error {
	if c.device == nil {
		return nil
	}
	c.device.Finish()
	c.device.Free()
	c.device = nil
	c.log.Debug("device closed", zap.String("device", c.name))
	return nil
}
