// Package backendtest provides an in-memory backend.Driver. Device memory is
// a byte slice and every call is recorded, so orchestration code can be
// tested without a GPU.
package backendtest

import (
	"fmt"
	"time"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/launch"
)

type Buffer struct {
	ID       int
	data     []byte
	Released bool
}

func (b *Buffer) Size() int { return len(b.data) }

// Bytes exposes the simulated device contents
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Release() error {
	if b.Released {
		return fmt.Errorf("buffer %d released twice", b.ID)
	}
	b.Released = true
	return nil
}

type Kernel struct {
	EntryPoint string
	Released   bool
}

func (k *Kernel) Name() string { return k.EntryPoint }

func (k *Kernel) Release() error {
	if k.Released {
		return fmt.Errorf("kernel %s released twice", k.EntryPoint)
	}
	k.Released = true
	return nil
}

// Launch is one recorded kernel launch
type Launch struct {
	Kernel string
	Config launch.Config
	Args   backend.ArgumentList
}

// Driver simulates a device. Exported fields configure it before use and
// record what happened after.
type Driver struct {
	Eco         backend.Ecosystem
	Conv        backend.Convention
	DeviceCount int
	Includes    []string

	// FailCompile makes Compile report a rejected source with CompileLog
	FailCompile bool
	CompileLog  string
	// Elapsed is reported by every timed launch
	Elapsed time.Duration
	// OnLaunch runs in place of the kernel body
	OnLaunch func(l Launch) error

	Calls       []string
	Requests    []backend.CompileRequest
	Allocations []*Buffer
	Kernels     []*Kernel
	Launches    []Launch
	Opened      bool
	Closed      bool
}

var _ backend.Driver = (*Driver)(nil)

// New returns a single-device driver using the ecosystem's usual convention
func New(eco backend.Ecosystem) *Driver {
	conv := backend.Sentinel
	if eco == backend.OpenCL {
		conv = backend.ExplicitSizes
	}
	return &Driver{Eco: eco, Conv: conv, DeviceCount: 1, Elapsed: time.Millisecond}
}

// Factory returns d for its own ecosystem and refuses any other
func (d *Driver) Factory() backend.Factory {
	return func(eco backend.Ecosystem) (backend.Driver, error) {
		if eco != d.Eco {
			return nil, fault.Devicef("%v backend is not available", eco)
		}
		return d, nil
	}
}

func (d *Driver) record(format string, args ...interface{}) {
	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

func (d *Driver) Ecosystem() backend.Ecosystem   { return d.Eco }
func (d *Driver) Convention() backend.Convention { return d.Conv }

func (d *Driver) SourceSuffix() string {
	if d.Eco == backend.OpenCL {
		return "cl"
	}
	return "cu"
}

func (d *Driver) DefaultIncludeDirs() []string { return d.Includes }

func (d *Driver) Open(platform, device int) error {
	d.record("open %d %d", platform, device)
	if d.DeviceCount == 0 {
		return fault.Devicef("no %v devices found", d.Eco)
	}
	if device < 0 || device >= d.DeviceCount {
		return fault.Devicef("invalid device index %d, %d devices available", device, d.DeviceCount)
	}
	d.Opened = true
	return nil
}

func (d *Driver) DeviceName() string { return "fake " + d.Eco.String() + " device" }

func (d *Driver) Compile(req backend.CompileRequest) (backend.CompileResult, error) {
	d.record("compile %s", req.EntryPoint)
	d.Requests = append(d.Requests, req)
	res := backend.CompileResult{Intermediate: req.TranslationUnit(), Log: d.CompileLog}
	if d.FailCompile {
		return res, nil
	}
	k := &Kernel{EntryPoint: req.EntryPoint}
	d.Kernels = append(d.Kernels, k)
	res.Kernel, res.Success = k, true
	return res, nil
}

func (d *Driver) Allocate(size int) (backend.DeviceBuffer, error) {
	if !d.Opened {
		return nil, fault.Devicef("allocate before open")
	}
	b := &Buffer{ID: len(d.Allocations), data: make([]byte, size)}
	d.Allocations = append(d.Allocations, b)
	d.record("allocate %d %d", b.ID, size)
	return b, nil
}

func (d *Driver) buffer(buf backend.DeviceBuffer) (*Buffer, error) {
	b, ok := buf.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("foreign buffer %T", buf)
	}
	if b.Released {
		return nil, fmt.Errorf("buffer %d used after release", b.ID)
	}
	return b, nil
}

func (d *Driver) CopyHostToDevice(dst backend.DeviceBuffer, src []byte) error {
	b, err := d.buffer(dst)
	if err != nil {
		return err
	}
	if len(src) != len(b.data) {
		return fault.Devicef("host to device copy of %d bytes into %d", len(src), len(b.data))
	}
	copy(b.data, src)
	d.record("h2d %d", b.ID)
	return nil
}

func (d *Driver) CopyDeviceToHost(dst []byte, src backend.DeviceBuffer) error {
	b, err := d.buffer(src)
	if err != nil {
		return err
	}
	if len(dst) != len(b.data) {
		return fault.Devicef("device to host copy of %d bytes into %d", len(b.data), len(dst))
	}
	copy(dst, b.data)
	d.record("d2h %d", b.ID)
	return nil
}

func (d *Driver) CopyDeviceToDevice(dst, src backend.DeviceBuffer) error {
	to, err := d.buffer(dst)
	if err != nil {
		return err
	}
	from, err := d.buffer(src)
	if err != nil {
		return err
	}
	if len(to.data) != len(from.data) {
		return fault.Devicef("device copy between %d and %d bytes", len(from.data), len(to.data))
	}
	copy(to.data, from.data)
	d.record("d2d %d %d", to.ID, from.ID)
	return nil
}

func (d *Driver) ZeroFill(buf backend.DeviceBuffer) error {
	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	for i := range b.data {
		b.data[i] = 0
	}
	d.record("zero %d", b.ID)
	return nil
}

func (d *Driver) Synchronize() error {
	d.record("sync")
	return nil
}

func (d *Driver) Launch(k backend.Kernel, cfg launch.Config, args backend.ArgumentList,
	timed bool) (backend.LaunchResult, error) {
	kern, ok := k.(*Kernel)
	if !ok || kern.Released {
		return backend.LaunchResult{}, fault.Devicef("launch of an invalid kernel")
	}
	n := len(args.Pointers)
	switch d.Conv {
	case backend.Sentinel:
		if n == 0 || args.Pointers[n-1] != nil {
			return backend.LaunchResult{}, fault.Devicef("argument list is not sentinel terminated")
		}
	case backend.ExplicitSizes:
		if len(args.Sizes) != n {
			return backend.LaunchResult{}, fault.Devicef("%d arguments with %d sizes", n, len(args.Sizes))
		}
	}
	l := Launch{Kernel: kern.EntryPoint, Config: cfg, Args: args}
	d.Launches = append(d.Launches, l)
	d.record("launch %s", kern.EntryPoint)
	if d.OnLaunch != nil {
		if err := d.OnLaunch(l); err != nil {
			return backend.LaunchResult{}, err
		}
	}
	if !timed {
		return backend.LaunchResult{}, nil
	}
	return backend.LaunchResult{Elapsed: d.Elapsed, Timed: true}, nil
}

func (d *Driver) Close() error {
	if d.Closed {
		return fmt.Errorf("driver closed twice")
	}
	d.Closed = true
	d.record("close")
	return nil
}

// Live returns the buffers that have not been released
func (d *Driver) Live() []*Buffer {
	var live []*Buffer
	for _, b := range d.Allocations {
		if !b.Released {
			live = append(live, b)
		}
	}
	return live
}
