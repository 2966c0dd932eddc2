// Package buffers owns every host and device buffer of a kernel run.
//
// Buffers are addressed by (category, name). An inout name appears in both
// categories: the Inputs entry is the pristine device copy, never written by
// the kernel, and the Outputs entry is the working copy the kernel mutates.
package buffers

import (
	"fmt"

	"github.com/notargets/kernelrunner/backend"
	"github.com/notargets/kernelrunner/fault"
	"github.com/notargets/kernelrunner/kernel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Entry pairs a logical buffer's host bytes with its device copy
type Entry struct {
	Name   string
	Host   []byte
	Device backend.DeviceBuffer
}

// Manager allocates, populates, resets and releases buffers through a driver
type Manager struct {
	driver  backend.Driver
	log     *zap.Logger
	Inputs  map[string]*Entry
	Outputs map[string]*Entry
	inout   []string
	outOnly []string
	bytes   int64
}

func NewManager(driver backend.Driver, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		driver:  driver,
		log:     log.Named("buffers"),
		Inputs:  make(map[string]*Entry),
		Outputs: make(map[string]*Entry),
	}
}

// SizeOutputs runs the descriptor's size calculator for every out and inout
// parameter and records the results in ctx.OutputSizes
func SizeOutputs(d kernel.Descriptor, ctx *kernel.Context) error {
	if ctx.OutputSizes == nil {
		ctx.OutputSizes = make(map[string]int)
	}
	for _, name := range kernel.BufferNames(d.Parameters(), kernel.DirectionOut, kernel.DirectionInOut) {
		size, err := d.OutputSize(name, ctx)
		if err != nil {
			return fault.Wrap(fault.Validation, err, "sizing output %s", name)
		}
		ctx.OutputSizes[name] = size
	}
	return nil
}

// Prepare allocates host outputs and one device buffer per (category, name),
// then copies host inputs to the device. Output sizes must already be in
// ctx.OutputSizes.
func (m *Manager) Prepare(d kernel.Descriptor, ctx *kernel.Context) error {
	for _, p := range d.Parameters() {
		if p.Kind != kernel.Buffer {
			continue
		}
		if p.Direction.Reads() {
			host, ok := ctx.Inputs[p.Name]
			if !ok {
				return fault.Validationf("input buffer %s was not provided", p.Name)
			}
			if err := m.add(m.Inputs, p.Name, host); err != nil {
				return err
			}
		}
		if p.Direction.Writes() {
			size, ok := ctx.OutputSizes[p.Name]
			if !ok {
				return fmt.Errorf("output %s has not been sized", p.Name)
			}
			if p.Direction == kernel.DirectionInOut {
				if size != len(ctx.Inputs[p.Name]) {
					return fault.Validationf("inout buffer %s is %d bytes in but sized %d bytes out",
						p.Name, len(ctx.Inputs[p.Name]), size)
				}
				m.inout = append(m.inout, p.Name)
			} else {
				m.outOnly = append(m.outOnly, p.Name)
			}
			if err := m.add(m.Outputs, p.Name, make([]byte, size)); err != nil {
				return err
			}
		}
	}

	for _, name := range sortedKeys(m.Inputs) {
		e := m.Inputs[name]
		if err := m.driver.CopyHostToDevice(e.Device, e.Host); err != nil {
			return fault.Wrap(fault.Device, err, "copying input %s to the device", name)
		}
	}
	// Working copies start as their pristine contents
	for _, name := range m.inout {
		copy(m.Outputs[name].Host, m.Inputs[name].Host)
	}
	if err := m.ResetWorking(); err != nil {
		return err
	}
	m.log.Debug("buffers ready", zap.Int("inputs", len(m.Inputs)),
		zap.Int("outputs", len(m.Outputs)), zap.Int64("deviceBytes", m.bytes))
	return nil
}

func (m *Manager) add(category map[string]*Entry, name string, host []byte) error {
	buf, err := m.driver.Allocate(len(host))
	if err != nil {
		return fault.Wrap(fault.Device, err, "allocating %d bytes for %s", len(host), name)
	}
	category[name] = &Entry{Name: name, Host: host, Device: buf}
	m.bytes += int64(len(host))
	m.log.Debug("allocated", zap.String("buffer", name), zap.Int("bytes", len(host)))
	return nil
}

// ResetWorking copies every pristine inout buffer over its working copy and
// synchronizes. It does nothing when there are no inout buffers.
func (m *Manager) ResetWorking() error {
	if len(m.inout) == 0 {
		return nil
	}
	for _, name := range m.inout {
		if err := m.driver.CopyDeviceToDevice(m.Outputs[name].Device, m.Inputs[name].Device); err != nil {
			return fault.Wrap(fault.Device, err, "resetting inout buffer %s", name)
		}
	}
	return fault.Wrap(fault.Device, m.driver.Synchronize(), "synchronizing after reset")
}

// ZeroOutputs zero fills the device copy of every output-only buffer
func (m *Manager) ZeroOutputs() error {
	for _, name := range m.outOnly {
		if err := m.driver.ZeroFill(m.Outputs[name].Device); err != nil {
			return fault.Wrap(fault.Device, err, "zeroing output %s", name)
		}
	}
	return nil
}

// Collect synchronizes the device, then copies every output back to its host
// buffer
func (m *Manager) Collect() error {
	if err := m.driver.Synchronize(); err != nil {
		return fault.Wrap(fault.Device, err, "synchronizing before read back")
	}
	for _, name := range sortedKeys(m.Outputs) {
		e := m.Outputs[name]
		if err := m.driver.CopyDeviceToHost(e.Host, e.Device); err != nil {
			return fault.Wrap(fault.Device, err, "copying output %s from the device", name)
		}
	}
	return nil
}

// DeviceBytes is the total device memory allocated
func (m *Manager) DeviceBytes() int64 { return m.bytes }

// InOut returns the inout buffer names in declaration order
func (m *Manager) InOut() []string { return m.inout }

// Release frees every device buffer exactly once, reporting all failures
func (m *Manager) Release() error {
	var err error
	for _, category := range []map[string]*Entry{m.Inputs, m.Outputs} {
		for _, name := range sortedKeys(category) {
			e := category[name]
			if e.Device == nil {
				continue
			}
			err = multierr.Append(err, e.Device.Release())
			e.Device = nil
		}
	}
	m.bytes = 0
	return err
}
