// Package backend defines the contract every compute ecosystem driver
// satisfies. Orchestration code sees only these interfaces; the concrete
// driver is chosen once, through a Factory.
package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/notargets/kernelrunner/launch"
)

// Ecosystem identifies a GPU execution ecosystem
type Ecosystem int

const (
	CUDA Ecosystem = iota + 1
	OpenCL
)

func (e Ecosystem) String() string {
	switch e {
	case CUDA:
		return "CUDA"
	case OpenCL:
		return "OpenCL"
	default:
		return fmt.Sprintf("Ecosystem(%d)", int(e))
	}
}

// ParseEcosystem is case-insensitive
func ParseEcosystem(s string) (Ecosystem, error) {
	switch strings.ToLower(s) {
	case "cuda":
		return CUDA, nil
	case "opencl":
		return OpenCL, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// Convention is how a driver expects its argument list to be terminated
type Convention int

const (
	// Sentinel lists end with a nil entry and carry no sizes
	Sentinel Convention = iota + 1
	// ExplicitSizes lists carry one size per entry and no terminator
	ExplicitSizes
)

// ArgumentList holds the marshaled arguments of one launch. Pointers holds a
// DeviceBuffer for each buffer argument and a pointer to the typed value for
// each scalar.
type ArgumentList struct {
	Pointers []interface{}
	Sizes    []uintptr
}

// Len is the number of arguments, excluding any sentinel
func (al ArgumentList) Len() int {
	n := len(al.Pointers)
	if n > 0 && al.Pointers[n-1] == nil {
		n--
	}
	return n
}

// CompileRequest carries everything a driver needs to build a kernel
type CompileRequest struct {
	Source           string
	EntryPoint       string
	Debug            bool
	LineInfo         bool
	LanguageStandard string
	IncludeDirs      []string
	PreincludeFiles  []string
	ValuelessDefines []string
	ValuedDefines    map[string]string
}

// CompileResult is the outcome of building a kernel. Kernel is nil unless
// Success is set.
type CompileResult struct {
	Kernel       Kernel
	Intermediate string
	Log          string
	Success      bool
}

// LaunchResult reports an optional elapsed time
type LaunchResult struct {
	Elapsed time.Duration
	Timed   bool
}

// DeviceBuffer is a driver-owned region of device memory
type DeviceBuffer interface {
	Size() int
	Release() error
}

// Kernel is a compiled, launchable entry point
type Kernel interface {
	Name() string
	Release() error
}

// Driver is implemented once per ecosystem. Every copy blocks until it is
// complete. Nothing is retried.
type Driver interface {
	Ecosystem() Ecosystem
	Convention() Convention
	// SourceSuffix is the file extension of native kernel sources
	SourceSuffix() string
	DefaultIncludeDirs() []string

	// Open binds the driver to a device. platform is ignored by ecosystems
	// without platforms.
	Open(platform, device int) error
	DeviceName() string

	// Compile returns an error only when the driver itself fails. A rejected
	// source yields Success=false and the compiler log.
	Compile(req CompileRequest) (CompileResult, error)

	Allocate(size int) (DeviceBuffer, error)
	CopyHostToDevice(dst DeviceBuffer, src []byte) error
	CopyDeviceToHost(dst []byte, src DeviceBuffer) error
	CopyDeviceToDevice(dst, src DeviceBuffer) error
	ZeroFill(buf DeviceBuffer) error
	Synchronize() error

	Launch(k Kernel, cfg launch.Config, args ArgumentList, timed bool) (LaunchResult, error)

	// Close releases the device binding. Buffers and kernels are released
	// by their owners first.
	Close() error
}

// Factory builds the driver for an ecosystem
type Factory func(Ecosystem) (Driver, error)
