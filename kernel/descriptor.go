// Package kernel holds the per-kernel capability contract. A Descriptor
// knows everything about one kernel that the runner does not: its
// parameters, how large its outputs are, what inputs it accepts and how to
// launch it. It never allocates device memory, copies data or launches
// anything.
package kernel

import (
	"fmt"

	"github.com/notargets/kernelrunner/launch"
)

// ArgumentSink receives a kernel's arguments in call order
type ArgumentSink interface {
	PushBuffer(name string, dir Direction) error
	PushScalar(name string) error
}

// Descriptor is implemented once per distinct kernel
type Descriptor interface {
	// Key identifies the descriptor in the registry; it also serves as the
	// default kernel source file stem
	Key() string
	// EntryPoint is the kernel function name within the source
	EntryPoint() string
	Parameters() []Parameter
	PreprocessorDefinitions() []PreprocessorDefinition
	OutputSize(name string, ctx *Context) (int, error)
	IsInputValid(ctx *Context) bool
	DeduceLaunchConfig(ctx *Context) (launch.Components, error)
	AdditionalScalars(ctx *Context) (ScalarValues, error)
	Marshal(sink ArgumentSink, ctx *Context) error
}

// SourceProvider is optionally implemented by descriptors that carry their
// own kernel source. It is consulted only when no source file is found.
type SourceProvider interface {
	Source(suffix string) (string, bool)
}

// Base implements every Descriptor capability generically. Concrete
// descriptors embed it and override what they specialize.
type Base struct {
	KeyName  string
	Function string
	Params   []Parameter
	Defines  []PreprocessorDefinition
}

func (b *Base) Key() string { return b.KeyName }

func (b *Base) EntryPoint() string {
	if b.Function == "" {
		return b.KeyName
	}
	return b.Function
}

func (b *Base) Parameters() []Parameter { return b.Params }

func (b *Base) PreprocessorDefinitions() []PreprocessorDefinition { return b.Defines }

// OutputSize runs the named output's size calculator
func (b *Base) OutputSize(name string, ctx *Context) (int, error) {
	p, ok := Find(b.Params, name)
	if !ok || p.Kind != Buffer || !p.Direction.Writes() {
		return 0, fmt.Errorf("%s has no output buffer %s", b.KeyName, name)
	}
	if p.Size == nil {
		return 0, fmt.Errorf("%s: no size calculator for %s", b.KeyName, name)
	}
	size, err := p.Size(ctx.Inputs, ctx.Scalars, ctx.Definitions.Valueless, ctx.Definitions.Valued)
	if err != nil {
		return 0, fmt.Errorf("%s: sizing %s: %w", b.KeyName, name, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("%s: negative size %d for %s", b.KeyName, size, name)
	}
	return size, nil
}

// IsInputValid accepts everything
func (b *Base) IsInputValid(*Context) bool { return true }

// DeduceLaunchConfig contributes nothing beyond the forced components
func (b *Base) DeduceLaunchConfig(*Context) (launch.Components, error) {
	return launch.Components{}, nil
}

// AdditionalScalars generates nothing
func (b *Base) AdditionalScalars(*Context) (ScalarValues, error) { return nil, nil }

// Marshal pushes every parameter once, in declaration order
func (b *Base) Marshal(sink ArgumentSink, _ *Context) error {
	return MarshalInOrder(b.Params, sink)
}

// MarshalInOrder pushes params to sink in declaration order
func MarshalInOrder(params []Parameter, sink ArgumentSink) error {
	for _, p := range params {
		var err error
		switch p.Kind {
		case Buffer:
			err = sink.PushBuffer(p.Name, p.Direction)
		case Scalar:
			err = sink.PushScalar(p.Name)
		default:
			err = fmt.Errorf("parameter %s has unknown kind %v", p.Name, p.Kind)
		}
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", p.Name, err)
		}
	}
	return nil
}

// RequiredScalars returns the names of scalars the invoker must supply
func RequiredScalars(d Descriptor) []string {
	var names []string
	for _, p := range Scalars(d.Parameters()) {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// RequiredDefinitions returns the names of terms that must be defined
func RequiredDefinitions(d Descriptor) []string {
	var names []string
	for _, pd := range d.PreprocessorDefinitions() {
		if pd.Required {
			names = append(names, pd.Name)
		}
	}
	return names
}
