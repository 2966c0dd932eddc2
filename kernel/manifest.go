package kernel

import (
	"fmt"
	"os"

	"github.com/notargets/kernelrunner/launch"
	"gopkg.in/yaml.v3"
)

// Manifest declares descriptors in YAML, for kernels that need no custom
// logic beyond size rules, a launch rule and generated element counts.
type Manifest struct {
	Kernels []ManifestKernel `yaml:"kernels"`
}

type ManifestKernel struct {
	Key        string              `yaml:"key"`
	Function   string              `yaml:"function"`
	Parameters []ManifestParameter `yaml:"parameters"`
	Defines    []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Required    bool   `yaml:"required"`
	} `yaml:"defines"`
	Generate []struct {
		Name        string `yaml:"name"`
		ElementsOf  string `yaml:"elementsOf"`
		ElementSize int    `yaml:"elementSize"`
	} `yaml:"generate"`
	Launch *struct {
		Block   []uint64  `yaml:"block"`
		Overall CountRule `yaml:"overall"`
	} `yaml:"launch"`
}

type ManifestParameter struct {
	Name        string    `yaml:"name"`
	Kind        string    `yaml:"kind"`
	Direction   string    `yaml:"direction"`
	Type        string    `yaml:"type"`
	Required    *bool     `yaml:"required"`
	Description string    `yaml:"description"`
	Size        *SizeRule `yaml:"size"`
}

// SizeRule sizes an output as one of: a copy of an input's size, a fixed
// byte count, or a scalar count times an element size
type SizeRule struct {
	SameAs      string `yaml:"sameAs"`
	Bytes       int    `yaml:"bytes"`
	Scalar      string `yaml:"scalar"`
	ElementSize int    `yaml:"elementSize"`
}

// CountRule derives a thread count from a scalar or from a buffer's element
// count
type CountRule struct {
	Scalar      string `yaml:"scalar"`
	ElementsOf  string `yaml:"elementsOf"`
	ElementSize int    `yaml:"elementSize"`
}

func (r SizeRule) calculator() (SizeCalculator, error) {
	switch {
	case r.SameAs != "":
		return SizeOfInput(r.SameAs), nil
	case r.Scalar != "":
		if r.ElementSize <= 0 {
			return nil, fmt.Errorf("size rule on scalar %s needs a positive elementSize", r.Scalar)
		}
		return SizeFromScalar(r.Scalar, r.ElementSize), nil
	case r.Bytes > 0:
		return FixedSize(r.Bytes), nil
	}
	return nil, fmt.Errorf("size rule must set sameAs, bytes or scalar")
}

func (r CountRule) count(ctx *Context) (uint64, error) {
	switch {
	case r.Scalar != "":
		v, ok := ctx.Scalars[r.Scalar]
		if !ok {
			return 0, fmt.Errorf("scalar %s not available", r.Scalar)
		}
		return AsCount(v)
	case r.ElementsOf != "":
		return elementCount(ctx, r.ElementsOf, r.ElementSize)
	}
	return 0, fmt.Errorf("count rule must set scalar or elementsOf")
}

func elementCount(ctx *Context, buffer string, elementSize int) (uint64, error) {
	if elementSize <= 0 {
		elementSize = 1
	}
	if buf, ok := ctx.Inputs[buffer]; ok {
		return uint64(len(buf) / elementSize), nil
	}
	if size, ok := ctx.OutputSizes[buffer]; ok {
		return uint64(size / elementSize), nil
	}
	return 0, fmt.Errorf("buffer %s not available", buffer)
}

// generator fills a scalar from a buffer's element count
type generator struct {
	name        string
	typ         ScalarType
	elementsOf  string
	elementSize int
}

type manifestDescriptor struct {
	Base
	generate []generator
	block    *launch.Dims
	overall  *CountRule
}

func (md *manifestDescriptor) AdditionalScalars(ctx *Context) (ScalarValues, error) {
	if len(md.generate) == 0 {
		return nil, nil
	}
	out := make(ScalarValues, len(md.generate))
	for _, g := range md.generate {
		if _, given := ctx.Scalars[g.name]; given {
			continue
		}
		n, err := elementCount(ctx, g.elementsOf, g.elementSize)
		if err != nil {
			return nil, fmt.Errorf("generating %s: %w", g.name, err)
		}
		if out[g.name], err = g.typ.FromCount(int(n)); err != nil {
			return nil, fmt.Errorf("generating %s: %w", g.name, err)
		}
	}
	return out, nil
}

func (md *manifestDescriptor) DeduceLaunchConfig(ctx *Context) (launch.Components, error) {
	var c launch.Components
	c.Block = md.block
	if md.overall != nil {
		n, err := md.overall.count(ctx)
		if err != nil {
			return c, err
		}
		if n == 0 {
			return c, fmt.Errorf("%s: deduced an empty grid", md.KeyName)
		}
		overall := launch.Dims{n, 1, 1}
		c.Overall = &overall
	}
	return c, nil
}

// LoadManifest reads a YAML manifest and registers its descriptors in r
func LoadManifest(path string, r *Registry, override bool) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	keys := make([]string, 0, len(m.Kernels))
	for i, mk := range m.Kernels {
		d, err := mk.descriptor()
		if err != nil {
			return keys, fmt.Errorf("manifest %s, kernel %d: %w", path, i, err)
		}
		if err := r.Register(d, override); err != nil {
			return keys, fmt.Errorf("manifest %s: %w", path, err)
		}
		keys = append(keys, d.Key())
	}
	return keys, nil
}

func (mk ManifestKernel) descriptor() (*manifestDescriptor, error) {
	md := &manifestDescriptor{Base: Base{KeyName: mk.Key, Function: mk.Function}}
	for _, mp := range mk.Parameters {
		p, err := mp.parameter()
		if err != nil {
			return nil, err
		}
		md.Params = append(md.Params, p)
	}
	for _, def := range mk.Defines {
		md.Defines = append(md.Defines, PreprocessorDefinition{
			Name: def.Name, Description: def.Description, Required: def.Required})
	}
	for _, g := range mk.Generate {
		p, ok := Find(md.Params, g.Name)
		if !ok || p.Kind != Scalar {
			return nil, fmt.Errorf("generated value %s is not a declared scalar", g.Name)
		}
		if _, ok := Find(md.Params, g.ElementsOf); !ok {
			return nil, fmt.Errorf("generated value %s counts unknown buffer %s", g.Name, g.ElementsOf)
		}
		// Generated values are never demanded from the invoker
		for j := range md.Params {
			if md.Params[j].Name == g.Name {
				md.Params[j].Required = false
			}
		}
		md.generate = append(md.generate, generator{g.Name, p.Type, g.ElementsOf, g.ElementSize})
	}
	if mk.Launch != nil {
		if len(mk.Launch.Block) > 0 {
			block, err := launch.NewDims(mk.Launch.Block...)
			if err != nil {
				return nil, fmt.Errorf("launch block: %w", err)
			}
			md.block = &block
		}
		if mk.Launch.Overall != (CountRule{}) {
			rule := mk.Launch.Overall
			md.overall = &rule
		}
	}
	return md, nil
}

func (mp ManifestParameter) parameter() (Parameter, error) {
	required := true
	if mp.Required != nil {
		required = *mp.Required
	}
	switch mp.Kind {
	case "buffer":
		dir, err := ParseDirection(mp.Direction)
		if err != nil {
			return Parameter{}, fmt.Errorf("buffer %s: %w", mp.Name, err)
		}
		if !required {
			return Parameter{}, fmt.Errorf("buffer %s: buffers cannot be optional", mp.Name)
		}
		p := Parameter{Name: mp.Name, Kind: Buffer, Direction: dir, Required: true, Description: mp.Description}
		switch {
		case mp.Size != nil:
			if p.Size, err = mp.Size.calculator(); err != nil {
				return Parameter{}, fmt.Errorf("buffer %s: %w", mp.Name, err)
			}
		case dir == DirectionInOut:
			p.Size = SizeOfInput(mp.Name)
		case dir == DirectionOut:
			return Parameter{}, fmt.Errorf("output buffer %s needs a size rule", mp.Name)
		}
		return p, nil
	case "scalar":
		typ, err := ParseScalarType(mp.Type)
		if err != nil {
			return Parameter{}, fmt.Errorf("scalar %s: %w", mp.Name, err)
		}
		return ScalarArg(mp.Name, typ, required, mp.Description), nil
	}
	return Parameter{}, fmt.Errorf("parameter %s: unknown kind %q", mp.Name, mp.Kind)
}
