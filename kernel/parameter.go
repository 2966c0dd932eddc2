package kernel

import "fmt"

// ParamKind distinguishes device buffers from by-value scalars
type ParamKind int

const (
	Buffer ParamKind = iota + 1
	Scalar
)

func (k ParamKind) String() string {
	switch k {
	case Buffer:
		return "buffer"
	case Scalar:
		return "scalar"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Direction indicates parameter data flow. Scalars are always DirectionIn.
type Direction int

const (
	DirectionIn Direction = iota + 1
	DirectionOut
	DirectionInOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "input"
	case DirectionOut:
		return "output"
	case DirectionInOut:
		return "inout"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "in"/"input", "out"/"output" and "inout"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "input":
		return DirectionIn, nil
	case "out", "output":
		return DirectionOut, nil
	case "inout":
		return DirectionInOut, nil
	}
	return 0, fmt.Errorf("unknown parameter direction %q", s)
}

// Reads reports whether the host must supply this buffer's initial contents
func (d Direction) Reads() bool { return d == DirectionIn || d == DirectionInOut }

// Writes reports whether the kernel produces this buffer's contents
func (d Direction) Writes() bool { return d == DirectionOut || d == DirectionInOut }

// Parser turns a raw command-line value into a typed scalar
type Parser func(raw string) (interface{}, error)

// Parameter describes a single kernel parameter. Names are unique across all
// of a descriptor's parameters.
type Parameter struct {
	Name        string
	Kind        ParamKind
	Direction   Direction
	Required    bool
	Type        ScalarType // Scalars only
	Parse       Parser     // Scalars only; defaults to Type.Parse
	Size        SizeCalculator
	Description string
}

// Input declares an input buffer
func Input(name, description string) Parameter {
	return Parameter{Name: name, Kind: Buffer, Direction: DirectionIn, Required: true, Description: description}
}

// Output declares an output buffer whose size is computed by size
func Output(name string, size SizeCalculator, description string) Parameter {
	return Parameter{Name: name, Kind: Buffer, Direction: DirectionOut, Required: true, Size: size, Description: description}
}

// InOut declares a buffer the kernel both reads and mutates. Its output size
// defaults to the size of its own input.
func InOut(name, description string) Parameter {
	return Parameter{Name: name, Kind: Buffer, Direction: DirectionInOut, Required: true,
		Size: SizeOfInput(name), Description: description}
}

// ScalarArg declares a by-value argument of the given type
func ScalarArg(name string, typ ScalarType, required bool, description string) Parameter {
	return Parameter{Name: name, Kind: Scalar, Direction: DirectionIn, Required: required,
		Type: typ, Parse: typ.Parse, Description: description}
}

// ParseValue parses raw with the parameter's parser
func (p Parameter) ParseValue(raw string) (interface{}, error) {
	if p.Kind != Scalar {
		return nil, fmt.Errorf("parameter %s is a %s, not a scalar", p.Name, p.Kind)
	}
	parse := p.Parse
	if parse == nil {
		parse = p.Type.Parse
	}
	v, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("scalar argument %s: %w", p.Name, err)
	}
	return v, nil
}

// PreprocessorDefinition describes a compile-time term a kernel understands
type PreprocessorDefinition struct {
	Name        string
	Description string
	Required    bool
}

// BufferNames returns the names of buffer parameters with any of the given
// directions, in declaration order
func BufferNames(params []Parameter, dirs ...Direction) []string {
	names := make([]string, 0, len(params))
	for _, p := range params {
		if p.Kind != Buffer {
			continue
		}
		for _, d := range dirs {
			if p.Direction == d {
				names = append(names, p.Name)
				break
			}
		}
	}
	return names
}

// Scalars returns the scalar parameters, in declaration order
func Scalars(params []Parameter) []Parameter {
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		if p.Kind == Scalar {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the parameter named name
func Find(params []Parameter, name string) (Parameter, bool) {
	for _, p := range params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// CheckParameters verifies name uniqueness and per-kind consistency
func CheckParameters(params []Parameter) error {
	seen := make(map[string]bool, len(params))
	for i, p := range params {
		if p.Name == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case Buffer:
			if p.Direction.Writes() && p.Size == nil {
				return fmt.Errorf("%s buffer %s has no size calculator", p.Direction, p.Name)
			}
		case Scalar:
			if p.Direction != DirectionIn {
				return fmt.Errorf("scalar %s must be an input", p.Name)
			}
			if p.Parse == nil && p.Type == 0 {
				return fmt.Errorf("scalar %s has neither a type nor a parser", p.Name)
			}
		default:
			return fmt.Errorf("parameter %s has unknown kind %v", p.Name, p.Kind)
		}
	}
	return nil
}
