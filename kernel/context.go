package kernel

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/kernelrunner/launch"
)

// HostBuffers maps logical buffer names to host-side bytes
type HostBuffers map[string][]byte

// ScalarValues maps scalar names to parsed, typed values
type ScalarValues map[string]interface{}

// Definitions is the finalized set of preprocessor definitions
type Definitions struct {
	Valueless map[string]struct{}
	Valued    map[string]string
}

// NewDefinitions returns an empty set
func NewDefinitions() Definitions {
	return Definitions{Valueless: map[string]struct{}{}, Valued: map[string]string{}}
}

// Has reports whether term is defined, with or without a value
func (d Definitions) Has(term string) bool {
	if _, ok := d.Valueless[term]; ok {
		return true
	}
	_, ok := d.Valued[term]
	return ok
}

// Terms returns every defined term, sorted
func (d Definitions) Terms() []string {
	terms := make([]string, 0, len(d.Valueless)+len(d.Valued))
	for t := range d.Valueless {
		terms = append(terms, t)
	}
	for t := range d.Valued {
		if _, dup := d.Valueless[t]; !dup {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)
	return terms
}

// Context is everything a descriptor may inspect. Descriptors never see
// device handles or backend identity.
type Context struct {
	Inputs      HostBuffers
	OutputSizes map[string]int
	Scalars     ScalarValues
	RawScalars  map[string]string
	Definitions Definitions
	Forced      launch.Components
}

// SizeCalculator computes an output buffer's size in bytes
type SizeCalculator func(inputs HostBuffers, scalars ScalarValues,
	valueless map[string]struct{}, valued map[string]string) (int, error)

// SizeOfInput sizes an output identically to the named input buffer
func SizeOfInput(name string) SizeCalculator {
	return func(inputs HostBuffers, _ ScalarValues, _ map[string]struct{}, _ map[string]string) (int, error) {
		buf, ok := inputs[name]
		if !ok {
			return 0, fmt.Errorf("input buffer %s not available", name)
		}
		return len(buf), nil
	}
}

// FixedSize sizes an output to a constant number of bytes
func FixedSize(bytes int) SizeCalculator {
	return func(HostBuffers, ScalarValues, map[string]struct{}, map[string]string) (int, error) {
		return bytes, nil
	}
}

// SizeFromScalar sizes an output as scalar-count × elementSize bytes
func SizeFromScalar(scalar string, elementSize int) SizeCalculator {
	return func(_ HostBuffers, scalars ScalarValues, _ map[string]struct{}, _ map[string]string) (int, error) {
		v, ok := scalars[scalar]
		if !ok {
			return 0, fmt.Errorf("scalar %s not available", scalar)
		}
		n, err := AsCount(v)
		if err != nil {
			return 0, fmt.Errorf("scalar %s: %w", scalar, err)
		}
		if elementSize <= 0 || n > uint64(math.MaxInt/elementSize) {
			return 0, fmt.Errorf("scalar %s: %d elements of %d bytes is not a valid buffer size", scalar, n, elementSize)
		}
		return int(n) * elementSize, nil
	}
}
