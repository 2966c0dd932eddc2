// Package launch deduces a complete kernel launch geometry from a partial one.
package launch

import (
	"fmt"
	"math"

	"github.com/notargets/kernelrunner/fault"
)

// Dims is a 3-axis extent; every axis is positive once validated
type Dims [3]uint64

// NewDims pads missing trailing axes with 1
func NewDims(axes ...uint64) (Dims, error) {
	if len(axes) == 0 || len(axes) > 3 {
		return Dims{}, fmt.Errorf("expected 1 to 3 dimensions, got %d", len(axes))
	}
	d := Dims{1, 1, 1}
	for i, v := range axes {
		if v == 0 {
			return Dims{}, fmt.Errorf("dimension %d must be positive", i)
		}
		d[i] = v
	}
	return d, nil
}

// Volume returns the product of all axes
func (d Dims) Volume() uint64 {
	return d[0] * d[1] * d[2]
}

func (d Dims) String() string {
	return fmt.Sprintf("(%d x %d x %d)", d[0], d[1], d[2])
}

// Components is a partially specified launch configuration. Nil fields are
// unset.
type Components struct {
	Block        *Dims  // Threads per block (OpenCL: local work size)
	Grid         *Dims  // Blocks per grid
	Overall      *Dims  // Threads per grid (OpenCL: global work size)
	SharedMemory *uint64 // Dynamic shared memory, in bytes
}

// Sufficient reports whether block, grid and overall are all set
func (c Components) Sufficient() bool {
	return c.Block != nil && c.Grid != nil && c.Overall != nil
}

// Over layers c on top of fallback: fields c sets win. When c sets either
// the grid or the overall dimensions, fallback's grid and overall are both
// ignored, so that layering never manufactures an over-specification.
func (c Components) Over(fallback Components) Components {
	out := fallback
	if c.Block != nil {
		out.Block = c.Block
	}
	if c.Grid != nil || c.Overall != nil {
		out.Grid = c.Grid
		out.Overall = c.Overall
	}
	if c.SharedMemory != nil {
		out.SharedMemory = c.SharedMemory
	}
	return out
}

// Config is a fully resolved launch geometry
type Config struct {
	Block        Dims
	Grid         Dims
	Overall      Dims
	SharedMemory uint64
	// FullBlocks is false when the grid covers more threads than the overall
	// dimensions; the kernel must then bound-check excess threads itself
	FullBlocks bool
}

// Deducer completes a partial configuration, typically from buffer sizes or
// scalar arguments. It receives the components resolved so far.
type Deducer func(partial Components) (Components, error)

// ErrAmbiguous is the message of an over-specified configuration
const ErrAmbiguous = "grid dimensions may be specified either in blocks or in overall threads, but not both"

// Complete fills in whichever of grid/overall can be derived from the other
// and the block dimensions. It does not consult any deducer.
func Complete(c Components) (Components, bool, error) {
	if c.Grid != nil && c.Overall != nil {
		return c, false, fault.Configurationf(ErrAmbiguous)
	}
	for name, d := range map[string]*Dims{"block": c.Block, "grid": c.Grid, "overall grid": c.Overall} {
		if d == nil {
			continue
		}
		for i, v := range d {
			if v == 0 {
				return c, false, fault.Configurationf("%s dimensions %s: axis %d is zero", name, d, i)
			}
		}
	}
	full := true
	switch {
	case c.Block != nil && c.Grid != nil:
		var overall Dims
		for i := range overall {
			if c.Grid[i] > math.MaxUint64/c.Block[i] {
				return c, false, fault.Configurationf("grid %s of blocks %s overflows on axis %d", c.Grid, c.Block, i)
			}
			overall[i] = c.Grid[i] * c.Block[i]
		}
		c.Overall = &overall
	case c.Block != nil && c.Overall != nil:
		var grid Dims
		for i := range grid {
			if c.Overall[i] > math.MaxUint64-(c.Block[i]-1) {
				return c, false, fault.Configurationf("overall grid %s overflows on axis %d when divided into blocks %s",
					c.Overall, i, c.Block)
			}
			grid[i] = (c.Overall[i] + c.Block[i] - 1) / c.Block[i]
			if grid[i]*c.Block[i] != c.Overall[i] {
				full = false
			}
		}
		c.Grid = &grid
	}
	return c, full, nil
}

// Resolve applies, in order: the over-specification check, grid→overall,
// overall→grid, descriptor deduction for anything still unset, and the
// shared memory default of zero.
func Resolve(forced Components, deduce Deducer) (Config, error) {
	c, full, err := Complete(forced)
	if err != nil {
		return Config{}, err
	}
	if !c.Sufficient() {
		if deduce == nil {
			return Config{}, insufficient(c)
		}
		deduced, err := deduce(c)
		if err != nil {
			return Config{}, fmt.Errorf("deducing launch configuration: %w", err)
		}
		if c, full, err = Complete(c.Over(deduced)); err != nil {
			return Config{}, err
		}
		if !c.Sufficient() {
			return Config{}, insufficient(c)
		}
	}
	cfg := Config{
		Block:      *c.Block,
		Grid:       *c.Grid,
		Overall:    *c.Overall,
		FullBlocks: full,
	}
	if c.SharedMemory != nil {
		cfg.SharedMemory = *c.SharedMemory
	}
	return cfg, nil
}

func insufficient(c Components) error {
	missing := make([]string, 0, 3)
	if c.Block == nil {
		missing = append(missing, "block")
	}
	if c.Grid == nil && c.Overall == nil {
		missing = append(missing, "grid or overall grid")
	}
	return fault.Configurationf("insufficient launch configuration (missing %v) - "+
		"please specify all launch configuration components explicitly", missing)
}
