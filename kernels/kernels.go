// Package kernels registers the built-in kernel descriptors. Importing it for
// side effects populates kernel.Default.
package kernels

import (
	"embed"
	"fmt"
	"strconv"

	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
)

//go:embed src
var sources embed.FS

// DefaultBlockSize is used when BLOCK_SIZE is not defined
const DefaultBlockSize = 256

const floatSize = 4

func init() {
	kernel.MustRegister(NewArrayCopy())
	kernel.MustRegister(NewVectorAdd())
	kernel.MustRegister(NewSaxpy())
}

// embedded serves src/<key>.<suffix>
type embedded struct{ key string }

func (e embedded) Source(suffix string) (string, bool) {
	data, err := sources.ReadFile("src/" + e.key + "." + suffix)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// blockSize reads a valued BLOCK_SIZE definition, falling back to
// DefaultBlockSize if it is absent
func blockSize(defs kernel.Definitions) (uint64, error) {
	raw, ok := defs.Valued["BLOCK_SIZE"]
	if !ok {
		return DefaultBlockSize, nil
	}
	n, err := strconv.ParseUint(raw, 0, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("BLOCK_SIZE must be a positive integer, got %q", raw)
	}
	return n, nil
}

// linear deduces a one dimensional launch over count threads
func linear(ctx *kernel.Context, count uint64) (launch.Components, error) {
	var c launch.Components
	if count == 0 {
		return c, fmt.Errorf("cannot launch over zero elements")
	}
	bs, err := blockSize(ctx.Definitions)
	if err != nil {
		return c, err
	}
	block, overall := launch.Dims{bs, 1, 1}, launch.Dims{count, 1, 1}
	c.Block, c.Overall = &block, &overall
	return c, nil
}

func lengthOf(ctx *kernel.Context) (interface{}, error) {
	v, ok := ctx.Scalars["length"]
	if !ok {
		return nil, fmt.Errorf("length not generated")
	}
	return v, nil
}
