package kernels

import (
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
)

// Saxpy computes y = a*x + y in place
type Saxpy struct {
	kernel.Base
	embedded
}

func NewSaxpy() *Saxpy {
	return &Saxpy{
		Base: kernel.Base{
			KeyName:  "saxpy",
			Function: "saxpy",
			Params: []kernel.Parameter{
				kernel.Input("x", "input vector"),
				kernel.InOut("y", "accumulated vector, updated in place"),
				kernel.ScalarArg("a", kernel.Float32, true, "scale applied to x"),
				kernel.ScalarArg("length", kernel.Uint32, false, "element count, generated from x"),
			},
			Defines: []kernel.PreprocessorDefinition{
				{Name: "BLOCK_SIZE", Description: "threads per block, also the launch block size", Required: true},
			},
		},
		embedded: embedded{"saxpy"},
	}
}

// IsInputValid requires x and y to hold the same number of floats
func (s *Saxpy) IsInputValid(ctx *kernel.Context) bool {
	x, y := ctx.Inputs["x"], ctx.Inputs["y"]
	return len(x) == len(y) && len(x)%floatSize == 0
}

func (s *Saxpy) AdditionalScalars(ctx *kernel.Context) (kernel.ScalarValues, error) {
	if _, given := ctx.Scalars["length"]; given {
		return nil, nil
	}
	return kernel.ScalarValues{"length": uint32(len(ctx.Inputs["x"]) / floatSize)}, nil
}

func (s *Saxpy) DeduceLaunchConfig(ctx *kernel.Context) (launch.Components, error) {
	v, err := lengthOf(ctx)
	if err != nil {
		return launch.Components{}, err
	}
	n, err := kernel.AsCount(v)
	if err != nil {
		return launch.Components{}, err
	}
	return linear(ctx, n)
}
