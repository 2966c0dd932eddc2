package kernels

import (
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
)

// ArrayCopy copies the first n floats of A into B
type ArrayCopy struct {
	kernel.Base
	embedded
}

func NewArrayCopy() *ArrayCopy {
	return &ArrayCopy{
		Base: kernel.Base{
			KeyName:  "array_copy",
			Function: "array_copy",
			Params: []kernel.Parameter{
				kernel.Input("A", "source array"),
				kernel.Output("B", kernel.SizeOfInput("A"), "destination array, sized as A"),
				kernel.ScalarArg("n", kernel.Int32, true, "number of elements to copy"),
			},
			Defines: []kernel.PreprocessorDefinition{
				{Name: "BLOCK_SIZE", Description: "threads per block"},
			},
		},
		embedded: embedded{"array_copy"},
	}
}

func (ac *ArrayCopy) IsInputValid(ctx *kernel.Context) bool {
	n, ok := ctx.Scalars["n"].(int32)
	if !ok || n < 0 {
		return false
	}
	return int(n)*floatSize <= len(ctx.Inputs["A"])
}

func (ac *ArrayCopy) DeduceLaunchConfig(ctx *kernel.Context) (launch.Components, error) {
	n, err := kernel.AsCount(ctx.Scalars["n"])
	if err != nil {
		return launch.Components{}, err
	}
	return linear(ctx, n)
}
