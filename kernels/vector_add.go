package kernels

import (
	"github.com/notargets/kernelrunner/kernel"
	"github.com/notargets/kernelrunner/launch"
)

// VectorAdd computes c = a + b elementwise over float arrays
type VectorAdd struct {
	kernel.Base
	embedded
}

func NewVectorAdd() *VectorAdd {
	return &VectorAdd{
		Base: kernel.Base{
			KeyName:  "vector_add",
			Function: "vector_add",
			Params: []kernel.Parameter{
				kernel.Input("a", "left operand"),
				kernel.Input("b", "right operand"),
				kernel.Output("c", kernel.SizeOfInput("a"), "sum, sized as a"),
				kernel.ScalarArg("length", kernel.Uint32, false, "element count, generated from a"),
			},
			Defines: []kernel.PreprocessorDefinition{
				{Name: "BLOCK_SIZE", Description: "threads per block"},
			},
		},
		embedded: embedded{"vector_add"},
	}
}

func (va *VectorAdd) IsInputValid(ctx *kernel.Context) bool {
	a, b := ctx.Inputs["a"], ctx.Inputs["b"]
	return len(a) == len(b) && len(a)%floatSize == 0
}

func (va *VectorAdd) AdditionalScalars(ctx *kernel.Context) (kernel.ScalarValues, error) {
	if _, given := ctx.Scalars["length"]; given {
		return nil, nil
	}
	return kernel.ScalarValues{"length": uint32(len(ctx.Inputs["a"]) / floatSize)}, nil
}

func (va *VectorAdd) DeduceLaunchConfig(ctx *kernel.Context) (launch.Components, error) {
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
