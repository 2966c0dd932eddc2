package occa

import (
	"fmt"

	"github.com/notargets/kernelrunner/backend"
	"go.uber.org/zap"
)

// OpenCL drives a device through OCCA's OpenCL mode
type OpenCL struct {
	core
}

var _ backend.Driver = (*OpenCL)(nil)

func (d *OpenCL) Convention() backend.Convention { return backend.ExplicitSizes }

func (d *OpenCL) SourceSuffix() string { return "cl" }

func (d *OpenCL) DefaultIncludeDirs() []string { return nil }

func (d *OpenCL) deviceProps(platform, device int) string {
	return fmt.Sprintf(`{"mode": "OpenCL", "platform_id": %d, "device_id": %d}`, platform, device)
}

func (d *OpenCL) compilerFlags(req backend.CompileRequest) []string {
	var flags []string
	if req.Debug {
		flags = append(flags, "-g", "-cl-opt-disable")
	}
	if req.LineInfo {
		d.log.Debug("line info has no OpenCL equivalent, ignored")
	}
	if req.LanguageStandard != "" {
		d.log.Debug("language standard applies to CUDA only, ignored",
			zap.String("standard", req.LanguageStandard))
	}
	return flags
}
