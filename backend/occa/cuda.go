package occa

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/kernelrunner/backend"
)

// CUDA drives an NVIDIA device through OCCA's CUDA mode
type CUDA struct {
	core
}

var _ backend.Driver = (*CUDA)(nil)

func (d *CUDA) Convention() backend.Convention { return backend.Sentinel }

func (d *CUDA) SourceSuffix() string { return "cu" }

// DefaultIncludeDirs returns the toolkit's include directory, located from
// CUDA_HOME, then CUDA_PATH, then /usr/local/cuda
func (d *CUDA) DefaultIncludeDirs() []string {
	roots := []string{os.Getenv("CUDA_HOME"), os.Getenv("CUDA_PATH"), "/usr/local/cuda"}
	for _, root := range roots {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, "include")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return []string{dir}
		}
	}
	return nil
}

func (d *CUDA) deviceProps(_, device int) string {
	return fmt.Sprintf(`{"mode": "CUDA", "device_id": %d}`, device)
}

func (d *CUDA) compilerFlags(req backend.CompileRequest) []string {
	var flags []string
	if req.Debug {
		flags = append(flags, "-G")
	}
	if req.LineInfo {
		flags = append(flags, "-lineinfo")
	}
	if req.LanguageStandard != "" {
		flags = append(flags, "-std="+strings.ToLower(req.LanguageStandard))
	}
	return flags
}
