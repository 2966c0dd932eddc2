package utils

import (
	"github.com/notargets/gocca"
	"github.com/notargets/kernelrunner/backend"
)

// CreateTestDevice reports the first ecosystem with a usable device 0,
// trying CUDA then OpenCL. Tests skip when ok is false.
func CreateTestDevice() (eco backend.Ecosystem, ok bool) {
	candidates := []struct {
		eco   backend.Ecosystem
		props string
	}{
		{backend.CUDA, `{"mode": "CUDA", "device_id": 0}`},
		{backend.OpenCL, `{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`},
	}

	for _, c := range candidates {
		device, err := gocca.NewDevice(c.props)
		if err != nil {
			continue
		}
		mode := device.Mode()
		device.Free()
		if mode == c.eco.String() {
			return c.eco, true
		}
	}
	return 0, false
}
