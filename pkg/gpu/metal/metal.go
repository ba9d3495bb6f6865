package metal

import "errors"

// BackendName is reported in DeviceInfo.Backend.
const BackendName = "metal"

// Errors
var (
	ErrMetalNotAvailable = errors.New("metal: Metal is not available on this system")
	ErrDeviceCreation    = errors.New("metal: failed to create Metal device")
	ErrBufferCreation    = errors.New("metal: failed to create buffer")
	ErrKernelExecution   = errors.New("metal: kernel execution failed")
)
