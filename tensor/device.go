package tensor

import "fmt"

// Device identifies where a tensor or model resides.
type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return fmt.Sprintf("Device(%d)", int(d))
	}
}

// IsAccelerator reports whether the device is anything other than the host CPU.
func (d Device) IsAccelerator() bool {
	return d != CPU
}
