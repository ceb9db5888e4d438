// Package native is a minimal CPU reference runtime implementing the
// collaborator contracts in the tensor package: a dense float32 tensor, a
// linear model with analytic gradients, an SGD optimizer, an MSE loss
// wrapper, evaluators and a JSON codec. It exists to exercise the
// orchestration layer end to end, not to be a tensor library.
package native

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"

	"github.com/gantryml/gantry/tensor"
)

// useFMA selects the fused multiply-accumulate dot-product path on hosts
// that support it.
var useFMA = cpuid.CPU.Supports(cpuid.FMA3)

// Probe verifies that a device is usable on this host. The native runtime
// executes on the CPU only, so any accelerator request fails fast.
func Probe(device tensor.Device) error {
	switch device {
	case tensor.CPU:
		return nil
	case tensor.GPU:
		return fmt.Errorf("no GPU available: native runtime is CPU-only (host: %s)", cpuid.CPU.BrandName)
	default:
		return fmt.Errorf("unknown device %s", device)
	}
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float32
	if useFMA {
		var s0, s1, s2, s3 float32
		i := 0
		for ; i+4 <= len(a); i += 4 {
			s0 += a[i] * b[i]
			s1 += a[i+1] * b[i+1]
			s2 += a[i+2] * b[i+2]
			s3 += a[i+3] * b[i+3]
		}
		sum = s0 + s1 + s2 + s3
		for ; i < len(a); i++ {
			sum += a[i] * b[i]
		}
		return sum
	}
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
