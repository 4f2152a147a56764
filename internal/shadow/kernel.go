// Package shadow precomputes the Gaussian convolution kernel used to render
// drop shadows and builds the desktop root background tile. Kernel math runs in float32 via
// github.com/chewxy/math32; the preprocess/paint packages themselves work
// in float64.
package shadow

import (
	"github.com/chewxy/math32"
)

// Kernel is a square, normalized Gaussian convolution kernel sized
// (2*radius+1)^2.
type Kernel struct {
	Radius int
	Values []float32 // row-major, length (2*Radius+1)^2
}

// Size returns the kernel's edge length.
func (k *Kernel) Size() int { return 2*k.Radius + 1 }

// At returns the weight at kernel-local (x, y), x,y in [0, Size()).
func (k *Kernel) At(x, y int) float32 {
	return k.Values[y*k.Size()+x]
}

// NewGaussian builds a normalized 2-D Gaussian kernel for the given radius
// and standard deviation. A sigma <= 0 derives a reasonable default from the
// radius, the same heuristic reference compositors of this family use
// (sigma ~= radius/2).
func NewGaussian(radius int, sigma float32) *Kernel {
	if radius < 1 {
		radius = 1
	}
	if sigma <= 0 {
		sigma = float32(radius) / 2
	}

	size := 2*radius + 1
	values := make([]float32, size*size)

	var sum float32
	twoSigmaSq := 2 * sigma * sigma
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			d := float32(x*x + y*y)
			v := math32.Exp(-d / twoSigmaSq)
			values[(y+radius)*size+(x+radius)] = v
			sum += v
		}
	}
	if sum > 0 {
		for i := range values {
			values[i] /= sum
		}
	}

	return &Kernel{Radius: radius, Values: values}
}

// CenterWeight computes the background-blur center-weight adjustment:
// `8*p/(1.1-p)` where `p = 1 - opacity*(1-1/9)`, the value that replaces the
// kernel's own center tap when blur_background_fixed is unset. No code outside
// this package's tests calls it.
func CenterWeight(opacity float64) float32 {
	p := float32(1 - opacity*(1-1.0/9.0))
	denom := float32(1.1) - p
	if denom == 0 {
		denom = 1e-6
	}
	return 8 * p / denom
}
