package pme

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/phil-mansfield/polarize/geom"
)

// fft3 performs unnormalized 3D complex transforms as 1D passes along each
// axis of a geom.Grid-ordered mesh.
type fft3 struct {
	g       *geom.Grid
	plans   [3]*fourier.CmplxFFT
	in, out [3][]complex128
}

func newFFT3(g *geom.Grid) *fft3 {
	f := &fft3{g: g}
	for d := 0; d < 3; d++ {
		f.plans[d] = fourier.NewCmplxFFT(g.Width[d])
		f.in[d] = make([]complex128, g.Width[d])
		f.out[d] = make([]complex128, g.Width[d])
	}
	return f
}

// Forward replaces data with sum_k data(k) exp(-2 pi i m.k/K).
func (f *fft3) Forward(data []complex128) { f.transform(data, false) }

// Backward replaces data with sum_m data(m) exp(+2 pi i m.k/K).
func (f *fft3) Backward(data []complex128) { f.transform(data, true) }

func (f *fft3) transform(data []complex128, inverse bool) {
	w := f.g.Width
	for d := 0; d < 3; d++ {
		// The other two axes, in grid order.
		d1, d2 := (d+1)%3, (d+2)%3
		in, out := f.in[d], f.out[d]

		for i1 := 0; i1 < w[d1]; i1++ {
			for i2 := 0; i2 < w[d2]; i2++ {
				var c [3]int
				c[d1], c[d2] = i1, i2

				for k := 0; k < w[d]; k++ {
					c[d] = k
					in[k] = data[f.g.Idx(c[0], c[1], c[2])]
				}
				if inverse {
					f.plans[d].Sequence(out, in)
				} else {
					f.plans[d].Coefficients(out, in)
				}
				for k := 0; k < w[d]; k++ {
					c[d] = k
					data[f.g.Idx(c[0], c[1], c[2])] = out[k]
				}
			}
		}
	}
}
