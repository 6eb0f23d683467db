package pcm

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite is returned when a block holds NaN or infinite samples, which
// usually means the stream was decoded at the wrong byte offset.
var ErrNonFinite = errors.New("pcm: non-finite sample")

// Resample converts one block from rate from to rate to by linear
// interpolation. The output holds floor(len(in) * to / from) samples. Equal
// rates return in unchanged.
func Resample(in []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("pcm: invalid sample rates %d -> %d", from, to)
	}
	for _, v := range in {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, ErrNonFinite
		}
	}
	if from == to || len(in) == 0 {
		return in, nil
	}

	outLen := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, outLen)
	step := float64(from) / float64(to)
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + frac*(in[idx+1]-in[idx])
	}
	return out, nil
}
