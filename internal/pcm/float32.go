// Package pcm converts between engine samples and the wire and file formats
// the service speaks.
package pcm

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the size of one float32 sample on the stream wire.
const BytesPerSample = 4

// Format is the sample format announced for live streams.
const Format = "f32le"

// Normalize maps a 16-bit sample onto [-1, 1] using the 32767 divisor, so
// -32768 lands slightly below -1.
func Normalize(s int16) float32 {
	return float32(s) / 32767
}

// AppendFloat32LE appends samples as normalized little-endian float32 values.
func AppendFloat32LE(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(Normalize(s)))
	}
	return dst
}

// DecodeFloat32LE appends the float32 values in p to dst. len(p) must be a
// multiple of BytesPerSample; trailing bytes are ignored.
func DecodeFloat32LE(dst []float32, p []byte) []float32 {
	for len(p) >= BytesPerSample {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(p)))
		p = p[BytesPerSample:]
	}
	return dst
}
