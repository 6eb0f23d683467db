package pcm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAppendFloat32LEWireBytes(t *testing.T) {
	got := AppendFloat32LE(nil, []int16{32767, 0, -32767})
	require.Len(t, got, 12)

	// 1.0, 0.0 and -1.0 as IEEE-754 little endian.
	want := []byte{
		0x00, 0x00, 0x80, 0x3f,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x80, 0xbf,
	}
	assert.Equal(t, want, got)
}

func TestNormalizeRange(t *testing.T) {
	assert.Equal(t, float32(1), Normalize(32767))
	assert.Less(t, Normalize(-32768), float32(-1))
	assert.Equal(t, float32(0), Normalize(0))
}

func TestAlignerCarriesSplitSamples(t *testing.T) {
	wire := AppendFloat32LE(nil, []int16{32767, -32767, 16384})

	var a Aligner
	var got []float32
	got = append(got, a.Feed(wire[:5])...) // one sample plus one byte
	assert.Equal(t, 1, a.Pending())
	got = append(got, a.Feed(wire[5:6])...)
	assert.Equal(t, 2, a.Pending())
	got = append(got, a.Feed(wire[6:])...)
	assert.Equal(t, 0, a.Pending())

	require.Len(t, got, 3)
	assert.Equal(t, float32(1), got[0])
	assert.Equal(t, float32(-1), got[1])
	assert.InDelta(t, 0.5, got[2], 1e-4)
}

func TestAlignerRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOf(rapid.Int16()).Draw(t, "samples")
		wire := AppendFloat32LE(nil, samples)

		var a Aligner
		var got []float32
		for len(wire) > 0 {
			n := rapid.IntRange(1, 11).Draw(t, "read")
			if n > len(wire) {
				n = len(wire)
			}
			got = append(got, a.Feed(wire[:n])...)
			wire = wire[n:]
		}

		if a.Pending() != 0 {
			t.Fatalf("bytes left pending at end of aligned stream: %d", a.Pending())
		}
		if len(got) != len(samples) {
			t.Fatalf("got %d samples, want %d", len(got), len(samples))
		}
		for i, s := range samples {
			if got[i] != Normalize(s) {
				t.Fatalf("sample %d: got %v want %v", i, got[i], Normalize(s))
			}
		}
	})
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}

	out, err := Resample(in, 24000, 48000)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -1}, out)

	same, err := Resample(in, 24000, 24000)
	require.NoError(t, err)
	assert.Equal(t, in, same)

	_, err = Resample(in, 0, 48000)
	assert.Error(t, err)

	_, err = Resample([]float32{float32(math.NaN())}, 24000, 48000)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestResampleLengthProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 4096).Draw(t, "n")
		from := rapid.SampledFrom([]int{8000, 16000, 22050, 24000, 44100, 48000}).Draw(t, "from")
		to := rapid.SampledFrom([]int{8000, 16000, 22050, 24000, 44100, 48000}).Draw(t, "to")

		out, err := Resample(make([]float32, n), from, to)
		if err != nil {
			t.Fatal(err)
		}
		want := n * to / from
		if from == to {
			want = n
		}
		if len(out) != want {
			t.Fatalf("len %d, want %d", len(out), want)
		}
	})
}

func TestWAVBytes(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}

	data, err := WAVBytes(24000, samples)
	require.NoError(t, err)
	require.Greater(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(24000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	require.Len(t, buf.Data, len(samples))
	for i, s := range samples {
		assert.Equal(t, int(s), buf.Data[i])
	}
}

func TestWAVBytesRejectsBadRate(t *testing.T) {
	_, err := WAVBytes(0, []int16{1})
	assert.Error(t, err)
}

func TestDecodeWAV(t *testing.T) {
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(i % 200)
	}
	data, err := WAVBytes(16000, samples)
	require.NoError(t, err)

	rate, got, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, got)

	d, err := WAVDuration(data)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)

	_, _, err = DecodeWAV([]byte("definitely not a wav file, just text"))
	assert.Error(t, err)
}
