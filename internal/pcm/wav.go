package pcm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// EncodeWAV writes samples as a 16-bit mono PCM RIFF/WAV file.
func EncodeWAV(w io.WriteSeeker, sampleRate int, samples []int16) error {
	if sampleRate <= 0 {
		return fmt.Errorf("pcm: invalid sample rate %d", sampleRate)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("pcm: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("pcm: finalize wav: %w", err)
	}
	return nil
}

// WAVBytes returns samples encoded as an in-memory WAV file.
func WAVBytes(sampleRate int, samples []int16) ([]byte, error) {
	var ws writeSeeker
	if err := EncodeWAV(&ws, sampleRate, samples); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once the data length is known.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("pcm: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("pcm: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}

// DecodeWAV parses a 16-bit mono PCM WAV file.
func DecodeWAV(data []byte) (sampleRate int, samples []int16, err error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, nil, errors.New("pcm: not a valid wav file")
	}
	if dec.BitDepth != 16 || dec.NumChans != 1 {
		return 0, nil, fmt.Errorf("pcm: unsupported wav layout: %d-bit, %d channels", dec.BitDepth, dec.NumChans)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, nil, fmt.Errorf("pcm: read wav: %w", err)
	}
	samples = make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return int(dec.SampleRate), samples, nil
}

// WAVDuration reports the playback length of a WAV file.
func WAVDuration(data []byte) (time.Duration, error) {
	rate, samples, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	return time.Duration(len(samples)) * time.Second / time.Duration(rate), nil
}
