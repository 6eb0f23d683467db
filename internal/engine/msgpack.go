package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// initRequest is sent to /v1/init once at startup.
type initRequest struct {
	ModelDir             string  `msgpack:"model_dir"`
	GPUMemoryUtilization float64 `msgpack:"gpu_memory_utilization"`
}

// inferRequest is the body of /v1/infer and /v1/infer/stream.
type inferRequest struct {
	Text       string   `msgpack:"text"`
	AudioPaths []string `msgpack:"audio_paths,omitempty"`
	Character  string   `msgpack:"character,omitempty"`
}

// characterRequest is the body of /v1/characters.
type characterRequest struct {
	Character  string   `msgpack:"character"`
	AudioPaths []string `msgpack:"audio_paths"`
}

// audioFrame is one message of the sidecar response. Batch responses carry a
// single frame; streaming responses are a sequence of frames on one body.
// PCM holds little-endian int16 samples.
type audioFrame struct {
	SampleRate int    `msgpack:"sample_rate"`
	PCM        []byte `msgpack:"pcm"`
	Error      string `msgpack:"error,omitempty"`
	Code       string `msgpack:"code,omitempty"`
}

const frameCodeUnknownCharacter = "unknown_character"

// EncodeMsgpack encodes a value to MessagePack format.
func EncodeMsgpack(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeMsgpack decodes MessagePack data into the provided value.
func DecodeMsgpack(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// chunk converts a frame into an AudioChunk, surfacing in-band errors.
func (f *audioFrame) chunk() (AudioChunk, error) {
	if f.Error != "" {
		if f.Code == frameCodeUnknownCharacter {
			return AudioChunk{}, fmt.Errorf("%w: %s", ErrUnknownCharacter, f.Error)
		}
		return AudioChunk{}, &BackendError{Message: f.Error}
	}
	if f.SampleRate <= 0 {
		return AudioChunk{}, errors.New("frame is missing sample_rate")
	}
	if len(f.PCM)%2 != 0 {
		return AudioChunk{}, fmt.Errorf("frame pcm has odd length %d", len(f.PCM))
	}
	samples := make([]int16, len(f.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(f.PCM[2*i:]))
	}
	return AudioChunk{SampleRate: f.SampleRate, Samples: samples}, nil
}
