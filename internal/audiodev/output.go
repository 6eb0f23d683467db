// Package audiodev plays mono float32 audio on the default output device.
package audiodev

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate      = 48000
	DefaultFramesPerPeriod = 1024
)

// FillFunc produces the next len(out) samples. It is called on the audio
// thread and must not block.
type FillFunc func(out []float32)

// Config configures an Output.
type Config struct {
	SampleRate      int
	FramesPerPeriod int
	Logger          zerolog.Logger
}

// Output is a mono float32 playback device.
type Output struct {
	cfg    Config
	fill   FillFunc
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	scratch []float32
	running bool
}

// NewOutput prepares an Output that pulls audio from fill.
func NewOutput(cfg Config, fill FillFunc) *Output {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FramesPerPeriod <= 0 {
		cfg.FramesPerPeriod = DefaultFramesPerPeriod
	}
	return &Output{
		cfg:     cfg,
		fill:    fill,
		logger:  cfg.Logger.With().Str("component", "audiodev").Logger(),
		scratch: make([]float32, cfg.FramesPerPeriod),
	}
}

// SampleRate reports the device rate.
func (o *Output) SampleRate() int { return o.cfg.SampleRate }

// Start opens the default playback device and starts pulling audio.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("output is already running")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		o.logger.Debug().Str("backend", message).Msg("malgo")
	})
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(o.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(o.cfg.FramesPerPeriod)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			o.scratch = render(pOutput, o.scratch, frameCount, o.fill)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	o.ctx = mctx
	o.device = device
	o.running = true
	o.logger.Debug().
		Int("sample_rate", o.cfg.SampleRate).
		Int("frames", o.cfg.FramesPerPeriod).
		Msg("playback started")
	return nil
}

// Close stops the device and releases it.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil
	}
	o.running = false

	var stopErr error
	if err := o.device.Stop(); err != nil {
		stopErr = fmt.Errorf("failed to stop playback device: %w", err)
	}
	o.device.Uninit()
	_ = o.ctx.Uninit()
	o.ctx.Free()
	return stopErr
}

// render fills dst, a little-endian float32 device buffer of frames samples,
// from fill. scratch is reused between calls and returned possibly grown.
func render(dst []byte, scratch []float32, frames uint32, fill FillFunc) []float32 {
	n := min(int(frames), len(dst)/4)
	if cap(scratch) < n {
		scratch = make([]float32, n)
	}
	samples := scratch[:n]
	fill(samples)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
	return scratch
}
