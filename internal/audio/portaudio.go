package audio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudio opens capture streams through the PortAudio library. The library
// is initialised once by NewPortAudio and released by Close.
type PortAudio struct {
	log zerolog.Logger

	mu         sync.Mutex
	terminated bool
}

// NewPortAudio initialises PortAudio.
func NewPortAudio(log zerolog.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %w", ErrDeviceUnavailable, err)
	}
	return &PortAudio{log: log.With().Str("component", "portaudio").Logger()}, nil
}

// Open starts a blocking input stream on the selected device. device is empty
// for the system default, "#N" for the N-th input-capable device as returned
// by ListDevices, or a device name.
func (p *PortAudio) Open(ctx context.Context, device string, format Format) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()
	if terminated {
		return nil, &DeviceError{Device: device, Err: errors.New("portaudio terminated")}
	}

	info, err := p.findDevice(device)
	if err != nil {
		return nil, &DeviceError{Device: device, Err: err}
	}
	if info.MaxInputChannels < 1 {
		return nil, &DeviceError{Device: device, Err: fmt.Errorf("%s has no input channels", info.Name)}
	}

	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > info.MaxInputChannels {
		channels = info.MaxInputChannels
	}

	src := &portAudioSource{
		log:      p.log,
		format:   Format{SampleRate: format.SampleRate, FrameLength: format.FrameLength, Channels: 1},
		channels: channels,
		raw:      make([]int16, format.FrameLength*channels),
		frame:    make([]int16, format.FrameLength),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.FrameLength,
	}, src.raw)
	if err != nil {
		return nil, &DeviceError{Device: device, Err: fmt.Errorf("failed to open audio stream: %w", err)}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &DeviceError{Device: device, Err: fmt.Errorf("failed to start audio stream: %w", err)}
	}
	src.stream = stream

	p.log.Info().
		Str("device", info.Name).
		Int("sample_rate", format.SampleRate).
		Int("frame_length", format.FrameLength).
		Int("device_channels", channels).
		Msg("Audio stream opened")

	return src, nil
}

func (p *PortAudio) findDevice(selector string) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	if strings.HasPrefix(selector, "#") {
		idx, err := strconv.Atoi(selector[1:])
		if err != nil {
			return nil, fmt.Errorf("bad device index %q: %w", selector, err)
		}
		inputs := inputDevices(devices)
		if idx < 0 || idx >= len(inputs) {
			return nil, fmt.Errorf("device index %d out of range (%d input devices)", idx, len(inputs))
		}
		return inputs[idx], nil
	}

	for _, d := range devices {
		if d.Name == selector {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", selector)
}

func inputDevices(devices []*portaudio.DeviceInfo) []*portaudio.DeviceInfo {
	out := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

// ListDevices returns the input-capable devices in PortAudio order.
func (p *PortAudio) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()
	inputs := inputDevices(devices)
	result := make([]Device, 0, len(inputs))

	for _, d := range inputs {
		result = append(result, Device{
			ID:                d.Name,
			Name:              d.Name,
			Default:           d == defaultDevice,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		})
	}

	return result, nil
}

// Close terminates PortAudio. Open Sources must be closed first.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return nil
	}
	p.terminated = true
	return portaudio.Terminate()
}

type portAudioSource struct {
	log      zerolog.Logger
	stream   *portaudio.Stream
	format   Format
	channels int

	raw   []int16 // interleaved device buffer
	frame []int16 // mono frame handed out by ReadFrame

	overflows atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *portAudioSource) Format() Format {
	return s.format
}

func (s *portAudioSource) ReadFrame() (Frame, error) {
	if s.closed.Load() {
		return Frame{}, fmt.Errorf("%w: %w", ErrRead, ErrClosed)
	}

	if err := s.stream.Read(); err != nil {
		// The buffer is still filled on overflow; the device just dropped
		// samples while nobody was reading.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return Frame{}, fmt.Errorf("%w: %w", ErrRead, err)
		}
		if n := s.overflows.Add(1); n == 1 || n%100 == 0 {
			s.log.Debug().Uint64("overflows", n).Msg("Input overflowed")
		}
	}

	samples := s.raw
	if s.channels > 1 {
		samples = downmixInterleaved(s.frame, s.raw, s.channels)
	}

	return Frame{Samples: samples, SampleRate: s.format.SampleRate}, nil
}

func (s *portAudioSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stream == nil {
			return
		}
		if err := s.stream.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("Stream stop")
		}
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

// downmixInterleaved averages interleaved channels into dst, which must hold
// len(src)/channels samples. It returns dst.
func downmixInterleaved(dst, src []int16, channels int) []int16 {
	frames := len(src) / channels
	dst = dst[:frames]
	for i := 0; i < frames; i++ {
		var sum int32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += int32(src[base+ch])
		}
		dst[i] = int16(sum / int32(channels))
	}
	return dst
}
