package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVOpener treats the device selector as a path to a 16-bit mono WAV file.
// It lets recorded audio run through the same pipeline as a live microphone.
type WAVOpener struct{}

func (WAVOpener) Open(ctx context.Context, path string, format Format) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return OpenWAV(path, format.FrameLength)
}

// FileSource reads fixed-size frames from a WAV file. A trailing partial frame
// is zero padded. ReadFrame returns io.EOF once the data chunk is exhausted.
type FileSource struct {
	f      *os.File
	dec    *wav.Decoder
	format Format

	buf   *goaudio.IntBuffer
	frame []int16

	closeOnce sync.Once
	closeErr  error
	done      bool
}

// OpenWAV opens path and validates it is 16-bit mono PCM.
func OpenWAV(path string, frameLength int) (*FileSource, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DeviceError{Device: path, Err: err}
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, &DeviceError{Device: path, Err: fmt.Errorf("not a valid WAV file")}
	}
	if dec.NumChans != 1 || dec.BitDepth != 16 {
		f.Close()
		return nil, &DeviceError{
			Device: path,
			Err:    fmt.Errorf("need 16-bit mono PCM, got %d-bit %d channel(s)", dec.BitDepth, dec.NumChans),
		}
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, &DeviceError{Device: path, Err: fmt.Errorf("seek to PCM data: %w", err)}
	}

	sampleRate := int(dec.SampleRate)
	return &FileSource{
		f:   f,
		dec: dec,
		format: Format{
			SampleRate:  sampleRate,
			FrameLength: frameLength,
			Channels:    1,
		},
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, frameLength),
			SourceBitDepth: 16,
		},
		frame: make([]int16, frameLength),
	}, nil
}

func (s *FileSource) Format() Format {
	return s.format
}

func (s *FileSource) ReadFrame() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: %w", ErrRead, err)
		}
		s.done = true
	}
	if n == 0 {
		s.done = true
		return Frame{}, io.EOF
	}

	for i := 0; i < n; i++ {
		s.frame[i] = int16(s.buf.Data[i])
	}
	for i := n; i < len(s.frame); i++ {
		s.frame[i] = 0
	}
	if n < len(s.frame) {
		s.done = true
	}

	return Frame{Samples: s.frame, SampleRate: s.format.SampleRate}, nil
}

func (s *FileSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.f.Close()
	})
	return s.closeErr
}

// WriteWAV encodes mono 16-bit samples as a WAV stream.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path, replacing any existing file.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
