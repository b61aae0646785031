// Package audio encodes synthesized waveforms as 16-bit PCM WAV.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/fileutil"
)

// WAV layout constants.
const (
	BitDepth      = 16
	NumChannels   = 1
	HeaderSize    = 44
	BytesPerFrame = BitDepth / 8 * NumChannels

	pcmFormat = 1

	negativeScale = 32768
	positiveScale = 32767
)

// Error messages.
const (
	errFmtInvalidSampleRate = "%w: sample rate must be positive, got %d"
	errFmtWriteSamples      = "failed to write samples: %w"
	errFmtFinalizeWAV       = "failed to finalize wav: %w"
)

var errInvalidWhence = errors.New("invalid whence")

// Duration returns the playback length in seconds of sampleCount samples.
func Duration(sampleCount, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	return float64(sampleCount) / float64(sampleRate)
}

// ToPCM16 converts one float sample to a signed 16-bit value. NaN becomes
// silence, values are clamped to [-1, 1], and negatives use the wider range.
func ToPCM16(sample float32) int16 {
	value := float64(sample)

	switch {
	case math.IsNaN(value):
		return 0
	case value > 1:
		value = 1
	case value < -1:
		value = -1
	}

	if value < 0 {
		return int16(math.Round(value * negativeScale))
	}

	return int16(math.Round(value * positiveScale))
}

// EncodeWAV returns a complete mono 16-bit WAV file for samples.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	buffer := &memoryFile{}

	err := EncodeTo(buffer, samples, sampleRate)
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

// EncodeTo writes a WAV file to w. The header sizes are patched after the
// samples are written, so w must be seekable.
func EncodeTo(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf(errFmtInvalidSampleRate, core.ErrInvalidInput, sampleRate)
	}

	data := make([]int, len(samples))
	for i, sample := range samples {
		data[i] = int(ToPCM16(sample))
	}

	encoder := wav.NewEncoder(w, sampleRate, BitDepth, NumChannels, pcmFormat)

	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: NumChannels},
		SourceBitDepth: BitDepth,
	}

	// An empty buffer still makes the encoder emit its header.
	writeErr := encoder.Write(buf)
	if writeErr != nil {
		return fmt.Errorf(errFmtWriteSamples, writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return fmt.Errorf(errFmtFinalizeWAV, closeErr)
	}

	return nil
}

// SaveWAV writes samples to path as a WAV file, creating parent directories.
func SaveWAV(path string, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf(errFmtInvalidSampleRate, core.ErrInvalidInput, sampleRate)
	}

	mkdirErr := fileutil.EnsureDir(filepath.Dir(path))
	if mkdirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", mkdirErr)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}

	encodeErr := EncodeTo(file, samples, sampleRate)

	closeErr := file.Close()
	if encodeErr != nil {
		return encodeErr
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close wav file: %w", closeErr)
	}

	return nil
}

// memoryFile is an in-memory io.WriteSeeker.
type memoryFile struct {
	data []byte
	pos  int
}

func (m *memoryFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}

	copy(m.data[m.pos:end], p)
	m.pos = end

	return len(p), nil
}

func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(m.pos)
	case io.SeekEnd:
		base = int64(len(m.data))
	default:
		return 0, errInvalidWhence
	}

	position := base + offset
	if position < 0 {
		return 0, fmt.Errorf("%w: negative position %d", errInvalidWhence, position)
	}

	m.pos = int(position)

	return position, nil
}

func (m *memoryFile) Bytes() []byte {
	return m.data
}
