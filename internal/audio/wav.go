package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	wavHeaderSize   = 44
	fmtChunkSize    = 16
	formatPCM       = 1
	riffSizeOverlap = 36
)

// ErrNotWAV is returned when a buffer does not start with a canonical PCM WAV header.
var ErrNotWAV = errors.New("not a PCM WAV file")

// Header describes a canonical 44-byte PCM WAV header.
type Header struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataSize   int
}

// NumFrames returns the number of sample frames in the data chunk.
func (h Header) NumFrames() int {
	frameSize := h.Channels * h.BitDepth / 8
	if frameSize == 0 {
		return 0
	}

	return h.DataSize / frameSize
}

// Duration returns the playing time of the data chunk.
func (h Header) Duration() time.Duration {
	if h.SampleRate == 0 {
		return 0
	}

	return time.Duration(h.NumFrames()) * time.Second / time.Duration(h.SampleRate)
}

// EncodeWAV applies the quality effects to samples in [-1, 1] and encodes them as a PCM WAV
// file. Mono samples are copied to every channel. Values outside [-1, 1] are clipped.
func EncodeWAV(samples []float64, quality Quality) ([]byte, error) {
	err := quality.Validate()
	if err != nil {
		return nil, err
	}

	processed := quality.ApplyEffects(samples)
	bytesPerSample := quality.BitDepth / 8
	dataSize := len(processed) * quality.Channels * bytesPerSample

	out := make([]byte, wavHeaderSize+dataSize)
	writeHeader(out[:wavHeaderSize], Header{
		SampleRate: quality.SampleRate,
		Channels:   quality.Channels,
		BitDepth:   quality.BitDepth,
		DataSize:   dataSize,
	})

	offset := wavHeaderSize

	for _, sample := range processed {
		clipped := math.Max(-1, math.Min(1, sample))

		for range quality.Channels {
			putSample(out[offset:offset+bytesPerSample], clipped, quality.BitDepth)
			offset += bytesPerSample
		}
	}

	return out, nil
}

// ReadHeader parses the canonical header written by EncodeWAV.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < wavHeaderSize ||
		string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Header{}, ErrNotWAV
	}

	if binary.LittleEndian.Uint16(data[20:22]) != formatPCM {
		return Header{}, fmt.Errorf("%w: format tag %d", ErrNotWAV, binary.LittleEndian.Uint16(data[20:22]))
	}

	return Header{
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		BitDepth:   int(binary.LittleEndian.Uint16(data[34:36])),
		DataSize:   int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

func writeHeader(dst []byte, header Header) {
	blockAlign := header.Channels * header.BitDepth / 8

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(riffSizeOverlap+header.DataSize))
	copy(dst[8:12], "WAVE")
	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(dst[20:22], formatPCM)
	binary.LittleEndian.PutUint16(dst[22:24], uint16(header.Channels))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(header.SampleRate))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(header.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(dst[34:36], uint16(header.BitDepth))
	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(header.DataSize))
}

// putSample quantizes one sample in [-1, 1]. 8-bit PCM is unsigned, wider depths are signed
// little-endian.
func putSample(dst []byte, sample float64, bitDepth int) {
	switch bitDepth {
	case BitDepth8:
		dst[0] = uint8(int(math.Round(sample*math.MaxInt8)) + 128)
	case BitDepth16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(math.Round(sample*math.MaxInt16))))
	case BitDepth24:
		value := int32(math.Round(sample * (1<<23 - 1)))
		dst[0] = byte(value)
		dst[1] = byte(value >> 8)
		dst[2] = byte(value >> 16)
	case BitDepth32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(math.Round(sample*math.MaxInt32))))
	}
}
