// Package audio_test tests WAV encoding and the output effects.
package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/book-expert/voice-model-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 16000

func TestQuality_Validate(t *testing.T) {
	t.Parallel()

	valid := audio.NewDefaultQuality(testSampleRate)
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		modify func(q *audio.Quality)
	}{
		{name: "zero sample rate", modify: func(q *audio.Quality) { q.SampleRate = 0 }},
		{name: "sample rate too high", modify: func(q *audio.Quality) { q.SampleRate = audio.MaxSampleRate + 1 }},
		{name: "bit depth", modify: func(q *audio.Quality) { q.BitDepth = 12 }},
		{name: "channels", modify: func(q *audio.Quality) { q.Channels = 0 }},
		{name: "volume", modify: func(q *audio.Quality) { q.Volume = audio.MaxVolume + 1 }},
		{name: "fade in", modify: func(q *audio.Quality) { q.FadeIn = -1 }},
		{name: "fade out", modify: func(q *audio.Quality) { q.FadeOut = -0.5 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			quality := audio.NewDefaultQuality(testSampleRate)
			tc.modify(&quality)
			require.ErrorIs(t, quality.Validate(), audio.ErrInvalidQuality)
		})
	}
}

func TestApplyEffects(t *testing.T) {
	t.Parallel()

	samples := []float64{0.5, -0.25, 0.25, 0.5}

	quality := audio.NewDefaultQuality(4)
	quality.Normalize = true
	quality.Volume = 0.5

	processed := quality.ApplyEffects(samples)
	assert.InDeltaSlice(t, []float64{0.495, -0.2475, 0.2475, 0.495}, processed, 1e-12)
	assert.Equal(t, []float64{0.5, -0.25, 0.25, 0.5}, samples, "input must not be modified")

	fades := audio.NewDefaultQuality(4)
	fades.FadeIn = 0.5
	fades.FadeOut = 0.5

	faded := fades.ApplyEffects([]float64{1, 1, 1, 1})
	assert.InDeltaSlice(t, []float64{0, 0.5, 0.5, 0}, faded, 1e-12)

	silent := audio.NewDefaultQuality(testSampleRate)
	silent.Normalize = true
	assert.Equal(t, []float64{0, 0}, silent.ApplyEffects([]float64{0, 0}))
}

func TestEncodeWAV_16Bit(t *testing.T) {
	t.Parallel()

	data, err := audio.EncodeWAV([]float64{0, 1, -1, 2, 0.5}, audio.NewDefaultQuality(testSampleRate))
	require.NoError(t, err)
	require.Len(t, data, 44+10)

	header, err := audio.ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, audio.Header{SampleRate: testSampleRate, Channels: 1, BitDepth: 16, DataSize: 10}, header)
	assert.Equal(t, 5, header.NumFrames())

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(36+10), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(testSampleRate*2), binary.LittleEndian.Uint32(data[28:32]))

	pcm := data[44:]
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(pcm[0:2])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[2:4])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(pcm[4:6])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(pcm[6:8])), "clipped")
	assert.Equal(t, int16(16384), int16(binary.LittleEndian.Uint16(pcm[8:10])))
}

func TestEncodeWAV_OtherDepthsAndChannels(t *testing.T) {
	t.Parallel()

	quality := audio.NewDefaultQuality(8000)
	quality.BitDepth = audio.BitDepth8
	quality.Channels = 2

	data, err := audio.EncodeWAV([]float64{0, 1}, quality)
	require.NoError(t, err)
	assert.Equal(t, []byte{128, 128, 255, 255}, data[44:])

	quality.BitDepth = audio.BitDepth24
	quality.Channels = 1

	data, err = audio.EncodeWAV([]float64{-1}, quality)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x80}, data[44:])

	header, err := audio.ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, 24, header.BitDepth)
}

func TestEncodeWAV_Errors(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV([]float64{0}, audio.NewDefaultQuality(0))
	require.ErrorIs(t, err, audio.ErrInvalidQuality)

	_, err = audio.ReadHeader([]byte("RIFF....WAVE"))
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestHeader_Duration(t *testing.T) {
	t.Parallel()

	header := audio.Header{SampleRate: 16000, Channels: 1, BitDepth: 16, DataSize: 32000}
	assert.Equal(t, time.Second, header.Duration())
	assert.Zero(t, audio.Header{}.Duration())
}
