// Package audio turns resynthesized samples into PCM WAV files and applies the
// post-processing effects configured for the service.
package audio

import (
	"errors"
	"fmt"
	"math"
)

// Default quality settings for resynthesized speech.
const (
	DefaultBitDepth = 16
	DefaultChannels = 1
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Quality validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	MaxVolume     = 10.0

	// normalizePeak is the peak level reached by Normalize, just below full scale.
	normalizePeak = 0.99
)

// Error messages and formats.
const (
	errFmtSampleRateRange    = "%w: sample rate must be between 1 and %d Hz"
	errFmtBitDepthValues     = "%w: bit depth must be 8, 16, 24, or 32"
	errFmtChannelsRange      = "%w: channels must be between 1 and %d"
	errFmtFadeInNonNegative  = "%w: fade in must be non-negative"
	errFmtFadeOutNonNegative = "%w: fade out must be non-negative"
	errFmtVolumeRange        = "%w: volume must be between 0.0 and %.1f"
)

// ErrInvalidQuality is returned when quality settings are out of range.
var ErrInvalidQuality = errors.New("invalid quality settings")

// Quality holds the output format and the effects applied before encoding. FadeIn and
// FadeOut are durations in seconds.
type Quality struct {
	SampleRate int     `json:"sampleRate"`
	BitDepth   int     `json:"bitDepth"`
	Channels   int     `json:"channels"`
	Volume     float64 `json:"volume"`
	FadeIn     float64 `json:"fadeIn,omitempty"`
	FadeOut    float64 `json:"fadeOut,omitempty"`
	Normalize  bool    `json:"normalize"`
}

// NewDefaultQuality returns mono 16-bit output at sampleRate with no effects.
func NewDefaultQuality(sampleRate int) Quality {
	return Quality{
		SampleRate: sampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
		Volume:     1.0,
		FadeIn:     0,
		FadeOut:    0,
		Normalize:  false,
	}
}

// Validate checks if quality settings are within reasonable bounds.
func (q *Quality) Validate() error {
	audioParamsErr := q.validateAudioParams()
	if audioParamsErr != nil {
		return audioParamsErr
	}

	effectParamsErr := q.validateEffectParams()
	if effectParamsErr != nil {
		return effectParamsErr
	}

	return nil
}

// ApplyEffects returns a processed copy of samples: peak normalization, then volume, then
// linear fades at both ends. samples is left untouched.
func (q *Quality) ApplyEffects(samples []float64) []float64 {
	processed := make([]float64, len(samples))
	copy(processed, samples)

	if q.Normalize {
		normalize(processed)
	}

	if q.Volume != 1.0 {
		adjustVolume(processed, q.Volume)
	}

	if q.FadeIn > 0 {
		applyFadeIn(processed, fadeLength(q.FadeIn, q.SampleRate))
	}

	if q.FadeOut > 0 {
		applyFadeOut(processed, fadeLength(q.FadeOut, q.SampleRate))
	}

	return processed
}

func normalize(samples []float64) {
	peak := 0.0
	for _, sample := range samples {
		peak = math.Max(peak, math.Abs(sample))
	}

	if peak == 0 {
		return
	}

	adjustVolume(samples, normalizePeak/peak)
}

func adjustVolume(samples []float64, gain float64) {
	for i := range samples {
		samples[i] *= gain
	}
}

func fadeLength(seconds float64, sampleRate int) int {
	return int(math.Round(seconds * float64(sampleRate)))
}

func applyFadeIn(samples []float64, length int) {
	length = min(length, len(samples))

	for i := range length {
		samples[i] *= float64(i) / float64(length)
	}
}

func applyFadeOut(samples []float64, length int) {
	length = min(length, len(samples))
	offset := len(samples) - length

	for i := range length {
		samples[offset+i] *= float64(length-1-i) / float64(length)
	}
}

func (q *Quality) validateAudioParams() error {
	sampleRateErr := validateSampleRate(q.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(q.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(q.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

func (q *Quality) validateEffectParams() error {
	volumeErr := validateVolume(q.Volume)
	if volumeErr != nil {
		return volumeErr
	}

	if q.FadeIn < 0.0 {
		return fmt.Errorf(errFmtFadeInNonNegative, ErrInvalidQuality)
	}

	if q.FadeOut < 0.0 {
		return fmt.Errorf(errFmtFadeOutNonNegative, ErrInvalidQuality)
	}

	return nil
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels)
	}

	return nil
}

func validateVolume(volume float64) error {
	if volume < 0.0 || volume > MaxVolume || math.IsNaN(volume) {
		return fmt.Errorf(errFmtVolumeRange, ErrInvalidQuality, MaxVolume)
	}

	return nil
}
