// Package hnm holds the harmonic-plus-noise model of a speech signal and resynthesizes its
// harmonic part.
package hnm

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedSignal is returned for signals that violate the frame model, such as frames
// out of time order or a voiced frame without an envelope.
var ErrMalformedSignal = errors.New("hnm: malformed speech signal")

// MaxSignalSamples bounds the length of a signal in samples, about eleven minutes at
// 192 kHz. Longer signals and frames past this bound are rejected as malformed.
const MaxSignalSamples = 1 << 27

// HarmonicPart is the voiced component of one frame. F0Hz <= 0 marks an unvoiced
// placeholder. Phases holds one phase in radians per harmonic, starting with the
// fundamental.
type HarmonicPart struct {
	F0Hz   float64   `json:"f0Hz"`
	Ceps   []float64 `json:"ceps,omitempty"`
	Phases []float64 `json:"phases,omitempty"`
}

// NumHarmonics returns the number of harmonics with a phase.
func (h HarmonicPart) NumHarmonics() int {
	return len(h.Phases)
}

// NoisePart is the noise model of a frame. Resynthesis of the harmonic part does not use
// it; the concrete variants exist so signals survive a round trip through storage.
type NoisePart interface {
	noiseKind() string
}

// LPCNoise models the noise band with linear prediction coefficients and a gain.
type LPCNoise struct {
	Coeffs []float64 `json:"coeffs"`
	Gain   float64   `json:"gain"`
}

func (LPCNoise) noiseKind() string { return noiseKindLPC }

// PseudoHarmonicNoise models the noise band with a cepstral envelope sampled at
// pseudo-harmonic frequencies.
type PseudoHarmonicNoise struct {
	Ceps []float64 `json:"ceps"`
}

func (PseudoHarmonicNoise) noiseKind() string { return noiseKindPseudoHarmonic }

// SpeechFrame is one analysis frame. MaxVoicingHz of 0 marks an entirely unvoiced frame.
type SpeechFrame struct {
	Harmonic     HarmonicPart
	Noise        NoisePart
	MaxVoicingHz float64
	AnalysisTime float64
}

// IsVoiced reports whether the frame carries harmonics to synthesize.
func (f *SpeechFrame) IsVoiced() bool {
	return f.MaxVoicingHz > 0 && f.Harmonic.F0Hz > 0 && len(f.Harmonic.Phases) > 0
}

// SpeechSignal is an analyzed utterance: frames ordered by analysis time plus the
// parameters needed to resynthesize it. Times and durations are in seconds.
type SpeechSignal struct {
	Frames              []SpeechFrame
	SamplingRateHz      int
	OriginalDuration    float64
	NoiseWindowDuration float64
	NoisePreemphasis    float64
}

// NumSamples returns the original duration in samples.
func (s *SpeechSignal) NumSamples() int {
	return timeToSample(s.OriginalDuration, s.SamplingRateHz)
}

// Validate checks the signal before resynthesis. Every failure wraps ErrMalformedSignal and
// names the offending frame.
func (s *SpeechSignal) Validate() error {
	if s.SamplingRateHz <= 0 {
		return fmt.Errorf("%w: sampling rate %d Hz", ErrMalformedSignal, s.SamplingRateHz)
	}

	if s.OriginalDuration < 0 || !isFinite(s.OriginalDuration) {
		return fmt.Errorf("%w: duration %g s", ErrMalformedSignal, s.OriginalDuration)
	}

	if s.OriginalDuration*float64(s.SamplingRateHz) > MaxSignalSamples {
		return fmt.Errorf("%w: duration %g s at %d Hz exceeds %d samples",
			ErrMalformedSignal, s.OriginalDuration, s.SamplingRateHz, MaxSignalSamples)
	}

	for index := range s.Frames {
		err := s.validateFrame(index)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *SpeechSignal) validateFrame(index int) error {
	frame := &s.Frames[index]

	switch {
	case !isFinite(frame.AnalysisTime) || frame.AnalysisTime < 0:
		return fmt.Errorf("%w: frame %d: analysis time %g s", ErrMalformedSignal, index, frame.AnalysisTime)
	case frame.AnalysisTime*float64(s.SamplingRateHz) > MaxSignalSamples:
		return fmt.Errorf("%w: frame %d: analysis time %g s exceeds %d samples",
			ErrMalformedSignal, index, frame.AnalysisTime, MaxSignalSamples)
	case index > 0 && frame.AnalysisTime < s.Frames[index-1].AnalysisTime:
		return fmt.Errorf("%w: frame %d: analysis time %g s precedes frame %d at %g s",
			ErrMalformedSignal, index, frame.AnalysisTime, index-1, s.Frames[index-1].AnalysisTime)
	case !isFinite(frame.Harmonic.F0Hz):
		return fmt.Errorf("%w: frame %d: f0 %g Hz", ErrMalformedSignal, index, frame.Harmonic.F0Hz)
	case frame.MaxVoicingHz > 0 && len(frame.Harmonic.Phases) > 0 && frame.Harmonic.F0Hz <= 0:
		return fmt.Errorf("%w: frame %d: %d harmonic phases but f0 %g Hz",
			ErrMalformedSignal, index, len(frame.Harmonic.Phases), frame.Harmonic.F0Hz)
	case frame.IsVoiced() && len(frame.Harmonic.Ceps) == 0:
		return fmt.Errorf("%w: frame %d: voiced frame without cepstral envelope", ErrMalformedSignal, index)
	}

	for k, phase := range frame.Harmonic.Phases {
		if !isFinite(phase) {
			return fmt.Errorf("%w: frame %d: phase of harmonic %d is %g", ErrMalformedSignal, index, k+1, phase)
		}
	}

	return nil
}

func isFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
