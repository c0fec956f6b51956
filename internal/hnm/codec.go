package hnm

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	noiseKindLPC            = "lpc"
	noiseKindPseudoHarmonic = "pseudo_harmonic"
)

// ErrUnknownNoiseType is returned when a signal document names a noise model this package
// does not know.
var ErrUnknownNoiseType = errors.New("hnm: unknown noise part type")

type signalDocument struct {
	SamplingRateHz      int             `json:"samplingRateHz"`
	OriginalDuration    float64         `json:"originalDuration"`
	NoiseWindowDuration float64         `json:"noiseWindowDuration,omitempty"`
	NoisePreemphasis    float64         `json:"noisePreemphasis,omitempty"`
	Frames              []frameDocument `json:"frames"`
}

type frameDocument struct {
	Harmonic     HarmonicPart   `json:"harmonic"`
	Noise        *noiseDocument `json:"noise,omitempty"`
	MaxVoicingHz float64        `json:"maxVoicingHz"`
	AnalysisTime float64        `json:"analysisTime"`
}

// noiseDocument tags the noise variant so it can be restored on decode.
type noiseDocument struct {
	Type           string               `json:"type"`
	LPC            *LPCNoise            `json:"lpc,omitempty"`
	PseudoHarmonic *PseudoHarmonicNoise `json:"pseudoHarmonic,omitempty"`
}

// MarshalJSON encodes the signal with each noise part tagged by its type.
func (s SpeechSignal) MarshalJSON() ([]byte, error) {
	doc := signalDocument{
		SamplingRateHz:      s.SamplingRateHz,
		OriginalDuration:    s.OriginalDuration,
		NoiseWindowDuration: s.NoiseWindowDuration,
		NoisePreemphasis:    s.NoisePreemphasis,
		Frames:              make([]frameDocument, len(s.Frames)),
	}

	for index, frame := range s.Frames {
		noise, err := encodeNoise(frame.Noise)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}

		doc.Frames[index] = frameDocument{
			Harmonic:     frame.Harmonic,
			Noise:        noise,
			MaxVoicingHz: frame.MaxVoicingHz,
			AnalysisTime: frame.AnalysisTime,
		}
	}

	return json.Marshal(doc)
}

// UnmarshalJSON decodes a signal written by MarshalJSON.
func (s *SpeechSignal) UnmarshalJSON(data []byte) error {
	var doc signalDocument

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return fmt.Errorf("failed to unmarshal speech signal: %w", err)
	}

	frames := make([]SpeechFrame, len(doc.Frames))

	for index, frame := range doc.Frames {
		noise, noiseErr := decodeNoise(frame.Noise)
		if noiseErr != nil {
			return fmt.Errorf("frame %d: %w", index, noiseErr)
		}

		frames[index] = SpeechFrame{
			Harmonic:     frame.Harmonic,
			Noise:        noise,
			MaxVoicingHz: frame.MaxVoicingHz,
			AnalysisTime: frame.AnalysisTime,
		}
	}

	*s = SpeechSignal{
		Frames:              frames,
		SamplingRateHz:      doc.SamplingRateHz,
		OriginalDuration:    doc.OriginalDuration,
		NoiseWindowDuration: doc.NoiseWindowDuration,
		NoisePreemphasis:    doc.NoisePreemphasis,
	}

	return nil
}

// DecodeSignal parses a signal document and validates it.
func DecodeSignal(data []byte) (*SpeechSignal, error) {
	var signal SpeechSignal

	err := json.Unmarshal(data, &signal)
	if err != nil {
		return nil, err
	}

	err = signal.Validate()
	if err != nil {
		return nil, err
	}

	return &signal, nil
}

func encodeNoise(noise NoisePart) (*noiseDocument, error) {
	switch part := noise.(type) {
	case nil:
		return nil, nil
	case LPCNoise:
		return &noiseDocument{Type: noiseKindLPC, LPC: &part, PseudoHarmonic: nil}, nil
	case *LPCNoise:
		return &noiseDocument{Type: noiseKindLPC, LPC: part, PseudoHarmonic: nil}, nil
	case PseudoHarmonicNoise:
		return &noiseDocument{Type: noiseKindPseudoHarmonic, LPC: nil, PseudoHarmonic: &part}, nil
	case *PseudoHarmonicNoise:
		return &noiseDocument{Type: noiseKindPseudoHarmonic, LPC: nil, PseudoHarmonic: part}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownNoiseType, noise)
	}
}

func decodeNoise(doc *noiseDocument) (NoisePart, error) {
	if doc == nil {
		return nil, nil
	}

	switch {
	case doc.Type == noiseKindLPC && doc.LPC != nil:
		return *doc.LPC, nil
	case doc.Type == noiseKindPseudoHarmonic && doc.PseudoHarmonic != nil:
		return *doc.PseudoHarmonic, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNoiseType, doc.Type)
	}
}
