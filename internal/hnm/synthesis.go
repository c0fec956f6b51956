package hnm

import "math"

const (
	// OutputPadSamples is appended to the original duration so the last segment may
	// overshoot without clipping.
	OutputPadSamples = 256

	// outputScale maps 16-bit analysis amplitudes to the [-1, 1] range.
	outputScale = 32768.0

	twoPi = 2 * math.Pi
)

// Prosody carries time and pitch scale contours. Resynthesis accepts them but does not
// apply them yet.
type Prosody struct {
	TimeScales      []float64 `json:"timeScales,omitempty"`
	TimeScaleTimes  []float64 `json:"timeScaleTimes,omitempty"`
	PitchScales     []float64 `json:"pitchScales,omitempty"`
	PitchScaleTimes []float64 `json:"pitchScaleTimes,omitempty"`
}

// CycleSlip returns the number of whole cycles M that brings raw + 2*pi*M closest to
// estimate.
func CycleSlip(estimate, raw float64) int {
	return int(math.Floor((estimate-raw)/twoPi + 0.5))
}

// segment is the span between two consecutive analysis frames.
type segment struct {
	startTime float64
	endTime   float64
	start     int
	end       int
}

func (s segment) duration() float64 {
	return s.endTime - s.startTime
}

// harmonicState is carried from one segment to the next.
type harmonicState struct {
	startAmps []float64
	endAmps   []float64
}

// SynthesizeHarmonicPart renders the harmonic part of signal as samples in [-1, 1] at the
// signal's sampling rate. Each harmonic is a sinusoid whose amplitude is interpolated
// linearly between the envelope values of consecutive frames and whose phase is
// interpolated linearly to the next frame's phase, unwrapped by the cycle slip that best
// matches the average fundamental. The result holds the original duration in samples plus
// OutputPadSamples.
func SynthesizeHarmonicPart(signal *SpeechSignal, prosody Prosody) ([]float64, error) {
	err := signal.Validate()
	if err != nil {
		return nil, err
	}

	out := make([]float64, signal.NumSamples()+OutputPadSamples)

	maxHarmonics := 0

	for index := range signal.Frames {
		if signal.Frames[index].IsVoiced() {
			maxHarmonics = max(maxHarmonics, signal.Frames[index].Harmonic.NumHarmonics())
		}
	}

	if maxHarmonics == 0 {
		return out, nil
	}

	state := harmonicState{
		startAmps: make([]float64, maxHarmonics),
		endAmps:   make([]float64, maxHarmonics),
	}
	lastPeriod := 0

	for index := range signal.Frames {
		seg := signal.segmentAt(index, lastPeriod)
		signal.synthesizeSegment(out, index, seg, maxHarmonics, &state)
		lastPeriod = timeToSample(seg.duration(), signal.SamplingRateHz)
	}

	for n := range out {
		out[n] /= outputScale
	}

	return out, nil
}

// segmentAt returns the span synthesized from frame index. The first segment starts at 0
// and the last ends at the original duration. A segment followed by an unvoiced frame
// lasts as long as the previous one.
func (s *SpeechSignal) segmentAt(index, lastPeriod int) segment {
	seg := segment{startTime: 0, endTime: 0, start: 0, end: 0}

	if index > 0 {
		seg.startTime = s.Frames[index].AnalysisTime
	}

	seg.start = timeToSample(seg.startTime, s.SamplingRateHz)

	isLast := index == len(s.Frames)-1

	switch {
	case isLast:
		seg.endTime = s.OriginalDuration
		seg.end = timeToSample(seg.endTime, s.SamplingRateHz)
	case s.Frames[index+1].IsVoiced():
		seg.endTime = s.Frames[index+1].AnalysisTime
		seg.end = timeToSample(seg.endTime, s.SamplingRateHz)
	default:
		seg.end = seg.start + lastPeriod
		seg.endTime = sampleToTime(seg.end, s.SamplingRateHz)
	}

	return seg
}

func (s *SpeechSignal) synthesizeSegment(out []float64, index int, seg segment, maxHarmonics int, state *harmonicState) {
	frame := &s.Frames[index]
	voiced := frame.IsVoiced()

	var next *SpeechFrame

	nextVoiced := false
	if index+1 < len(s.Frames) {
		next = &s.Frames[index+1]
		nextVoiced = next.IsVoiced()
	}

	numHarmonics := 0
	if voiced {
		numHarmonics = frame.Harmonic.NumHarmonics()
	}

	if nextVoiced {
		numHarmonics = max(numHarmonics, next.Harmonic.NumHarmonics())
	}

	numHarmonics = min(numHarmonics, maxHarmonics)

	f0Next := frame.Harmonic.F0Hz
	if nextVoiced {
		f0Next = next.Harmonic.F0Hz
	}

	// An unvoiced frame borrows the next fundamental so the gap keeps a constant f0.
	f0 := frame.Harmonic.F0Hz
	if !voiced {
		f0 = f0Next
	}

	f0Average := 0.5 * (f0 + f0Next)

	// Start amplitudes carry over from the previous segment's end, which is zero unless
	// this frame is voiced. The first frame has no previous segment.
	for k := range numHarmonics {
		if index == 0 {
			state.startAmps[k] = EnvelopeAmplitude(frame.Harmonic.Ceps, float64(k+1)*f0, s.SamplingRateHz)
		} else {
			state.startAmps[k] = state.endAmps[k]
		}
	}

	clear(state.endAmps)

	if nextVoiced {
		for k := range numHarmonics {
			freq := float64(k+1) * f0Next
			if freq < next.MaxVoicingHz {
				state.endAmps[k] = EnvelopeAmplitude(next.Harmonic.Ceps, freq, s.SamplingRateHz)
			}
		}
	}

	duration := seg.duration()
	if duration <= 0 || seg.end <= seg.start {
		return
	}

	for k := range numHarmonics {
		harmonic := float64(k + 1)
		hasStart := voiced && k < len(frame.Harmonic.Phases)
		hasEnd := nextVoiced && k < len(next.Harmonic.Phases)

		if !hasStart && !hasEnd {
			continue
		}

		var startPhase, endPhase float64

		if hasEnd {
			endPhase = next.Harmonic.Phases[k]
		}

		if hasStart {
			startPhase = frame.Harmonic.Phases[k]
		} else {
			startPhase = endPhase - harmonic*twoPi*f0Next*duration // Equation 3.54
		}

		if !hasEnd {
			endPhase = startPhase + harmonic*twoPi*f0*duration // Equation 3.55
		}

		estimate := startPhase + harmonic*twoPi*f0Average*duration
		targetPhase := endPhase + twoPi*float64(CycleSlip(estimate, endPhase))

		renderHarmonic(out, s.SamplingRateHz, seg, harmonicTrack{
			startAmp:   state.startAmps[k],
			endAmp:     state.endAmps[k],
			startPhase: startPhase,
			endPhase:   targetPhase,
		})
	}
}

// harmonicTrack holds the boundary values of one harmonic over a segment.
type harmonicTrack struct {
	startAmp   float64
	endAmp     float64
	startPhase float64
	endPhase   float64
}

func renderHarmonic(out []float64, samplingRateHz int, seg segment, track harmonicTrack) {
	duration := seg.duration()
	first := max(seg.start, 0)
	last := min(seg.end, len(out))

	for n := first; n < last; n++ {
		fraction := (sampleToTime(n, samplingRateHz) - seg.startTime) / duration
		amplitude := track.startAmp + (track.endAmp-track.startAmp)*fraction
		phase := track.startPhase + (track.endPhase-track.startPhase)*fraction
		out[n] += amplitude * math.Cos(phase)
	}
}
