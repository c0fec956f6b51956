package hnm

import "math"

// EnvelopeAmplitude evaluates a real cepstral envelope as a linear amplitude at freqHz:
// exp(c0 + 2 * sum c_i cos(2*pi*i*f/fs)). An empty envelope has zero amplitude.
func EnvelopeAmplitude(ceps []float64, freqHz float64, samplingRateHz int) float64 {
	if len(ceps) == 0 || samplingRateHz <= 0 {
		return 0
	}

	omega := 2 * math.Pi * freqHz / float64(samplingRateHz)
	logAmplitude := ceps[0]

	for i := 1; i < len(ceps); i++ {
		logAmplitude += 2 * ceps[i] * math.Cos(float64(i)*omega)
	}

	return math.Exp(logAmplitude)
}

// timeToSample rounds a time in seconds to the nearest sample index.
func timeToSample(seconds float64, samplingRateHz int) int {
	return int(math.Floor(seconds*float64(samplingRateHz) + 0.5))
}

func sampleToTime(sample, samplingRateHz int) float64 {
	return float64(sample) / float64(samplingRateHz)
}
