package worker

import (
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/voice-model-service/internal/cart"
	"github.com/book-expert/voice-model-service/internal/hnm"
	"github.com/google/uuid"
)

// Result kinds reported in an EvaluateReply.
const (
	ResultLeaf     = "leaf"
	ResultDecision = "decision"
	ResultNone     = "none"
)

// EvaluateRequest asks for the prediction of one graph for one feature vector. Values maps
// feature names to symbolic values; features left out take their null value. When MinData
// is set, evaluation stops at the deepest node that still holds at least that many items.
type EvaluateRequest struct {
	Header    events.EventHeader `json:"header"`
	GraphKey  string             `json:"graphKey"`
	Values    map[string]string  `json:"values"`
	UnitIndex int                `json:"unitIndex,omitempty"`
	MinData   *int               `json:"minData,omitempty"`
}

// EvaluateReply carries the node the evaluation ended at.
type EvaluateReply struct {
	Header events.EventHeader `json:"header"`
	Result *NodeResult        `json:"result,omitempty"`
	Path   []string           `json:"path,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// NodeResult describes a leaf, or the decision node a backtracking evaluation stopped at.
// For a decision node, Indices gathers the indices of every leaf below it.
type NodeResult struct {
	Kind          string    `json:"kind"`
	LeafType      string    `json:"leafType,omitempty"`
	NumData       int       `json:"numData"`
	Indices       []int32   `json:"indices,omitempty"`
	Probabilities []float32 `json:"probabilities,omitempty"`
	MostProbable  *int      `json:"mostProbable,omitempty"`
	Mean          float32   `json:"mean,omitempty"`
	StdDev        float32   `json:"stdDev,omitempty"`
}

// SynthesizeRequest asks for the harmonic part of the signal document stored under
// SignalKey to be rendered as audio.
type SynthesizeRequest struct {
	Header    events.EventHeader `json:"header"`
	SignalKey string             `json:"signalKey"`
	Prosody   hnm.Prosody        `json:"prosody"`
}

// SynthesizeReply names the uploaded WAV file.
type SynthesizeReply struct {
	Header          events.EventHeader `json:"header"`
	AudioKey        string             `json:"audioKey,omitempty"`
	NumSamples      int                `json:"numSamples,omitempty"`
	SampleRate      int                `json:"sampleRate,omitempty"`
	DurationSeconds float64            `json:"durationSeconds,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// replyHeader keeps the workflow of a request and stamps a new event.
func replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	return header
}

func nodeResult(graph *cart.Graph, ref cart.Ref) (*NodeResult, error) {
	result := &NodeResult{
		Kind:          ResultNone,
		LeafType:      "",
		NumData:       0,
		Indices:       nil,
		Probabilities: nil,
		MostProbable:  nil,
		Mean:          0,
		StdDev:        0,
	}

	if ref.IsNull() {
		return result, nil
	}

	result.NumData = graph.NumData(ref)

	if ref.Kind() != cart.KindLeaf {
		result.Kind = ResultDecision
		result.Indices = graph.AllIndices(ref)

		return result, nil
	}

	leaf, err := graph.Leaf(ref)
	if err != nil {
		return nil, err
	}

	result.Kind = ResultLeaf
	result.LeafType = leaf.Type.String()

	switch leaf.Type {
	case cart.IntArray:
		result.Indices = leaf.Indices
	case cart.IntAndFloatArray, cart.StringAndFloat:
		result.Indices = leaf.Indices
		result.Probabilities = leaf.Probabilities
		mostProbable := leaf.MostProbableInt()
		result.MostProbable = &mostProbable
	case cart.Float:
		result.Mean = leaf.Mean
		result.StdDev = leaf.StdDev
	case cart.FeatureVectorLeaf, cart.Pdf:
	}

	return result, nil
}
