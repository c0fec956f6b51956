// Package worker_test tests the NATS worker for the voice-model-service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model-service/internal/audio"
	"github.com/book-expert/voice-model-service/internal/cart"
	"github.com/book-expert/voice-model-service/internal/features"
	"github.com/book-expert/voice-model-service/internal/hnm"
	"github.com/book-expert/voice-model-service/internal/metrics"
	"github.com/book-expert/voice-model-service/internal/registry"
	"github.com/book-expert/voice-model-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evaluateSubject   = "cart.evaluate"
	synthesizeSubject = "hnm.synthesize"
	requestTimeout    = 5 * time.Second
	graphKey          = "en_US/phone.mry"
	signalKey         = "en_US/utterance.json"
)

var errMockDownload = errors.New("mock download error")

// mockObjectStore is an in-memory implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMockStore() *mockObjectStore {
	return &mockObjectStore{mu: sync.Mutex{}, objects: make(map[string][]byte), deleted: nil}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockDownload
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	m.deleted = append(m.deleted, key)

	return nil
}

func (m *mockObjectStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}

	return keys
}

type testEnv struct {
	conn    *nats.Conn
	models  *mockObjectStore
	audio   *mockObjectStore
	metrics *metrics.Metrics
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

// sampleGraph is:
//
//	phone is a
//	  yes: [1 2]
//	  no:  duration < 0.5
//	         yes: word isShortOf 3 -> [5 6] with probabilities, null, [7]
//	         no:  mean 3, stddev 1
func sampleGraph(t *testing.T) []byte {
	t.Helper()

	def, err := features.New(
		[]features.Discrete{{Name: "phone", Weight: 1, Values: []string{"0", "a", "e"}}},
		[]features.Discrete{{Name: "word", Weight: 1, Values: []string{"0", "hello", "world"}}},
		[]features.Continuous{{Name: "duration", Weight: 1, WeightFunction: "linear"}},
	)
	require.NoError(t, err)

	builder := cart.NewBuilder(def)
	root := builder.AddDecision(cart.DecisionNode{
		Type: cart.BinaryByte, Feature: 0, Criterion: 1, Threshold: 0, Children: make([]cart.Ref, 2),
	})
	byDuration := builder.AddDecision(cart.DecisionNode{
		Type: cart.BinaryFloat, Feature: 2, Criterion: 0, Threshold: 0.5, Children: make([]cart.Ref, 2),
	})
	byWord := builder.AddDecision(cart.DecisionNode{
		Type: cart.MultiShort, Feature: 1, Criterion: 0, Threshold: 0, Children: make([]cart.Ref, 3),
	})

	require.NoError(t, builder.SetChild(root, 0, builder.AddLeaf(cart.Leaf{Type: cart.IntArray, Indices: []int32{1, 2}})))
	require.NoError(t, builder.SetChild(root, 1, byDuration))
	require.NoError(t, builder.SetChild(byDuration, 0, byWord))
	require.NoError(t, builder.SetChild(byDuration, 1, builder.AddLeaf(cart.Leaf{Type: cart.Float, Mean: 3, StdDev: 1})))
	require.NoError(t, builder.SetChild(byWord, 0, builder.AddLeaf(cart.Leaf{
		Type: cart.IntAndFloatArray, Indices: []int32{5, 6}, Probabilities: []float32{0.2, 0.7},
	})))
	require.NoError(t, builder.SetChild(byWord, 2, builder.AddLeaf(cart.Leaf{Type: cart.IntArray, Indices: []int32{7}})))

	graph, err := builder.Build()
	require.NoError(t, err)

	data, err := cart.WriteCART(graph)
	require.NoError(t, err)

	return data
}

func sampleSignal(t *testing.T, samplingRate int) []byte {
	t.Helper()

	frame := func(at float64) hnm.SpeechFrame {
		return hnm.SpeechFrame{
			Harmonic:     hnm.HarmonicPart{F0Hz: 200, Ceps: []float64{8}, Phases: []float64{0, 0}},
			Noise:        nil,
			MaxVoicingHz: 4000,
			AnalysisTime: at,
		}
	}

	data, err := json.Marshal(hnm.SpeechSignal{
		Frames:              []hnm.SpeechFrame{frame(0), frame(0.01)},
		SamplingRateHz:      samplingRate,
		OriginalDuration:    0.02,
		NoiseWindowDuration: 0,
		NoisePreemphasis:    0,
	})
	require.NoError(t, err)

	return data
}

func startWorker(t *testing.T, maxSampleRate int) *testEnv {
	t.Helper()

	return startWorkerWithMinData(t, maxSampleRate, 0)
}

func startWorkerWithMinData(t *testing.T, maxSampleRate, defaultMinData int) *testEnv {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	m, err := metrics.New()
	require.NoError(t, err)

	models := newMockStore()
	require.NoError(t, models.Upload(context.Background(), graphKey, sampleGraph(t)))
	require.NoError(t, models.Upload(context.Background(), signalKey, sampleSignal(t, 16000)))

	audioStore := newMockStore()

	workerInstance, err := worker.NewNatsWorker(
		natsConnection,
		worker.Options{
			EvaluateSubject:   evaluateSubject,
			SynthesizeSubject: synthesizeSubject,
			Quality:           audio.NewDefaultQuality(0),
			MaxSampleRate:     maxSampleRate,
			DefaultMinData:    defaultMinData,
			HandleTimeout:     0,
		},
		registry.New(models, testLogger, m),
		models,
		audioStore,
		m,
		testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Subscriptions are in place once a round trip through the server completes.
	require.Eventually(t, func() bool {
		msg, requestErr := natsConnection.Request(evaluateSubject, []byte("{}"), 100*time.Millisecond)

		return requestErr == nil && msg != nil
	}, requestTimeout, 10*time.Millisecond)

	return &testEnv{conn: natsConnection, models: models, audio: audioStore, metrics: m}
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func request[Reply any](t *testing.T, conn *nats.Conn, subject string, payload any) Reply {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	replyMsg, err := conn.Request(subject, data, requestTimeout)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply Reply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestEvaluate_Leaf(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 0)
	header := newHeader()

	reply := request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:    header,
		GraphKey:  graphKey,
		Values:    map[string]string{"phone": "e", "word": "0", "duration": "0.1"},
		UnitIndex: 0,
		MinData:   nil,
	})

	require.Empty(t, reply.Error)
	require.NotNil(t, reply.Result)
	assert.Equal(t, worker.ResultLeaf, reply.Result.Kind)
	assert.Equal(t, "IntAndFloatArrayLeafNode", reply.Result.LeafType)
	assert.Equal(t, []int32{5, 6}, reply.Result.Indices)
	require.NotNil(t, reply.Result.MostProbable)
	assert.Equal(t, 6, *reply.Result.MostProbable)
	assert.Len(t, reply.Path, 3)
	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)
	assert.NotEqual(t, header.EventID, reply.Header.EventID)
}

func TestEvaluate_FloatLeafAndNullEdge(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 0)

	reply := request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:   newHeader(),
		GraphKey: graphKey,
		Values:   map[string]string{"phone": "e", "duration": "0.9"},
	})
	require.Empty(t, reply.Error)
	assert.Equal(t, "FloatLeafNode", reply.Result.LeafType)
	assert.InDelta(t, 3, reply.Result.Mean, 1e-6)
	assert.InDelta(t, 1, reply.Result.StdDev, 1e-6)

	reply = request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:   newHeader(),
		GraphKey: graphKey,
		Values:   map[string]string{"phone": "e", "word": "hello", "duration": "0.1"},
	})
	require.Empty(t, reply.Error)
	assert.Equal(t, worker.ResultNone, reply.Result.Kind)
}

func TestEvaluate_BacktracksToDecisionNode(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 0)
	minData := 3

	reply := request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:   newHeader(),
		GraphKey: graphKey,
		Values:   map[string]string{"phone": "e", "word": "world", "duration": "0.1"},
		MinData:  &minData,
	})

	require.Empty(t, reply.Error)
	assert.Equal(t, worker.ResultDecision, reply.Result.Kind)
	assert.Equal(t, 3, reply.Result.NumData)
	assert.Equal(t, []int32{5, 6, 7}, reply.Result.Indices)
}

func TestEvaluate_DefaultMinData(t *testing.T) {
	t.Parallel()

	env := startWorkerWithMinData(t, 0, 3)
	values := map[string]string{"phone": "e", "word": "world", "duration": "0.1"}

	reply := request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:   newHeader(),
		GraphKey: graphKey,
		Values:   values,
		MinData:  nil,
	})

	require.Empty(t, reply.Error)
	assert.Equal(t, worker.ResultDecision, reply.Result.Kind)
	assert.Equal(t, 3, reply.Result.NumData)
	assert.Equal(t, []int32{5, 6, 7}, reply.Result.Indices)
	assert.Empty(t, reply.Path)

	// An explicit request value overrides the configured default.
	zero := 0

	reply = request[worker.EvaluateReply](t, env.conn, evaluateSubject, worker.EvaluateRequest{
		Header:   newHeader(),
		GraphKey: graphKey,
		Values:   values,
		MinData:  &zero,
	})

	require.Empty(t, reply.Error)
	assert.Equal(t, worker.ResultLeaf, reply.Result.Kind)
	assert.Equal(t, []int32{7}, reply.Result.Indices)
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 0)
	negative := -1

	testCases := []struct {
		name    string
		request worker.EvaluateRequest
		message string
	}{
		{name: "missing graph", request: worker.EvaluateRequest{GraphKey: "absent.mry"}, message: "mock download error"},
		{name: "empty key", request: worker.EvaluateRequest{GraphKey: ""}, message: worker.ErrGraphKeyEmpty.Error()},
		{
			name:    "unknown feature",
			request: worker.EvaluateRequest{GraphKey: graphKey, Values: map[string]string{"tone": "high"}},
			message: "failed to build feature vector",
		},
		{
			name:    "negative min data",
			request: worker.EvaluateRequest{GraphKey: graphKey, MinData: &negative},
			message: worker.ErrNegativeMinData.Error(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply := request[worker.EvaluateReply](t, env.conn, evaluateSubject, tc.request)
			assert.Contains(t, reply.Error, tc.message)
			assert.Nil(t, reply.Result)
		})
	}

	assert.Positive(t, testutil.ToFloat64(env.metrics.Evaluations.WithLabelValues(metrics.OutcomeError)))
}

func TestSynthesize_UploadsAudio(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 48000)
	header := newHeader()

	reply := request[worker.SynthesizeReply](t, env.conn, synthesizeSubject, worker.SynthesizeRequest{
		Header:    header,
		SignalKey: signalKey,
		Prosody:   hnm.Prosody{},
	})

	require.Empty(t, reply.Error)
	assert.Equal(t, 16000, reply.SampleRate)
	assert.Equal(t, 320+hnm.OutputPadSamples, reply.NumSamples)
	assert.InDelta(t, float64(reply.NumSamples)/16000, reply.DurationSeconds, 1e-12)
	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)

	require.Equal(t, []string{reply.AudioKey}, env.audio.keys())

	wav, err := env.audio.Download(context.Background(), reply.AudioKey)
	require.NoError(t, err)

	wavHeader, err := audio.ReadHeader(wav)
	require.NoError(t, err)
	assert.Equal(t, 16000, wavHeader.SampleRate)
	assert.Equal(t, reply.NumSamples, wavHeader.NumFrames())

	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.Syntheses.WithLabelValues(metrics.OutcomeSuccess)), 0)
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 8000)

	require.NoError(t, env.models.Upload(context.Background(), "broken.json", []byte(`{"samplingRateHz":0}`)))
	require.NoError(t, env.models.Upload(context.Background(), "endless.json",
		[]byte(`{"samplingRateHz":8000,"originalDuration":1e15}`)))

	testCases := []struct {
		name    string
		key     string
		message string
	}{
		{name: "rate above limit", key: signalKey, message: worker.ErrSampleRateTooHigh.Error()},
		{name: "missing document", key: "absent.json", message: "mock download error"},
		{name: "malformed signal", key: "broken.json", message: hnm.ErrMalformedSignal.Error()},
		{name: "signal too long", key: "endless.json", message: hnm.ErrMalformedSignal.Error()},
		{name: "empty key", key: "", message: worker.ErrSignalKeyEmpty.Error()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reply := request[worker.SynthesizeReply](t, env.conn, synthesizeSubject, worker.SynthesizeRequest{
				Header:    newHeader(),
				SignalKey: tc.key,
				Prosody:   hnm.Prosody{},
			})
			assert.Contains(t, reply.Error, tc.message)
			assert.Empty(t, reply.AudioKey)
		})
	}

	assert.Empty(t, env.audio.keys())
}

func TestMessageHandler_MalformedRequest(t *testing.T) {
	t.Parallel()

	env := startWorker(t, 0)

	replyMsg, err := env.conn.Request(synthesizeSubject, []byte("not json"), requestTimeout)
	require.NoError(t, err)

	var reply worker.SynthesizeReply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.NotEmpty(t, reply.Error)
}

func TestNewNatsWorker_RequiresSubjects(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, worker.Options{EvaluateSubject: evaluateSubject}, nil, nil, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}
