// Package worker provides a NATS worker that serves decision graph evaluations and
// harmonic resynthesis requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model-service/internal/audio"
	"github.com/book-expert/voice-model-service/internal/core"
	"github.com/book-expert/voice-model-service/internal/hnm"
	"github.com/book-expert/voice-model-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultHandleTimeout = 30 * time.Second
	queueGroup           = "voice-model-service"
	audioKeySuffix       = ".wav"
)

var (
	// ErrGraphKeyEmpty indicates that an evaluation request names no graph.
	ErrGraphKeyEmpty = errors.New("graph key cannot be empty")
	// ErrSignalKeyEmpty indicates that a synthesis request names no signal document.
	ErrSignalKeyEmpty = errors.New("signal key cannot be empty")
	// ErrNegativeMinData indicates that a backtracking evaluation asked for fewer than zero items.
	ErrNegativeMinData = errors.New("min data must be non-negative")
	// ErrSampleRateTooHigh indicates that a signal exceeds the configured sampling rate limit.
	ErrSampleRateTooHigh = errors.New("signal sampling rate exceeds the configured limit")
	// ErrSubjectEmpty indicates that the worker was configured without a subject.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
)

// Options configures a NatsWorker.
type Options struct {
	EvaluateSubject   string
	SynthesizeSubject string
	// Quality is the output format; its SampleRate is replaced by each signal's rate.
	Quality       audio.Quality
	MaxSampleRate int
	// DefaultMinData applies backtracking evaluation to requests that leave MinData unset.
	// Zero disables it.
	DefaultMinData int
	HandleTimeout  time.Duration
}

// NatsWorker answers requests on two subjects: graph evaluation and harmonic resynthesis.
type NatsWorker struct {
	natsConnection *nats.Conn
	options        Options
	graphs         core.GraphSource
	models         core.ObjectStore
	audio          core.ObjectStore
	metrics        *metrics.Metrics
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. models holds signal documents and
// audioStore receives rendered audio.
func NewNatsWorker(
	natsConnection *nats.Conn,
	options Options,
	graphs core.GraphSource,
	models core.ObjectStore,
	audioStore core.ObjectStore,
	m *metrics.Metrics,
	log *logger.Logger,
) (*NatsWorker, error) {
	if options.EvaluateSubject == "" || options.SynthesizeSubject == "" {
		return nil, ErrSubjectEmpty
	}

	if options.HandleTimeout <= 0 {
		options.HandleTimeout = defaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		options:        options,
		graphs:         graphs,
		models:         models,
		audio:          audioStore,
		metrics:        m,
		log:            log,
	}, nil
}

// Run subscribes to both subjects and serves requests until ctx is cancelled, then drains
// the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	evaluateSub, err := w.natsConnection.QueueSubscribe(w.options.EvaluateSubject, queueGroup, w.handleEvaluate)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.options.EvaluateSubject, err)
	}

	synthesizeSub, err := w.natsConnection.QueueSubscribe(w.options.SynthesizeSubject, queueGroup, w.handleSynthesize)
	if err != nil {
		_ = evaluateSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.options.SynthesizeSubject, err)
	}

	w.log.Info("Listening for evaluations on %s and syntheses on %s",
		w.options.EvaluateSubject, w.options.SynthesizeSubject)

	<-ctx.Done()

	drainErr := errors.Join(evaluateSub.Drain(), synthesizeSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleEvaluate(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.options.HandleTimeout)
	defer cancel()

	var request EvaluateRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to parse evaluation request: %v", err)
		w.metrics.ObserveEvaluation(err)
		w.respond(msg, &EvaluateReply{Header: replyHeader(request.Header), Result: nil, Path: nil, Error: err.Error()})

		return
	}

	reply, err := w.evaluate(ctx, &request)
	w.metrics.ObserveEvaluation(err)

	if err != nil {
		w.log.Error("Failed to evaluate graph %s for workflow %s: %v", request.GraphKey, request.Header.WorkflowID, err)

		reply = &EvaluateReply{Header: replyHeader(request.Header), Result: nil, Path: nil, Error: err.Error()}
	}

	w.respond(msg, reply)
}

// evaluate looks up the graph, builds the feature vector and walks the graph.
func (w *NatsWorker) evaluate(ctx context.Context, request *EvaluateRequest) (*EvaluateReply, error) {
	if request.GraphKey == "" {
		return nil, ErrGraphKeyEmpty
	}

	graph, err := w.graphs.Graph(ctx, request.GraphKey)
	if err != nil {
		return nil, err
	}

	vector, err := graph.Features().VectorFromValues(request.UnitIndex, request.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to build feature vector: %w", err)
	}

	reply := &EvaluateReply{Header: replyHeader(request.Header), Result: nil, Path: nil, Error: ""}

	minData := request.MinData
	if minData == nil && w.options.DefaultMinData > 0 {
		minData = &w.options.DefaultMinData
	}

	if minData != nil {
		if *minData < 0 {
			return nil, fmt.Errorf("%w: got %d", ErrNegativeMinData, *minData)
		}

		ref, interpretErr := graph.InterpretToNode(vector, *minData)
		if interpretErr != nil {
			return nil, fmt.Errorf("failed to interpret graph: %w", interpretErr)
		}

		reply.Result, err = nodeResult(graph, ref)

		return reply, err
	}

	path, ref, err := graph.Path(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate graph: %w", err)
	}

	reply.Path = path
	reply.Result, err = nodeResult(graph, ref)

	return reply, err
}

func (w *NatsWorker) handleSynthesize(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.options.HandleTimeout)
	defer cancel()

	started := time.Now()

	var request SynthesizeRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to parse synthesis request: %v", err)
		w.metrics.ObserveSynthesis(started, 0, err)
		w.respond(msg, &SynthesizeReply{
			Header:          replyHeader(request.Header),
			AudioKey:        "",
			NumSamples:      0,
			SampleRate:      0,
			DurationSeconds: 0,
			Error:           err.Error(),
		})

		return
	}

	reply, err := w.synthesize(ctx, &request)

	var rendered time.Duration
	if reply != nil {
		rendered = time.Duration(reply.DurationSeconds * float64(time.Second))
	}

	w.metrics.ObserveSynthesis(started, rendered, err)

	if err != nil {
		w.log.Error("Failed to synthesize signal %s for workflow %s: %v", request.SignalKey, request.Header.WorkflowID, err)
		w.respond(msg, &SynthesizeReply{
			Header:          replyHeader(request.Header),
			AudioKey:        "",
			NumSamples:      0,
			SampleRate:      0,
			DurationSeconds: 0,
			Error:           err.Error(),
		})

		return
	}

	w.log.Info("Synthesized %s to %s (%d samples at %d Hz)", request.SignalKey, reply.AudioKey, reply.NumSamples, reply.SampleRate)

	if !w.respond(msg, reply) {
		deleteErr := w.audio.Delete(ctx, reply.AudioKey)
		if deleteErr != nil {
			w.log.Warn("Failed to delete unreported audio %s: %v", reply.AudioKey, deleteErr)
		}
	}
}

// synthesize downloads the signal document, renders its harmonic part and uploads the WAV.
func (w *NatsWorker) synthesize(ctx context.Context, request *SynthesizeRequest) (*SynthesizeReply, error) {
	if request.SignalKey == "" {
		return nil, ErrSignalKeyEmpty
	}

	document, err := w.models.Download(ctx, request.SignalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download signal '%s': %w", request.SignalKey, err)
	}

	signal, err := hnm.DecodeSignal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signal '%s': %w", request.SignalKey, err)
	}

	if w.options.MaxSampleRate > 0 && signal.SamplingRateHz > w.options.MaxSampleRate {
		return nil, fmt.Errorf("%w: %d Hz > %d Hz", ErrSampleRateTooHigh, signal.SamplingRateHz, w.options.MaxSampleRate)
	}

	samples, err := hnm.SynthesizeHarmonicPart(signal, request.Prosody)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize harmonic part: %w", err)
	}

	quality := w.options.Quality
	quality.SampleRate = signal.SamplingRateHz

	wav, err := audio.EncodeWAV(samples, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.audio.Upload(ctx, audioKey, wav)
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return &SynthesizeReply{
		Header:          replyHeader(request.Header),
		AudioKey:        audioKey,
		NumSamples:      len(samples),
		SampleRate:      signal.SamplingRateHz,
		DurationSeconds: float64(len(samples)) / float64(signal.SamplingRateHz),
		Error:           "",
	}, nil
}

// respond marshals and publishes a reply. It reports whether the reply was sent.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) bool {
	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return false
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)

		return false
	}

	return true
}
