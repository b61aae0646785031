// Package worker provides a NATS worker that answers identification requests and
// narrates text into audio for other services.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/ranking"
	"github.com/book-expert/component-narrator/internal/tts"
	"github.com/book-expert/component-narrator/internal/tts/audio"
)

const handleMessageTimeout = 30 * time.Second

var (
	// ErrNoSubjects indicates that the worker has nothing to subscribe to.
	ErrNoSubjects = errors.New("no subjects configured")
	// ErrMissingKey indicates that a request does not name its input object.
	ErrMissingKey = errors.New("object key cannot be empty")
)

// Identifier ranks an image against the component catalog.
type Identifier interface {
	Rank(ctx context.Context, query ranking.Query) (*ranking.Result, error)
}

// Narrator synthesizes text into one waveform.
type Narrator interface {
	Synthesize(ctx context.Context, text string, progress tts.ProgressFunc) (*tts.Result, error)
}

// Recorder receives identification and narration measurements.
type Recorder interface {
	RecordIdentify(elapsed time.Duration, err error)
	RecordSynthesis(elapsed time.Duration)
}

// Subjects names the NATS subjects the worker serves. An empty subject is not served.
type Subjects struct {
	Identify string
	Speech   string
}

// NatsWorker listens for identification and speech jobs on NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	store          core.ObjectStore
	identifier     Identifier
	narrator       Narrator
	recorder       Recorder
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. recorder may be nil.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	store core.ObjectStore,
	identifier Identifier,
	narrator Narrator,
	recorder Recorder,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subjects.Identify == "" && subjects.Speech == "" {
		return nil, ErrNoSubjects
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		store:          store,
		identifier:     identifier,
		narrator:       narrator,
		recorder:       recorder,
		log:            log,
	}, nil
}

// Run subscribes to the configured subjects and blocks until ctx is done, then drains
// the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	var subscriptions []*nats.Subscription

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{w.subjects.Speech, w.handleSpeech},
		{w.subjects.Identify, w.handleIdentify},
	}

	for _, entry := range handlers {
		if entry.subject == "" {
			continue
		}

		sub, err := w.natsConnection.Subscribe(entry.subject, entry.handler)
		if err != nil {
			_ = drainAll(subscriptions)

			return fmt.Errorf("failed to subscribe to subject %s: %w", entry.subject, err)
		}

		w.log.Info("Listening for jobs on subject: %s", entry.subject)

		subscriptions = append(subscriptions, sub)
	}

	<-ctx.Done()

	drainErr := drainAll(subscriptions)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func drainAll(subscriptions []*nats.Subscription) error {
	var errs []error

	for _, sub := range subscriptions {
		errs = append(errs, sub.Drain())
	}

	return errors.Join(errs...)
}

func (w *NatsWorker) handleIdentify(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request IdentifyRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to unmarshal identify request: %v", err)
		w.respond(msg, IdentifyReply{Status: StatusInvalid, Error: "malformed request"})

		return
	}

	reply := w.identify(ctx, &request)
	reply.Header = request.Header

	w.respond(msg, reply)
}

func (w *NatsWorker) identify(ctx context.Context, request *IdentifyRequest) IdentifyReply {
	if request.ImageKey == "" {
		return IdentifyReply{Status: StatusInvalid, Error: ErrMissingKey.Error()}
	}

	image, err := w.store.Download(ctx, request.ImageKey)
	if err != nil {
		w.log.Error("Failed to download image '%s' for workflow %s: %v", request.ImageKey, request.Header.WorkflowID, err)

		return errorReply(err)
	}

	topN := request.TopN
	if topN == 0 {
		topN = 1
	}

	start := time.Now()

	result, err := w.identifier.Rank(ctx, ranking.Query{
		Image:         image,
		TopN:          topN,
		MinConfidence: request.MinConfidence,
		MinMargin:     request.MinMargin,
	})

	if w.recorder != nil {
		w.recorder.RecordIdentify(time.Since(start), err)
	}

	if err != nil {
		w.log.Warn("Identification for workflow %s ended without a match: %v", request.Header.WorkflowID, err)

		return errorReply(err)
	}

	return IdentifyReply{Status: StatusIdentified, Matches: result.Matches}
}

// errorReply keeps "nothing recognized" apart from "service unavailable".
func errorReply(err error) IdentifyReply {
	var noMatch *ranking.NoMatchError

	switch {
	case errors.As(err, &noMatch):
		return IdentifyReply{Status: StatusNotRecognized, NearMisses: noMatch.NearMisses, Error: err.Error()}
	case errors.Is(err, ranking.ErrNoClassifierOutput):
		return IdentifyReply{Status: StatusNotRecognized, Error: err.Error()}
	case errors.Is(err, core.ErrInvalidInput):
		return IdentifyReply{Status: StatusInvalid, Error: err.Error()}
	default:
		return IdentifyReply{Status: StatusUnavailable, Error: err.Error()}
	}
}

func (w *NatsWorker) handleSpeech(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal event: %v", err)

		return
	}

	audioKey, processErr := w.processSpeechJob(ctx, &event)
	if processErr != nil {
		w.log.Error("Failed to process speech job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	w.respond(msg, &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	})
}

// processSpeechJob downloads the text, narrates it and uploads the WAV file.
func (w *NatsWorker) processSpeechJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrMissingKey
	}

	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.narrator.Synthesize(ctx, string(textData), func(index, total int) {
		w.log.Info("Workflow %s: sentence %d/%d", event.Header.WorkflowID, index, total)
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text: %w", err)
	}

	if w.recorder != nil {
		w.recorder.RecordSynthesis(result.Elapsed)
	}

	audioData, err := audio.EncodeWAV(result.Samples, result.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode audio: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// respond marshals and publishes a reply when the message expects one.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}
