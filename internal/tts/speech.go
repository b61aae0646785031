// Package tts narrates text: it segments the input into sentences, synthesizes them
// one at a time through the shared synthesizer handle and concatenates the audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/tts/audio"
	"github.com/book-expert/component-narrator/internal/tts/text"
	"github.com/book-expert/logger"
)

// Sentence outcomes reported to a SentenceObserver.
const (
	OutcomeSynthesized = "synthesized"
	OutcomeFailed      = "failed"
)

// Log formats.
const (
	logFmtSentence        = "Synthesizing sentence %d/%d (%d chars)"
	logFmtRateChanged     = "Sample rate changed from %d Hz to %d Hz at sentence %d/%d"
	logFmtSynthesized     = "Synthesized %d sentences (%.2fs of audio at %d Hz) in %s"
	logFmtSentenceSkipped = "Skipping sentence %d/%d after synthesis failure: %v"
	logFmtStreamFinished  = "Streamed %d of %d sentences in %s"
	logFmtTruncated       = "Truncated narration text from %d to %d characters"
)

// Error messages.
const (
	errFmtSentenceFailed   = "sentence %d/%d: %w"
	errFmtInvalidRate      = "%w: synthesizer returned sample rate %d"
	errFmtEmit             = "failed to deliver sentence %d/%d: %w"
	errFmtPartialSynthesis = "%d of %d sentences failed"
)

// ProgressFunc is called before each sentence is synthesized with its 1-based
// position and the sentence count.
type ProgressFunc func(index, total int)

// SentenceObserver is notified after every sentence synthesis attempt.
type SentenceObserver func(outcome string, elapsed time.Duration)

// Result is a complete narration.
type Result struct {
	core.Waveform

	Sentences int
	Elapsed   time.Duration
}

// DurationSeconds is the playback length of the narration.
func (r *Result) DurationSeconds() float64 {
	return audio.Duration(len(r.Samples), r.SampleRate)
}

// Chunk is one streamed sentence.
type Chunk struct {
	Index int
	Total int
	Text  string

	core.Waveform
}

// SentenceFailure records a sentence the stream skipped.
type SentenceFailure struct {
	Index int
	Text  string
	Err   error
}

// PartialSynthesisError reports the sentences a stream skipped. It matches
// core.ErrPartialSynthesis.
type PartialSynthesisError struct {
	Failed []SentenceFailure
	Total  int
}

func (e *PartialSynthesisError) Error() string {
	message := fmt.Sprintf(errFmtPartialSynthesis, len(e.Failed), e.Total)
	if len(e.Failed) > 0 {
		message += ": first failure: " + e.Failed[0].Err.Error()
	}

	return core.ErrPartialSynthesis.Error() + ": " + message
}

// Is lets callers test for core.ErrPartialSynthesis.
func (e *PartialSynthesisError) Is(target error) bool {
	return target == core.ErrPartialSynthesis
}

// StreamSummary describes a finished stream.
type StreamSummary struct {
	Total      int
	Emitted    int
	Samples    int
	SampleRate int
	Failed     []SentenceFailure
	Elapsed    time.Duration
}

// Err returns a *PartialSynthesisError when any sentence was skipped.
func (s *StreamSummary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}

	return &PartialSynthesisError{Failed: s.Failed, Total: s.Total}
}

// Engine synthesizes narration text sentence by sentence.
type Engine struct {
	provider      core.SynthesizerProvider
	normalizer    *text.Normalizer
	maxTextLength int
	observer      SentenceObserver
	log           *logger.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithMaxTextLength truncates input to at most limit characters. Zero disables it.
func WithMaxTextLength(limit int) Option {
	return func(e *Engine) {
		if limit >= 0 {
			e.maxTextLength = limit
		}
	}
}

// WithNormalization spells out symbols, abbreviations and numbers before segmentation.
func WithNormalization(enabled bool) Option {
	return func(e *Engine) {
		if enabled {
			e.normalizer = text.NewNormalizer()
		} else {
			e.normalizer = nil
		}
	}
}

// WithSentenceObserver registers a callback for per-sentence outcomes.
func WithSentenceObserver(observer SentenceObserver) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// New creates an Engine that obtains its synthesizer from provider.
func New(provider core.SynthesizerProvider, log *logger.Logger, opts ...Option) *Engine {
	engine := &Engine{
		provider: provider,
		log:      log,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Prepare applies truncation and normalisation and returns the sentence units.
// Blank text fails with core.ErrInvalidInput.
func (e *Engine) Prepare(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: text is empty", core.ErrInvalidInput)
	}

	if e.maxTextLength > 0 {
		input = e.truncate(input)
	}

	if e.normalizer != nil {
		input = e.normalizer.Normalize(input)
	}

	sentences := text.Segment(input)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%w: text has nothing to speak", core.ErrInvalidInput)
	}

	return sentences, nil
}

// Synthesize narrates input and returns the concatenated waveform. Any sentence
// failure aborts the whole call. progress may be nil.
func (e *Engine) Synthesize(ctx context.Context, input string, progress ProgressFunc) (*Result, error) {
	sentences, err := e.Prepare(input)
	if err != nil {
		return nil, err
	}

	synthesizer, err := e.provider.Synthesizer(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	total := len(sentences)

	var (
		samples    []float32
		sampleRate int
	)

	for i, sentence := range sentences {
		index := i + 1

		if progress != nil {
			progress(index, total)
		}

		waveform, synthErr := e.synthesizeSentence(ctx, synthesizer, sentence, index, total)
		if synthErr != nil {
			return nil, fmt.Errorf(errFmtSentenceFailed, index, total, synthErr)
		}

		if sampleRate != 0 && waveform.SampleRate != sampleRate {
			e.log.Warn(logFmtRateChanged, sampleRate, waveform.SampleRate, index, total)
		}

		sampleRate = waveform.SampleRate
		samples = append(samples, waveform.Samples...)
	}

	result := &Result{
		Waveform:  core.Waveform{Samples: samples, SampleRate: sampleRate},
		Sentences: total,
		Elapsed:   time.Since(start),
	}

	e.log.Info(logFmtSynthesized, total, result.DurationSeconds(), sampleRate, result.Elapsed)

	return result, nil
}

// SynthesizeToFile narrates input and writes the result to path as a WAV file.
func (e *Engine) SynthesizeToFile(ctx context.Context, input, path string, progress ProgressFunc) (*Result, error) {
	result, err := e.Synthesize(ctx, input, progress)
	if err != nil {
		return nil, err
	}

	saveErr := audio.SaveWAV(path, result.Samples, result.SampleRate)
	if saveErr != nil {
		return nil, fmt.Errorf("failed to save narration: %w", saveErr)
	}

	return result, nil
}

// Stream narrates input and hands each synthesized sentence to emit as soon as it
// is ready. Failed sentences are logged and skipped; they are reported through
// StreamSummary.Err. The returned error is set only when the stream could not run
// at all, was cancelled, or emit failed.
func (e *Engine) Stream(ctx context.Context, input string, emit func(Chunk) error) (*StreamSummary, error) {
	sentences, err := e.Prepare(input)
	if err != nil {
		return nil, err
	}

	synthesizer, err := e.provider.Synthesizer(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &StreamSummary{Total: len(sentences)}

	for i, sentence := range sentences {
		index := i + 1

		waveform, synthErr := e.synthesizeSentence(ctx, synthesizer, sentence, index, summary.Total)
		if synthErr != nil {
			if ctx.Err() != nil {
				summary.Elapsed = time.Since(start)

				return summary, fmt.Errorf("stream interrupted: %w", ctx.Err())
			}

			e.log.Warn(logFmtSentenceSkipped, index, summary.Total, synthErr)
			summary.Failed = append(summary.Failed, SentenceFailure{Index: index, Text: sentence, Err: synthErr})

			continue
		}

		chunk := Chunk{Index: index, Total: summary.Total, Text: sentence, Waveform: waveform}

		emitErr := emit(chunk)
		if emitErr != nil {
			summary.Elapsed = time.Since(start)

			return summary, fmt.Errorf(errFmtEmit, index, summary.Total, emitErr)
		}

		summary.Emitted++
		summary.Samples += len(waveform.Samples)
		summary.SampleRate = waveform.SampleRate
	}

	summary.Elapsed = time.Since(start)
	e.log.Info(logFmtStreamFinished, summary.Emitted, summary.Total, summary.Elapsed)

	return summary, nil
}

func (e *Engine) synthesizeSentence(
	ctx context.Context,
	synthesizer core.Synthesizer,
	sentence string,
	index, total int,
) (core.Waveform, error) {
	e.log.Info(logFmtSentence, index, total, len(sentence))

	start := time.Now()

	waveform, err := synthesizer.Synthesize(ctx, sentence)
	if err == nil && waveform.SampleRate <= 0 {
		err = fmt.Errorf(errFmtInvalidRate, core.ErrModelUnavailable, waveform.SampleRate)
	}

	if err != nil {
		e.observe(OutcomeFailed, time.Since(start))

		return core.Waveform{}, synthesisError(ctx, err)
	}

	e.observe(OutcomeSynthesized, time.Since(start))

	return waveform, nil
}

func (e *Engine) observe(outcome string, elapsed time.Duration) {
	if e.observer != nil {
		e.observer(outcome, elapsed)
	}
}

func (e *Engine) truncate(input string) string {
	count := utf8.RuneCountInString(input)
	if count <= e.maxTextLength {
		return input
	}

	runes := []rune(input)
	e.log.Warn(logFmtTruncated, count, e.maxTextLength)

	return strings.TrimSpace(string(runes[:e.maxTextLength]))
}

// synthesisError keeps input and cancellation errors intact and reports anything
// else from the backend as an unavailable model.
func synthesisError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrModelUnavailable):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("synthesis interrupted: %w", ctx.Err())
	default:
		return fmt.Errorf("%w: %w", core.ErrModelUnavailable, err)
	}
}
