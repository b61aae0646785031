package tts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/tts"
	"github.com/book-expert/logger"
)

var errSynthesisFailed = errors.New("inference backend returned 500")

type stubSynthesizer struct {
	mu       sync.Mutex
	rate     int
	rates    map[string]int
	failures map[string]error
	calls    []string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, sentence string) (core.Waveform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, sentence)

	if err, ok := s.failures[sentence]; ok {
		return core.Waveform{}, err
	}

	rate := s.rate
	if override, ok := s.rates[sentence]; ok {
		rate = override
	}

	// One sample per character keeps the concatenation easy to check.
	samples := make([]float32, len(sentence))
	for i := range samples {
		samples[i] = float32(len(s.calls)) / 10
	}

	return core.Waveform{Samples: samples, SampleRate: rate}, nil
}

func (s *stubSynthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

type stubProvider struct {
	synthesizer core.Synthesizer
	err         error
	calls       int
}

func (s *stubProvider) Synthesizer(_ context.Context) (core.Synthesizer, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return s.synthesizer, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newEngine(t *testing.T, synthesizer *stubSynthesizer, opts ...tts.Option) *tts.Engine {
	t.Helper()

	return tts.New(&stubProvider{synthesizer: synthesizer}, newTestLogger(t), opts...)
}

func TestEngine_Synthesize(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 24000}
	engine := newEngine(t, synthesizer)

	var progress [][2]int

	result, err := engine.Synthesize(context.Background(), "A resistor limits current. It has two legs!",
		func(index, total int) {
			progress = append(progress, [2]int{index, total})
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"A resistor limits current.", "It has two legs!"}, synthesizer.Calls())
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
	assert.Equal(t, 2, result.Sentences)
	assert.Equal(t, 24000, result.SampleRate)

	first := len("A resistor limits current.")
	second := len("It has two legs!")

	require.Len(t, result.Samples, first+second)
	assert.InDelta(t, 0.1, result.Samples[0], 1e-6)
	assert.InDelta(t, 0.1, result.Samples[first-1], 1e-6)
	assert.InDelta(t, 0.2, result.Samples[first], 1e-6)
	assert.InDelta(t, float64(first+second)/24000, result.DurationSeconds(), 1e-9)
}

func TestEngine_Synthesize_ProgressPrecedesSynthesis(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000}
	engine := newEngine(t, synthesizer)

	var callsSeen []int

	_, err := engine.Synthesize(context.Background(), "One. Two. Three.", func(_, _ int) {
		callsSeen = append(callsSeen, len(synthesizer.Calls()))
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, callsSeen)
}

func TestEngine_Synthesize_LastSampleRateWins(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000, rates: map[string]int{"Two.": 22050}}
	engine := newEngine(t, synthesizer)

	result, err := engine.Synthesize(context.Background(), "One. Two.", nil)
	require.NoError(t, err)

	assert.Equal(t, 22050, result.SampleRate)
}

func TestEngine_Synthesize_FailsFast(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{
		rate:     16000,
		failures: map[string]error{"Two.": errSynthesisFailed},
	}
	engine := newEngine(t, synthesizer)

	result, err := engine.Synthesize(context.Background(), "One. Two. Three.", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	require.ErrorIs(t, err, errSynthesisFailed)
	assert.Contains(t, err.Error(), "sentence 2/3")
	assert.Equal(t, []string{"One.", "Two."}, synthesizer.Calls())
}

func TestEngine_Synthesize_InvalidSampleRate(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 0}
	engine := newEngine(t, synthesizer)

	_, err := engine.Synthesize(context.Background(), "Hello.", nil)
	require.ErrorIs(t, err, core.ErrModelUnavailable)
}

func TestEngine_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{synthesizer: &stubSynthesizer{rate: 16000}}
	engine := tts.New(provider, newTestLogger(t))

	for _, input := range []string{"", "   \n\t"} {
		_, err := engine.Synthesize(context.Background(), input, nil)
		require.ErrorIs(t, err, core.ErrInvalidInput)
	}

	assert.Zero(t, provider.calls, "the model must not be touched for invalid input")
}

func TestEngine_Synthesize_ModelUnavailable(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{err: core.ErrModelUnavailable}
	engine := tts.New(provider, newTestLogger(t))

	_, err := engine.Synthesize(context.Background(), "Hello.", nil)
	require.ErrorIs(t, err, core.ErrModelUnavailable)
}

func TestEngine_Synthesize_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	synthesizer := &stubSynthesizer{rate: 16000, failures: map[string]error{"Hello.": context.Canceled}}
	engine := newEngine(t, synthesizer)

	_, err := engine.Synthesize(ctx, "Hello.", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrModelUnavailable)
}

func TestEngine_MaxTextLength(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000}
	engine := newEngine(t, synthesizer, tts.WithMaxTextLength(10))

	_, err := engine.Synthesize(context.Background(), "Ωhm law. Is simple.", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Ωhm law.", "I"}, synthesizer.Calls())
}

func TestEngine_Normalization(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000}
	engine := newEngine(t, synthesizer, tts.WithNormalization(true))

	_, err := engine.Synthesize(context.Background(), "Drops 0.7 volts. Done.", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Drops zero point seven volts.", "Done."}, synthesizer.Calls())
}

func TestEngine_SentenceObserver(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000, failures: map[string]error{"Two.": errSynthesisFailed}}

	var outcomes []string

	engine := newEngine(t, synthesizer, tts.WithSentenceObserver(func(outcome string, _ time.Duration) {
		outcomes = append(outcomes, outcome)
	}))

	_, err := engine.Synthesize(context.Background(), "One. Two.", nil)
	require.Error(t, err)

	assert.Equal(t, []string{tts.OutcomeSynthesized, tts.OutcomeFailed}, outcomes)
}

func TestEngine_SynthesizeToFile(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{rate: 16000}
	engine := newEngine(t, synthesizer)

	path := filepath.Join(t.TempDir(), "out", "narration.wav")

	result, err := engine.SynthesizeToFile(context.Background(), "Hello there. How are you", path, nil)
	require.NoError(t, err)

	file, err := os.Open(path)
	require.NoError(t, err)

	defer file.Close()

	buf, err := wav.NewDecoder(file).FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 16000, buf.Format.SampleRate)
	assert.Len(t, buf.Data, len(result.Samples))
}

func TestEngine_Stream_SkipsFailedSentences(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{
		rate:     24000,
		failures: map[string]error{"Two.": errSynthesisFailed},
	}
	engine := newEngine(t, synthesizer)

	var chunks []tts.Chunk

	summary, err := engine.Stream(context.Background(), "One. Two. Three.", func(chunk tts.Chunk) error {
		chunks = append(chunks, chunk)

		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Index)
	assert.Equal(t, 3, chunks[1].Index)
	assert.Equal(t, 3, chunks[1].Total)
	assert.Equal(t, "Three.", chunks[1].Text)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Emitted)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, 2, summary.Failed[0].Index)

	partialErr := summary.Err()
	require.ErrorIs(t, partialErr, core.ErrPartialSynthesis)

	var partial *tts.PartialSynthesisError
	require.ErrorAs(t, partialErr, &partial)
	assert.Equal(t, 3, partial.Total)
}

func TestEngine_Stream_AllSucceed(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSynthesizer{rate: 24000})

	summary, err := engine.Stream(context.Background(), "One. Two.", func(tts.Chunk) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Emitted)
	assert.NoError(t, summary.Err())
}

func TestEngine_Stream_EmitFailureStops(t *testing.T) {
	t.Parallel()

	errClientGone := errors.New("client disconnected")
	synthesizer := &stubSynthesizer{rate: 24000}
	engine := newEngine(t, synthesizer)

	summary, err := engine.Stream(context.Background(), "One. Two. Three.", func(tts.Chunk) error {
		return errClientGone
	})
	require.ErrorIs(t, err, errClientGone)
	assert.Zero(t, summary.Emitted)
	assert.Len(t, synthesizer.Calls(), 1)
}

func TestEngine_Stream_EmptyText(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, &stubSynthesizer{rate: 24000})

	_, err := engine.Stream(context.Background(), " ", func(tts.Chunk) error { return nil })
	require.ErrorIs(t, err, core.ErrInvalidInput)
}
