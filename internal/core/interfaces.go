// Package core defines the shared types, collaborator interfaces and error taxonomy
// for the identification and narration pipelines.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// LabelScore is one (label, score) pair returned by a zero-shot classifier.
// Scores are independent per-label probabilities and need not sum to 1.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier scores an opaque image against free-text candidate labels.
// The returned label casing is not guaranteed to match the candidates.
type Classifier interface {
	Classify(ctx context.Context, image []byte, candidates []string) ([]LabelScore, error)
}

// Waveform is a mono buffer of samples in [-1, 1] at SampleRate Hz.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Synthesizer turns a single sentence into a waveform.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Waveform, error)
}

// ClassifierProvider hands out a ready classifier, constructing it on first use.
type ClassifierProvider interface {
	Classifier(ctx context.Context) (Classifier, error)
}

// SynthesizerProvider hands out a ready synthesizer, constructing it on first use.
type SynthesizerProvider interface {
	Synthesizer(ctx context.Context) (Synthesizer, error)
}
