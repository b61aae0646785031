package inference

import (
	"context"
	"fmt"

	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/modelcache"
)

// Classifier is a loaded zero-shot image classification model.
type Classifier struct {
	client *Client
	model  string
}

// Classify implements core.Classifier.
func (c *Classifier) Classify(ctx context.Context, image []byte, candidates []string) ([]core.LabelScore, error) {
	return c.client.Classify(ctx, c.model, image, candidates)
}

// Synthesizer is a loaded text-to-speech model.
type Synthesizer struct {
	client *Client
	model  string
	voice  string
}

// Synthesize implements core.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (core.Waveform, error) {
	return s.client.Synthesize(ctx, s.model, s.voice, text)
}

// ClassifierLoader returns a loader that constructs model on the sidecar.
func (c *Client) ClassifierLoader(model string) modelcache.Loader[core.Classifier] {
	return func(ctx context.Context) (core.Classifier, error) {
		err := c.LoadModel(ctx, TaskZeroShotImageClassification, model)
		if err != nil {
			return nil, fmt.Errorf("failed to load classifier %s: %w", model, err)
		}

		return &Classifier{client: c, model: model}, nil
	}
}

// SynthesizerLoader returns a loader that constructs model on the sidecar.
func (c *Client) SynthesizerLoader(model, voice string) modelcache.Loader[core.Synthesizer] {
	return func(ctx context.Context) (core.Synthesizer, error) {
		err := c.LoadModel(ctx, TaskTextToSpeech, model)
		if err != nil {
			return nil, fmt.Errorf("failed to load synthesizer %s: %w", model, err)
		}

		return &Synthesizer{client: c, model: model, voice: voice}, nil
	}
}
