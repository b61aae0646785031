// Package pipeline assembles the identification and narration pipelines from a
// loaded configuration.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/config"
	"github.com/book-expert/component-narrator/internal/inference"
	"github.com/book-expert/component-narrator/internal/modelcache"
	"github.com/book-expert/component-narrator/internal/ranking"
	"github.com/book-expert/component-narrator/internal/tts"
)

// Recorder receives model load and per-sentence measurements.
type Recorder interface {
	RecordModelLoad(model string, elapsed time.Duration, err error)
	RecordSentence(outcome string, elapsed time.Duration)
}

// Pipelines holds the assembled collaborators.
type Pipelines struct {
	Catalog  *catalog.Catalog
	Client   *inference.Client
	Models   *modelcache.Cache
	Ranker   *ranking.Ranker
	Speaker  *tts.Engine
	Streamer *tts.Engine
}

// LoadCatalog returns the catalog named by the configuration, or the built-in one.
func LoadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Paths.CatalogPath == "" {
		return catalog.Default()
	}

	return catalog.LoadFile(cfg.Paths.CatalogPath)
}

// Build wires the catalog, inference client, model cache, ranker and narration
// engines. recorder may be nil.
func Build(cfg *config.Config, client *inference.Client, recorder Recorder, log *logger.Logger) (*Pipelines, error) {
	components, err := LoadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	cacheOpts := []modelcache.Option{modelcache.WithLoadTimeout(cfg.Inference.LoadTimeout())}

	var engineOpts []tts.Option

	if recorder != nil {
		cacheOpts = append(cacheOpts, modelcache.WithLoadObserver(recorder.RecordModelLoad))
		engineOpts = append(engineOpts, tts.WithSentenceObserver(recorder.RecordSentence))
	}

	models := modelcache.New(
		client.ClassifierLoader(cfg.Inference.ClassifierModel),
		client.SynthesizerLoader(cfg.Inference.SynthesizerModel, cfg.Inference.Voice),
		log,
		cacheOpts...,
	)

	ranker, err := ranking.NewRanker(
		components.Labels(),
		models,
		log,
		ranking.WithPolicy(cfg.Ranking.Policy()),
		ranking.WithNearMisses(*cfg.Ranking.NearMisses),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ranker: %w", err)
	}

	engineOpts = append(engineOpts, tts.WithNormalization(cfg.Speech.NormalizeText))

	speaker := tts.New(models, log, append(engineOpts, tts.WithMaxTextLength(cfg.Speech.MaxTextLength))...)
	streamer := tts.New(models, log, append(engineOpts, tts.WithMaxTextLength(cfg.Speech.StreamMaxTextLength))...)

	return &Pipelines{
		Catalog:  components,
		Client:   client,
		Models:   models,
		Ranker:   ranker,
		Speaker:  speaker,
		Streamer: streamer,
	}, nil
}

// Health checks the inference sidecar.
func (p *Pipelines) Health(ctx context.Context) error {
	return p.Client.HealthCheck(ctx)
}
