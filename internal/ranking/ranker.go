package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/logger"
)

// DefaultNearMisses is how many closest candidates a rejection carries.
const DefaultNearMisses = 3

// ErrNoClassifierOutput indicates that the classifier returned no results at all,
// as opposed to results that failed the acceptance policy.
var ErrNoClassifierOutput = errors.New("classifier produced no output")

// Match is one accepted component with its raw score and percentage confidence.
type Match struct {
	ComponentID string  `json:"componentId"`
	Score       float64 `json:"score"`
	Confidence  int     `json:"confidence"`
}

func newMatch(score Score) Match {
	return Match{
		ComponentID: score.ComponentID,
		Score:       score.Score,
		Confidence:  score.Confidence(),
	}
}

// NoMatchError reports that nothing cleared the acceptance policy. NearMisses holds
// the best-ranked candidates so callers can offer suggestions.
type NoMatchError struct {
	NearMisses []Match
}

func (e *NoMatchError) Error() string {
	if len(e.NearMisses) == 0 {
		return core.ErrNoConfidentMatch.Error()
	}

	best := e.NearMisses[0]

	return fmt.Sprintf("%s: closest was %s at %d%%", core.ErrNoConfidentMatch, best.ComponentID, best.Confidence)
}

// Is lets callers test for core.ErrNoConfidentMatch.
func (e *NoMatchError) Is(target error) bool {
	return target == core.ErrNoConfidentMatch
}

// Query is one ranking request. Nil overrides fall back to the ranker's policy.
type Query struct {
	Image         []byte
	TopN          int
	MinConfidence *float64
	MinMargin     *float64
}

// Result is an accepted ranking. Ranked holds every aggregated component score.
type Result struct {
	Matches []Match
	Ranked  []Score
	Policy  Policy
	Elapsed time.Duration
}

// Best returns the highest ranked accepted match.
func (r *Result) Best() Match {
	return r.Matches[0]
}

// Ranker classifies images against a catalog's candidate phrases and applies the
// acceptance policy.
type Ranker struct {
	labels     *catalog.Labels
	provider   core.ClassifierProvider
	policy     Policy
	nearMisses int
	log        *logger.Logger
}

// Option customises a Ranker.
type Option func(*Ranker)

// WithPolicy sets the default acceptance policy.
func WithPolicy(policy Policy) Option {
	return func(r *Ranker) {
		r.policy = policy
	}
}

// WithNearMisses sets how many near misses a rejection carries.
func WithNearMisses(count int) Option {
	return func(r *Ranker) {
		if count >= 0 {
			r.nearMisses = count
		}
	}
}

// NewRanker creates a Ranker over the given label table.
func NewRanker(labels *catalog.Labels, provider core.ClassifierProvider, log *logger.Logger, opts ...Option) (*Ranker, error) {
	ranker := &Ranker{
		labels:     labels,
		provider:   provider,
		policy:     DefaultPolicy(),
		nearMisses: DefaultNearMisses,
		log:        log,
	}

	for _, opt := range opts {
		opt(ranker)
	}

	policyErr := ranker.policy.Validate()
	if policyErr != nil {
		return nil, fmt.Errorf("invalid default policy: %w", policyErr)
	}

	return ranker, nil
}

// Policy returns the ranker's default acceptance policy.
func (r *Ranker) Policy() Policy {
	return r.policy
}

// Rank classifies the image and returns the accepted matches. It fails with
// core.ErrInvalidInput before touching the model, with core.ErrModelUnavailable when
// the classifier cannot be obtained or reached, with ErrNoClassifierOutput on an empty
// classifier response and with *NoMatchError when nothing is accepted.
func (r *Ranker) Rank(ctx context.Context, query Query) (*Result, error) {
	policy, err := r.resolve(query)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	classifier, err := r.provider.Classifier(ctx)
	if err != nil {
		return nil, err
	}

	outputs, err := classifier.Classify(ctx, query.Image, r.labels.Phrases())
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	if len(outputs) == 0 {
		return nil, ErrNoClassifierOutput
	}

	ranked := Aggregate(r.labels, outputs)
	matches := r.selectMatches(ranked, policy, query.TopN)
	elapsed := time.Since(start)

	if len(matches) == 0 {
		r.log.Info("No confident match among %d components (%d raw labels) in %s", len(ranked), len(outputs), elapsed)

		return nil, &NoMatchError{NearMisses: r.nearMissList(ranked)}
	}

	r.log.Info("Identified %s at %d%% confidence in %s", matches[0].ComponentID, matches[0].Confidence, elapsed)

	return &Result{
		Matches: matches,
		Ranked:  ranked,
		Policy:  policy,
		Elapsed: elapsed,
	}, nil
}

func (r *Ranker) resolve(query Query) (Policy, error) {
	if len(query.Image) == 0 {
		return Policy{}, fmt.Errorf("%w: image is empty", core.ErrInvalidInput)
	}

	if query.TopN < 1 {
		return Policy{}, fmt.Errorf("%w: top n must be at least 1, got %d", core.ErrInvalidInput, query.TopN)
	}

	policy := r.policy
	if query.MinConfidence != nil {
		policy.MinConfidence = *query.MinConfidence
	}

	if query.MinMargin != nil {
		policy.MinMargin = *query.MinMargin
	}

	policyErr := policy.Validate()
	if policyErr != nil {
		return Policy{}, policyErr
	}

	return policy, nil
}

// selectMatches applies the two-part rule for a single best result and a plain
// floor when more than one result is requested.
func (r *Ranker) selectMatches(ranked []Score, policy Policy, topN int) []Match {
	if topN == 1 {
		if !Accept(ranked, policy) {
			return nil
		}

		return []Match{newMatch(ranked[0])}
	}

	matches := make([]Match, 0, topN)

	for _, score := range ranked {
		if len(matches) == topN {
			break
		}

		if score.Score >= policy.MinConfidence {
			matches = append(matches, newMatch(score))
		}
	}

	return matches
}

func (r *Ranker) nearMissList(ranked []Score) []Match {
	count := min(r.nearMisses, len(ranked))
	nearMisses := make([]Match, 0, count)

	for _, score := range ranked[:count] {
		nearMisses = append(nearMisses, newMatch(score))
	}

	return nearMisses
}

// classifyError keeps input and cancellation errors intact and reports anything
// else from the backend as an unavailable model.
func classifyError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrModelUnavailable):
		return fmt.Errorf("classification failed: %w", err)
	case ctx.Err() != nil:
		return fmt.Errorf("classification interrupted: %w", ctx.Err())
	default:
		return fmt.Errorf("%w: classification failed: %w", core.ErrModelUnavailable, err)
	}
}
