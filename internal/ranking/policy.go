// Package ranking turns raw zero-shot classifier output into a calibrated component
// decision: per-component score aggregation, ordering and the acceptance policy.
package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/core"
)

// Default acceptance thresholds.
const (
	DefaultMinConfidence = 0.05
	DefaultMinMargin     = 0.01
)

const percentScale = 100

// Policy decides whether the best ranked component is accepted.
type Policy struct {
	// MinConfidence is the absolute score floor in [0, 1].
	MinConfidence float64 `json:"minConfidence" toml:"min_confidence"`
	// MinMargin is the floor for the gap between the best and second-best score.
	MinMargin float64 `json:"minMargin" toml:"min_margin"`
}

// DefaultPolicy returns the default acceptance thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence: DefaultMinConfidence,
		MinMargin:     DefaultMinMargin,
	}
}

// Validate checks that both thresholds are finite values in [0, 1].
func (p Policy) Validate() error {
	if !inUnitRange(p.MinConfidence) {
		return fmt.Errorf("%w: min confidence must be between 0 and 1, got %v", core.ErrInvalidInput, p.MinConfidence)
	}

	if !inUnitRange(p.MinMargin) {
		return fmt.Errorf("%w: min margin must be between 0 and 1, got %v", core.ErrInvalidInput, p.MinMargin)
	}

	return nil
}

func inUnitRange(value float64) bool {
	return value >= 0 && value <= 1
}

// Score is the best score observed for one component on one image.
type Score struct {
	ComponentID string  `json:"componentId"`
	Score       float64 `json:"score"`
}

// Confidence converts the score to an integer percentage in [0, 100].
func (s Score) Confidence() int {
	return Confidence(s.Score)
}

// Confidence rounds a [0, 1] score to an integer percentage, clamped to [0, 100].
func Confidence(score float64) int {
	percent := int(math.Round(score * percentScale))

	return min(max(percent, 0), percentScale)
}

// Aggregate folds classifier output into one score per component and orders the
// result by descending score. Empty labels, non-finite scores and labels that do not
// resolve to a component are dropped. Each component keeps the maximum score over
// all of its phrases. Equal scores keep catalog order.
func Aggregate(labels *catalog.Labels, outputs []core.LabelScore) []Score {
	best := make(map[string]float64)

	for _, output := range outputs {
		if strings.TrimSpace(output.Label) == "" || math.IsNaN(output.Score) || math.IsInf(output.Score, 0) {
			continue
		}

		componentID, ok := labels.Resolve(output.Label)
		if !ok {
			continue
		}

		current, seen := best[componentID]
		if !seen || output.Score > current {
			best[componentID] = output.Score
		}
	}

	ranked := make([]Score, 0, len(best))

	for _, componentID := range labels.ComponentIDs() {
		score, ok := best[componentID]
		if ok {
			ranked = append(ranked, Score{ComponentID: componentID, Score: score})
		}
	}

	slices.SortStableFunc(ranked, func(a, b Score) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return ranked
}

// Margin returns the gap between the best and second-best score. A single entry
// has no rival, so its margin is its own score.
func Margin(ranked []Score) float64 {
	switch len(ranked) {
	case 0:
		return 0
	case 1:
		return ranked[0].Score
	default:
		return ranked[0].Score - ranked[1].Score
	}
}

// Accept applies the two-part acceptance rule to the best entry: it is rejected
// only when it is both under the absolute floor and too close to its nearest rival.
func Accept(ranked []Score, policy Policy) bool {
	if len(ranked) == 0 {
		return false
	}

	top := ranked[0].Score

	return !(top < policy.MinConfidence && Margin(ranked) < policy.MinMargin)
}
