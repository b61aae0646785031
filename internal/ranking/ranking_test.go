// Package ranking_test tests score aggregation, the acceptance policy and the ranker.
package ranking_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/ranking"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("connection refused")

type stubClassifier struct {
	outputs    []core.LabelScore
	err        error
	candidates []string
	calls      int
}

func (s *stubClassifier) Classify(_ context.Context, _ []byte, candidates []string) ([]core.LabelScore, error) {
	s.calls++
	s.candidates = candidates

	if s.err != nil {
		return nil, s.err
	}

	return s.outputs, nil
}

type stubProvider struct {
	classifier core.Classifier
	err        error
}

func (s *stubProvider) Classifier(_ context.Context) (core.Classifier, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.classifier, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "ranking-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// scenarioLabels is the two-component catalog used by the end-to-end scenario.
func scenarioLabels() *catalog.Labels {
	return catalog.BuildLabels([]catalog.Component{
		{
			ID:              "resistor",
			Name:            "Resistor",
			ClassifierLabel: "a photo of a resistor",
			Aliases:         []string{"a photo of an axial resistor"},
		},
		{
			ID:              "led",
			Name:            "LED",
			ClassifierLabel: "a photo of a LED",
		},
	})
}

func scenarioOutputs() []core.LabelScore {
	return []core.LabelScore{
		{Label: "a photo of an axial resistor", Score: 0.41},
		{Label: "a photo of a resistor", Score: 0.12},
		{Label: "a photo of a LED", Score: 0.02},
	}
}

func newRanker(t *testing.T, classifier *stubClassifier, opts ...ranking.Option) *ranking.Ranker {
	t.Helper()

	ranker, err := ranking.NewRanker(scenarioLabels(), &stubProvider{classifier: classifier, err: nil}, newTestLogger(t), opts...)
	require.NoError(t, err)

	return ranker
}

func TestAggregate_MaxPerComponentSortedDescending(t *testing.T) {
	t.Parallel()

	ranked := ranking.Aggregate(scenarioLabels(), scenarioOutputs())

	require.Equal(t, []ranking.Score{
		{ComponentID: "resistor", Score: 0.41},
		{ComponentID: "led", Score: 0.02},
	}, ranked)
	assert.Equal(t, 41, ranked[0].Confidence())
	assert.Equal(t, 2, ranked[1].Confidence())
}

func TestAggregate_DropsInvalidAndUnresolvedLabels(t *testing.T) {
	t.Parallel()

	ranked := ranking.Aggregate(scenarioLabels(), []core.LabelScore{
		{Label: "", Score: 0.9},
		{Label: "a photo of a cat", Score: 0.8},
		{Label: "a photo of a resistor", Score: math.NaN()},
		{Label: "a photo of a resistor", Score: math.Inf(1)},
		{Label: "A PHOTO OF A led ", Score: 0.3},
	})

	require.Equal(t, []ranking.Score{{ComponentID: "led", Score: 0.3}}, ranked)
}

func TestAggregate_TiesKeepCatalogOrder(t *testing.T) {
	t.Parallel()

	ranked := ranking.Aggregate(scenarioLabels(), []core.LabelScore{
		{Label: "a photo of a LED", Score: 0.2},
		{Label: "a photo of a resistor", Score: 0.2},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "resistor", ranked[0].ComponentID)
	assert.Equal(t, "led", ranked[1].ComponentID)
}

func TestAggregate_IsIdempotent(t *testing.T) {
	t.Parallel()

	labels := defaultCatalog(t).Labels()
	outputs := make([]core.LabelScore, 0, labels.Len())

	for index, phrase := range labels.Phrases() {
		outputs = append(outputs, core.LabelScore{Label: phrase, Score: float64((index*37)%101) / 100})
	}

	first := ranking.Aggregate(labels, outputs)
	second := ranking.Aggregate(labels, outputs)
	require.Equal(t, first, second)

	seen := make(map[string]bool)
	for index, score := range first {
		assert.False(t, seen[score.ComponentID], "duplicate component %s", score.ComponentID)
		seen[score.ComponentID] = true

		if index > 0 {
			assert.GreaterOrEqual(t, first[index-1].Score, score.Score)
		}
	}

	for _, output := range outputs {
		componentID, _ := labels.Resolve(output.Label)
		for _, score := range first {
			if score.ComponentID == componentID {
				assert.GreaterOrEqual(t, score.Score, output.Score)
			}
		}
	}

	assert.Equal(t, ranking.Accept(first, ranking.DefaultPolicy()), ranking.Accept(second, ranking.DefaultPolicy()))
}

func TestAccept(t *testing.T) {
	t.Parallel()

	policy := ranking.Policy{MinConfidence: 0.05, MinMargin: 0.01}

	tests := []struct {
		name   string
		ranked []ranking.Score
		want   bool
	}{
		{
			name:   "empty",
			ranked: nil,
			want:   false,
		},
		{
			name:   "margin clause accepts low absolute score",
			ranked: []ranking.Score{{ComponentID: "a", Score: 0.04}, {ComponentID: "b", Score: 0.01}},
			want:   true,
		},
		{
			name:   "floor clause accepts close race",
			ranked: []ranking.Score{{ComponentID: "a", Score: 0.30}, {ComponentID: "b", Score: 0.295}},
			want:   true,
		},
		{
			name:   "rejects low and close",
			ranked: []ranking.Score{{ComponentID: "a", Score: 0.04}, {ComponentID: "b", Score: 0.035}},
			want:   false,
		},
		{
			name:   "single entry uses its own score as margin",
			ranked: []ranking.Score{{ComponentID: "a", Score: 0.02}},
			want:   true,
		},
		{
			name:   "single entry below both floors",
			ranked: []ranking.Score{{ComponentID: "a", Score: 0.005}},
			want:   false,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, ranking.Accept(testCase.ranked, policy))
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ranking.DefaultPolicy().Validate())
	require.ErrorIs(t, ranking.Policy{MinConfidence: 1.5}.Validate(), core.ErrInvalidInput)
	require.ErrorIs(t, ranking.Policy{MinMargin: -0.1}.Validate(), core.ErrInvalidInput)
	require.ErrorIs(t, ranking.Policy{MinConfidence: math.NaN()}.Validate(), core.ErrInvalidInput)
}

func TestConfidence_Clamped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ranking.Confidence(-0.2))
	assert.Equal(t, 100, ranking.Confidence(1.3))
	assert.Equal(t, 42, ranking.Confidence(0.416))
	assert.Equal(t, 41, ranking.Confidence(0.414))
}

func TestRanker_EndToEndScenario(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: scenarioOutputs()}
	ranker := newRanker(t, classifier)

	result, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.NoError(t, err)

	assert.Equal(t, scenarioLabels().Phrases(), classifier.candidates)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, ranking.Match{ComponentID: "resistor", Score: 0.41, Confidence: 41}, result.Best())
	require.Len(t, result.Ranked, 2)
	assert.Equal(t, "led", result.Ranked[1].ComponentID)
	assert.Equal(t, 2, result.Ranked[1].Confidence())
}

func TestRanker_TopN(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: scenarioOutputs()}
	ranker := newRanker(t, classifier)

	floor := 0.01
	result, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 5, MinConfidence: &floor})
	require.NoError(t, err)

	assert.Equal(t, []ranking.Match{
		{ComponentID: "resistor", Score: 0.41, Confidence: 41},
		{ComponentID: "led", Score: 0.02, Confidence: 2},
	}, result.Matches)

	result, err = ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 3})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1, "plain floor drops the 2 percent entry")
}

func TestRanker_TopNIgnoresMarginClause(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: []core.LabelScore{
		{Label: "a photo of a resistor", Score: 0.04},
		{Label: "a photo of a LED", Score: 0.01},
	}}
	ranker := newRanker(t, classifier)

	single, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.NoError(t, err)
	assert.Equal(t, "resistor", single.Best().ComponentID)

	_, err = ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 2})
	require.ErrorIs(t, err, core.ErrNoConfidentMatch)
}

func TestRanker_RejectionCarriesNearMisses(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: []core.LabelScore{
		{Label: "a photo of a resistor", Score: 0.03},
		{Label: "a photo of a LED", Score: 0.025},
	}}
	ranker := newRanker(t, classifier, ranking.WithNearMisses(1))

	_, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.ErrorIs(t, err, core.ErrNoConfidentMatch)
	require.NotErrorIs(t, err, core.ErrModelUnavailable)

	var noMatch *ranking.NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.Equal(t, []ranking.Match{{ComponentID: "resistor", Score: 0.03, Confidence: 3}}, noMatch.NearMisses)
	assert.Contains(t, err.Error(), "resistor")
}

func TestRanker_UnresolvedOutputIsNoMatch(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: []core.LabelScore{{Label: "a photo of a cat", Score: 0.9}}}
	ranker := newRanker(t, classifier)

	_, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})

	var noMatch *ranking.NoMatchError
	require.ErrorAs(t, err, &noMatch)
	assert.Empty(t, noMatch.NearMisses)
}

func TestRanker_EmptyOutputIsDistinct(t *testing.T) {
	t.Parallel()

	ranker := newRanker(t, &stubClassifier{outputs: nil})

	_, err := ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.ErrorIs(t, err, ranking.ErrNoClassifierOutput)
	require.NotErrorIs(t, err, core.ErrNoConfidentMatch)
}

func TestRanker_InvalidInputSkipsClassifier(t *testing.T) {
	t.Parallel()

	classifier := &stubClassifier{outputs: scenarioOutputs()}
	ranker := newRanker(t, classifier)
	badFloor := 2.0

	queries := []ranking.Query{
		{Image: nil, TopN: 1},
		{Image: []byte("jpeg"), TopN: 0},
		{Image: []byte("jpeg"), TopN: 1, MinConfidence: &badFloor},
	}

	for _, query := range queries {
		_, err := ranker.Rank(context.Background(), query)
		require.ErrorIs(t, err, core.ErrInvalidInput)
	}

	assert.Zero(t, classifier.calls)
}

func TestRanker_ModelUnavailable(t *testing.T) {
	t.Parallel()

	loadErr := errors.Join(core.ErrModelUnavailable, errBackendDown)
	ranker, err := ranking.NewRanker(scenarioLabels(), &stubProvider{err: loadErr}, newTestLogger(t))
	require.NoError(t, err)

	_, err = ranker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	require.NotErrorIs(t, err, core.ErrNoConfidentMatch)

	backendRanker := newRanker(t, &stubClassifier{err: errBackendDown})

	_, err = backendRanker.Rank(context.Background(), ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.ErrorIs(t, err, core.ErrModelUnavailable)
	require.ErrorIs(t, err, errBackendDown)
}

func TestRanker_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ranker := newRanker(t, &stubClassifier{err: context.Canceled})

	_, err := ranker.Rank(ctx, ranking.Query{Image: []byte("jpeg"), TopN: 1})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, core.ErrModelUnavailable)
}

func TestNewRanker_RejectsInvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := ranking.NewRanker(scenarioLabels(), &stubProvider{}, newTestLogger(t), ranking.WithPolicy(ranking.Policy{MinConfidence: 3}))
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	return cat
}
