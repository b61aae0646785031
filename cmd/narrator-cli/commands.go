package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/fileutil"
	"github.com/book-expert/component-narrator/internal/ranking"
)

// Flag names.
const (
	flagCategory  = "category"
	flagJSON      = "json"
	flagTop       = "top"
	flagThreshold = "threshold"
	flagMargin    = "margin"
	flagText      = "text"
	flagOutput    = "output"
)

// User-facing messages.
const (
	msgNotRecognized = "Could not confidently identify the component. Try a closer photo with better lighting."
	msgNoneInTop     = "Could not identify any components. Try a clearer photo with good lighting."
	msgNoOutput      = "Could not analyze the image. Please try again."
	labelWidth       = 20
	nameWidth        = 22
	idWidth          = 18
	percent          = 100
)

var errInvalidFlag = errors.New("invalid flag value")

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}

func seconds(elapsed time.Duration) string {
	return fmt.Sprintf("%.1fs", elapsed.Seconds())
}

type componentSummary struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Category catalog.Category `json:"category"`
}

func newListCommand(a *app) *cobra.Command {
	var (
		categoryName string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all available electronic components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runList(cmd.OutOrStdout(), categoryName, asJSON)
		},
	}

	cmd.Flags().StringVarP(&categoryName, flagCategory, "c", "",
		"Filter by category: "+categoryNames())
	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "Output as JSON")

	return cmd
}

func categoryNames() string {
	names := make([]string, 0, len(catalog.Categories()))
	for _, category := range catalog.Categories() {
		names = append(names, string(category))
	}

	return strings.Join(names, ", ")
}

func (a *app) runList(out io.Writer, categoryName string, asJSON bool) error {
	components := a.catalog.All()
	header := fmt.Sprintf("Electronics Components (%d total)", len(components))

	if categoryName != "" {
		category, err := catalog.ParseCategory(categoryName)
		if err != nil {
			return fmt.Errorf("%w (valid: %s)", err, categoryNames())
		}

		components = a.catalog.ByCategory(category)
		header = fmt.Sprintf("Electronics Components - %s (%d)", category, len(components))
	}

	if asJSON {
		summaries := make([]componentSummary, 0, len(components))
		for _, component := range components {
			summaries = append(summaries, componentSummary{
				ID:       component.ID,
				Name:     component.Name,
				Category: component.Category,
			})
		}

		return writeJSON(out, summaries)
	}

	fmt.Fprintf(out, "\n%s\n\n", header)

	title := cases.Title(language.English)

	for _, category := range catalog.Categories() {
		var group []catalog.Component

		for _, component := range components {
			if component.Category == category {
				group = append(group, component)
			}
		}

		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(out, "  %s (%d):\n", title.String(string(category)), len(group))

		for _, component := range group {
			fmt.Fprintf(out, "    %-*s %s\n", idWidth, component.ID, component.Name)
		}

		fmt.Fprintln(out)
	}

	return nil
}

func newInfoCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <component-id>",
		Short: "Show detailed information for a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd.OutOrStdout(), args[0], asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, flagJSON, false, "Output as JSON")

	return cmd
}

func (a *app) runInfo(out io.Writer, id string, asJSON bool) error {
	component, err := a.component(id)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, component)
	}

	fmt.Fprintf(out, "\n%s\n%s\n", component.Name, strings.Repeat("=", len(component.Name)))
	fmt.Fprintf(out, "Category: %s\n\n", component.Category)
	fmt.Fprintf(out, "Description:\n  %s\n\n", component.Description)

	fmt.Fprintln(out, "Specs:")
	writeSpecs(out, "  ", component.Specs)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Circuit Example:\n  %s\n\n", component.CircuitExample)

	return nil
}

func writeSpecs(out io.Writer, indent string, specs []catalog.Spec) {
	for _, spec := range specs {
		fmt.Fprintf(out, "%s%-*s %s\n", indent, labelWidth, spec.Label, spec.Value)
	}
}

type identifyOptions struct {
	top       int
	threshold float64
	margin    float64
	asJSON    bool
}

type identifiedJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Confidence  int              `json:"confidence"`
	Category    catalog.Category `json:"category"`
	Description string           `json:"description,omitempty"`
	Specs       []catalog.Spec   `json:"specs,omitempty"`
}

type identifyErrorJSON struct {
	Error      string           `json:"error"`
	NearMisses []identifiedJSON `json:"nearMisses,omitempty"`
}

func newIdentifyCommand(a *app) *cobra.Command {
	var opts identifyOptions

	cmd := &cobra.Command{
		Use:   "identify <image>",
		Short: "Identify an electronic component from a photo",
		Long:  "Identify an electronic component from a photo (JPEG, PNG, WebP, BMP, TIFF).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := a.identifyQuery(cmd, opts)
			if err != nil {
				return err
			}

			return a.runIdentify(cmd, args[0], query, opts.asJSON)
		},
	}

	cmd.Flags().IntVar(&opts.top, flagTop, 0, "Show top N matches (default from configuration)")
	cmd.Flags().Float64Var(&opts.threshold, flagThreshold, 0, "Minimum confidence percentage")
	cmd.Flags().Float64Var(&opts.margin, flagMargin, 0, "Minimum lead over the runner-up, in percentage points")
	cmd.Flags().BoolVar(&opts.asJSON, flagJSON, false, "Output as JSON")

	return cmd
}

// identifyQuery turns the flags into a ranking query; percentages become fractions.
func (a *app) identifyQuery(cmd *cobra.Command, opts identifyOptions) (ranking.Query, error) {
	query := ranking.Query{TopN: a.cfg.Ranking.TopN}

	if cmd.Flags().Changed(flagTop) {
		if opts.top < 1 {
			return query, fmt.Errorf("%w: --%s must be at least 1", errInvalidFlag, flagTop)
		}

		query.TopN = opts.top
	}

	if cmd.Flags().Changed(flagThreshold) {
		if opts.threshold < 0 || opts.threshold > percent {
			return query, fmt.Errorf("%w: --%s must be between 0 and 100", errInvalidFlag, flagThreshold)
		}

		minConfidence := opts.threshold / percent
		query.MinConfidence = &minConfidence
	}

	if cmd.Flags().Changed(flagMargin) {
		if opts.margin < 0 || opts.margin > percent {
			return query, fmt.Errorf("%w: --%s must be between 0 and 100", errInvalidFlag, flagMargin)
		}

		minMargin := opts.margin / percent
		query.MinMargin = &minMargin
	}

	return query, nil
}

func (a *app) runIdentify(cmd *cobra.Command, imagePath string, query ranking.Query, asJSON bool) error {
	out := cmd.OutOrStdout()

	image, err := fileutil.ReadImage(imagePath, a.cfg.Server.MaxImageBytes)
	if err != nil {
		return err
	}

	query.Image = image

	pipes, err := a.pipelines()
	if err != nil {
		return err
	}

	if !asJSON {
		fmt.Fprint(out, "Loading classifier model...")
	}

	start := time.Now()

	_, err = pipes.Models.Classifier(cmd.Context())
	if err != nil {
		return err
	}

	if !asJSON {
		fmt.Fprintf(out, " done (%s)\nClassifying image...", seconds(time.Since(start)))
	}

	classifyStart := time.Now()

	result, err := pipes.Ranker.Rank(cmd.Context(), query)

	if !asJSON && (err == nil || isRecognitionOutcome(err)) {
		fmt.Fprintf(out, " done (%s)\n\n", seconds(time.Since(classifyStart)))
	}

	var noMatch *ranking.NoMatchError

	switch {
	case errors.As(err, &noMatch):
		return a.reportNoMatch(out, query.TopN, noMatch, asJSON)
	case errors.Is(err, ranking.ErrNoClassifierOutput):
		if asJSON {
			return writeJSON(out, identifyErrorJSON{Error: msgNoOutput})
		}

		fmt.Fprintln(out, msgNoOutput)

		return nil
	case err != nil:
		return err
	}

	if a.verbose && !asJSON {
		a.writeRanked(out, result.Ranked)
	}

	if query.TopN > 1 {
		return a.reportTop(out, result.Matches, asJSON)
	}

	return a.reportBest(out, result.Best(), asJSON)
}

func isRecognitionOutcome(err error) bool {
	var noMatch *ranking.NoMatchError

	return errors.As(err, &noMatch) || errors.Is(err, ranking.ErrNoClassifierOutput)
}

func (a *app) describe(match ranking.Match, detailed bool) identifiedJSON {
	described := identifiedJSON{ID: match.ComponentID, Name: match.ComponentID, Confidence: match.Confidence}

	component, ok := a.catalog.ByID(match.ComponentID)
	if !ok {
		return described
	}

	described.Name = component.Name
	described.Category = component.Category

	if detailed {
		described.Description = component.Description
		described.Specs = component.Specs
	}

	return described
}

func (a *app) writeRanked(out io.Writer, ranked []ranking.Score) {
	fmt.Fprintln(out, "All scores:")

	for _, score := range ranked {
		fmt.Fprintf(out, "  %-*s %.4f\n", nameWidth, score.ComponentID, score.Score)
	}

	fmt.Fprintln(out)
}

func (a *app) reportNoMatch(out io.Writer, topN int, noMatch *ranking.NoMatchError, asJSON bool) error {
	if asJSON {
		response := identifyErrorJSON{Error: "No component identified"}
		for _, miss := range noMatch.NearMisses {
			response.NearMisses = append(response.NearMisses, a.describe(miss, false))
		}

		return writeJSON(out, response)
	}

	message := msgNotRecognized
	if topN > 1 {
		message = msgNoneInTop
	}

	fmt.Fprintln(out, message)

	if len(noMatch.NearMisses) > 0 {
		fmt.Fprintln(out, "\nClosest guesses:")

		for _, miss := range noMatch.NearMisses {
			described := a.describe(miss, false)
			fmt.Fprintf(out, "   %-*s %d%% confidence\n", nameWidth, described.Name, described.Confidence)
		}
	}

	fmt.Fprintln(out)

	return nil
}

func (a *app) reportTop(out io.Writer, matches []ranking.Match, asJSON bool) error {
	described := make([]identifiedJSON, 0, len(matches))
	for _, match := range matches {
		described = append(described, a.describe(match, false))
	}

	if asJSON {
		return writeJSON(out, described)
	}

	fmt.Fprintf(out, "Top %d matches:\n\n", len(described))

	for index, match := range described {
		marker := "  "
		if index == 0 {
			marker = "->"
		}

		fmt.Fprintf(out, "%s %-*s %d%% confidence\n", marker, nameWidth, match.Name, match.Confidence)
	}

	fmt.Fprintln(out)

	return nil
}

func (a *app) reportBest(out io.Writer, best ranking.Match, asJSON bool) error {
	if asJSON {
		return writeJSON(out, a.describe(best, true))
	}

	component, err := a.component(best.ComponentID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Identified: %s (%d%% confidence)\n\n", component.Name, best.Confidence)
	fmt.Fprintf(out, "  Category:    %s\n", component.Category)
	fmt.Fprintf(out, "  Description: %s\n", component.Description)
	fmt.Fprintf(out, "  Circuit:     %s\n\n", component.CircuitExample)

	fmt.Fprintln(out, "  Specs:")
	writeSpecs(out, "    ", component.Specs)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "  Run `narrator-cli info %s` for full details.\n", component.ID)
	fmt.Fprintf(out, "  Run `narrator-cli speak %s` to generate a voice description.\n\n", component.ID)

	return nil
}

func newSpeakCommand(a *app) *cobra.Command {
	var text, output string

	cmd := &cobra.Command{
		Use:   "speak <component-id>",
		Short: "Generate a WAV audio file of a component's voice description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSpeak(cmd, args[0], text, output)
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, "o", "",
		"Output WAV file path (default: <output_dir>/<component-id>.wav)")
	cmd.Flags().StringVarP(&text, flagText, "t", "", "Custom text to speak instead of the component description")

	return cmd
}

func (a *app) runSpeak(cmd *cobra.Command, id, text, output string) error {
	out := cmd.OutOrStdout()

	component, err := a.component(id)
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed(flagText) {
		text = component.VoiceDescription
	}

	if output == "" {
		output = fileutil.NarrationPath(a.cfg.Paths.OutputDir, component.ID)
	}

	outputPath, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("failed to resolve output path %s: %w", output, err)
	}

	pipes, err := a.pipelines()
	if err != nil {
		return err
	}

	fmt.Fprint(out, "Loading TTS model...")

	start := time.Now()

	_, err = pipes.Models.Synthesizer(cmd.Context())
	if err != nil {
		fmt.Fprintln(out)

		return err
	}

	fmt.Fprintf(out, " done (%s)\n", seconds(time.Since(start)))
	fmt.Fprintf(out, "Synthesizing speech for %q...\n", component.Name)

	result, err := pipes.Speaker.SynthesizeToFile(cmd.Context(), text, outputPath, func(index, total int) {
		fmt.Fprintf(out, "\r  Sentence %d/%d...", index, total)
	})
	if err != nil {
		fmt.Fprintln(out)

		return err
	}

	fmt.Fprint(out, " done\n\n")
	fmt.Fprintf(out, "Saved: %s (%s, 16-bit PCM, %d Hz, %s audio)\n",
		outputPath, fileutil.FormatDuration(result.Elapsed.Seconds()), result.SampleRate,
		fileutil.FormatDuration(result.DurationSeconds()))

	a.log.Info("Saved narration for %s to %s (%d sentences)", component.ID, outputPath, result.Sentences)

	return nil
}
