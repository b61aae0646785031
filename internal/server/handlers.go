package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/core"
	"github.com/book-expert/component-narrator/internal/ranking"
	"github.com/book-expert/component-narrator/internal/tts"
	"github.com/book-expert/component-narrator/internal/tts/audio"
)

// User-facing messages.
const (
	msgNoImage          = "No image provided."
	msgBadImage         = "Image is not valid base64 data."
	msgImageTooLarge    = "Image is too large for inference. Please upload a smaller image."
	msgNotRecognized    = "Could not identify the component. Try a clearer photo with good lighting."
	msgNoOutput         = "Could not analyze the image. Please try again."
	msgModelUnavailable = "AI service temporarily unavailable. Please try again in a moment."
	msgNoText           = "No text provided."
	msgTTSUnavailable   = "TTS service temporarily unavailable."
	msgInvalidBody      = "Invalid request body."
	msgUnknownComponent = "Unknown component."
	msgInternal         = "Internal error."
)

// Response headers.
const (
	contentTypeWAV    = "audio/wav"
	contentTypeNDJSON = "application/x-ndjson"
	cacheAudio        = "public, max-age=86400"
	cacheNone         = "no-cache"
)

type identifyRequest struct {
	Image         string   `json:"image"`
	TopN          int      `json:"top_n"`
	MinConfidence *float64 `json:"min_confidence"`
	MinMargin     *float64 `json:"min_margin"`
}

type matchResponse struct {
	ComponentID string  `json:"componentId"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Confidence  int     `json:"confidence"`
}

type identifyResponse struct {
	Success     bool            `json:"success"`
	ComponentID string          `json:"componentId,omitempty"`
	Confidence  int             `json:"confidence,omitempty"`
	Matches     []matchResponse `json:"matches,omitempty"`
	TopScores   []matchResponse `json:"topScores,omitempty"`
	ElapsedMS   int64           `json:"elapsedMs,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type speakRequest struct {
	Text string `json:"text"`
}

type streamLine struct {
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Classifier  bool   `json:"classifierLoaded"`
	Synthesizer bool   `json:"synthesizerLoaded"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleIdentify(c echo.Context) error {
	var request identifyRequest

	bindErr := c.Bind(&request)
	if errors.Is(bindErr, echo.ErrStatusRequestEntityTooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, identifyResponse{Error: msgImageTooLarge})
	}

	if bindErr != nil {
		return c.JSON(http.StatusBadRequest, identifyResponse{Error: msgInvalidBody})
	}

	image, status, message := decodeImage(request.Image, s.cfg.MaxImageBytes)
	if status != http.StatusOK {
		return c.JSON(status, identifyResponse{Error: message})
	}

	topN := request.TopN
	if topN == 0 {
		topN = 1
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.RequestTimeout())
	defer cancel()

	start := time.Now()

	result, err := s.deps.Identifier.Rank(ctx, ranking.Query{
		Image:         image,
		TopN:          topN,
		MinConfidence: request.MinConfidence,
		MinMargin:     request.MinMargin,
	})

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIdentify(time.Since(start), err)
	}

	if err != nil {
		return s.identifyError(c, err)
	}

	best := result.Best()

	return c.JSON(http.StatusOK, identifyResponse{
		Success:     true,
		ComponentID: best.ComponentID,
		Confidence:  best.Confidence,
		Matches:     s.describeMatches(result.Matches),
		ElapsedMS:   result.Elapsed.Milliseconds(),
	})
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(encoded string, maxBytes int) ([]byte, int, string) {
	if _, payload, found := strings.Cut(encoded, ","); found {
		encoded = payload
	}

	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, http.StatusBadRequest, msgNoImage
	}

	if base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+2 {
		return nil, http.StatusRequestEntityTooLarge, msgImageTooLarge
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, http.StatusBadRequest, msgBadImage
	}

	if len(image) == 0 {
		return nil, http.StatusBadRequest, msgNoImage
	}

	if len(image) > maxBytes {
		return nil, http.StatusRequestEntityTooLarge, msgImageTooLarge
	}

	return image, http.StatusOK, ""
}

// identifyError keeps "nothing recognized" apart from "service unavailable".
func (s *Server) identifyError(c echo.Context, err error) error {
	var noMatch *ranking.NoMatchError

	switch {
	case errors.As(err, &noMatch):
		return c.JSON(http.StatusOK, identifyResponse{
			Error:     msgNotRecognized,
			TopScores: s.describeMatches(noMatch.NearMisses),
		})
	case errors.Is(err, ranking.ErrNoClassifierOutput):
		return c.JSON(http.StatusOK, identifyResponse{Error: msgNoOutput})
	case errors.Is(err, core.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, identifyResponse{Error: err.Error()})
	default:
		s.log.Error("Identification failed: %v", err)

		return c.JSON(http.StatusServiceUnavailable, identifyResponse{Error: msgModelUnavailable})
	}
}

func (s *Server) describeMatches(matches []ranking.Match) []matchResponse {
	described := make([]matchResponse, 0, len(matches))

	for _, match := range matches {
		entry := matchResponse{
			ComponentID: match.ComponentID,
			Score:       match.Score,
			Confidence:  match.Confidence,
		}

		if component, ok := s.deps.Catalog.ByID(match.ComponentID); ok {
			entry.Name = component.Name
		}

		described = append(described, entry)
	}

	return described
}

func (s *Server) handleSpeak(c echo.Context) error {
	text, ok := bindText(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoText})
	}

	if cached, found := s.audioCache.Get(text); found {
		if data, isAudio := cached.([]byte); isAudio {
			s.recordAudioCache(true)

			return s.sendWAV(c, data)
		}
	}

	s.recordAudioCache(false)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.RequestTimeout())
	defer cancel()

	result, err := s.deps.Speaker.Synthesize(ctx, text, nil)
	if err != nil {
		return s.speechError(c, err)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSynthesis(result.Elapsed)
	}

	data, err := audio.EncodeWAV(result.Samples, result.SampleRate)
	if err != nil {
		s.log.Error("Failed to encode narration: %v", err)

		return c.JSON(http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}

	s.audioCache.SetDefault(text, data)

	return s.sendWAV(c, data)
}

func (s *Server) sendWAV(c echo.Context, data []byte) error {
	c.Response().Header().Set(echo.HeaderCacheControl, cacheAudio)

	return c.Blob(http.StatusOK, contentTypeWAV, data)
}

func (s *Server) recordAudioCache(hit bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordAudioCache(hit)
	}
}

// handleSpeakStream writes one NDJSON line per synthesized sentence. Sentences that
// fail are skipped. Headers are committed with the first line, so a request that
// produces no audio at all still gets an error status.
func (s *Server) handleSpeakStream(c echo.Context) error {
	text, ok := bindText(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoText})
	}

	response := c.Response()
	encoder := json.NewEncoder(response)

	emit := func(chunk tts.Chunk) error {
		data, err := audio.EncodeWAV(chunk.Samples, chunk.SampleRate)
		if err != nil {
			return err
		}

		if !response.Committed {
			response.Header().Set(echo.HeaderContentType, contentTypeNDJSON)
			response.Header().Set(echo.HeaderCacheControl, cacheNone)
			response.WriteHeader(http.StatusOK)
		}

		err = encoder.Encode(streamLine{
			Index:      chunk.Index - 1,
			Total:      chunk.Total,
			SampleRate: chunk.SampleRate,
			Audio:      base64.StdEncoding.EncodeToString(data),
		})
		if err != nil {
			return err
		}

		response.Flush()

		return nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.RequestTimeout())
	defer cancel()

	summary, err := s.deps.Streamer.Stream(ctx, text, emit)

	switch {
	case err != nil && response.Committed:
		s.log.Warn("Narration stream stopped early: %v", err)

		return nil
	case err != nil:
		return s.speechError(c, err)
	}

	partialErr := summary.Err()
	if partialErr != nil {
		s.log.Warn("Narration stream finished with gaps: %v", partialErr)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSynthesis(summary.Elapsed)
	}

	if !response.Committed {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: msgTTSUnavailable})
	}

	return nil
}

func (s *Server) speechError(c echo.Context, err error) error {
	if errors.Is(err, core.ErrInvalidInput) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: msgNoText})
	}

	s.log.Error("Narration failed: %v", err)

	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: msgTTSUnavailable})
}

func bindText(c echo.Context) (string, bool) {
	var request speakRequest

	bindErr := c.Bind(&request)
	if bindErr != nil {
		return "", false
	}

	text := strings.TrimSpace(request.Text)

	return text, text != ""
}

func (s *Server) handleListComponents(c echo.Context) error {
	name := c.QueryParam("category")
	if name == "" {
		return c.JSON(http.StatusOK, s.deps.Catalog.All())
	}

	category, err := catalog.ParseCategory(name)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	components := s.deps.Catalog.ByCategory(category)
	if components == nil {
		components = []catalog.Component{}
	}

	return c.JSON(http.StatusOK, components)
}

func (s *Server) handleGetComponent(c echo.Context) error {
	component, ok := s.deps.Catalog.ByID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: msgUnknownComponent})
	}

	return c.JSON(http.StatusOK, component)
}

func (s *Server) handleHealth(c echo.Context) error {
	response := healthResponse{Status: "ok"}

	if s.deps.ModelsReady != nil {
		response.Classifier, response.Synthesizer = s.deps.ModelsReady()
	}

	if s.deps.Health != nil {
		err := s.deps.Health(c.Request().Context())
		if err != nil {
			response.Status = "unavailable"
			response.Error = err.Error()

			return c.JSON(http.StatusServiceUnavailable, response)
		}
	}

	return c.JSON(http.StatusOK, response)
}
