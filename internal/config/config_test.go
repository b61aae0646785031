// Package config_test tests the configuration loading for the narrator.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/component-narrator/internal/config"
	"github.com/book-expert/component-narrator/internal/ranking"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
identify_subject = "parts.identify"
speech_subject = "parts.speech"
object_store_bucket = "PARTS"

[inference]
base_url = "http://inference:9000"
classifier_model = "openai/clip-vit-large-patch14"
synthesizer_model = "facebook/mms-tts-eng"
voice = "default"
timeout_seconds = 30
load_timeout_seconds = 120

[ranking]
min_confidence = 0.1
min_margin = 0.0
top_n = 3
near_misses = 5

[speech]
max_text_length = 500
stream_max_text_length = 1500
normalize_text = true
cache_ttl_minutes = 10

[server]
address = "127.0.0.1:9090"
max_image_bytes = 1048576
request_timeout_seconds = 45

[paths]
base_logs_dir = "/var/log/narrator"
output_dir = "/srv/audio"
catalog_path = "/etc/narrator/components.toml"
`

	cfg, err := config.Parse([]byte(tomlData))
	require.NoError(t, err)

	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "parts.identify", cfg.NATS.IdentifySubject)
	assert.Equal(t, "parts.speech", cfg.NATS.SpeechSubject)
	assert.Equal(t, "PARTS", cfg.NATS.ObjectStoreBucket)

	assert.Equal(t, "http://inference:9000", cfg.Inference.BaseURL)
	assert.Equal(t, "openai/clip-vit-large-patch14", cfg.Inference.ClassifierModel)
	assert.Equal(t, 30*time.Second, cfg.Inference.Timeout())
	assert.Equal(t, 2*time.Minute, cfg.Inference.LoadTimeout())

	policy := cfg.Ranking.Policy()
	assert.InDelta(t, 0.1, policy.MinConfidence, 1e-9)
	assert.Zero(t, policy.MinMargin, "an explicit zero must not be replaced by the default")
	assert.Equal(t, 3, cfg.Ranking.TopN)
	assert.Equal(t, 5, *cfg.Ranking.NearMisses)

	assert.Equal(t, 500, cfg.Speech.MaxTextLength)
	assert.Equal(t, 1500, cfg.Speech.StreamMaxTextLength)
	assert.True(t, cfg.Speech.NormalizeText)
	assert.Equal(t, 10*time.Minute, cfg.Speech.CacheTTL())

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
	assert.Equal(t, 1048576, cfg.Server.MaxImageBytes)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout())

	assert.Equal(t, "/srv/audio", cfg.Paths.OutputDir)
	assert.Equal(t, "/etc/narrator/components.toml", cfg.Paths.CatalogPath)
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(""))
	require.NoError(t, err)

	assert.False(t, cfg.NATS.Enabled())
	assert.Equal(t, config.DefaultIdentifySubject, cfg.NATS.IdentifySubject)
	assert.Equal(t, config.DefaultInferenceURL, cfg.Inference.BaseURL)
	assert.Equal(t, config.DefaultClassifierModel, cfg.Inference.ClassifierModel)
	assert.Equal(t, config.DefaultSynthesizerModel, cfg.Inference.SynthesizerModel)
	assert.Equal(t, ranking.DefaultPolicy(), cfg.Ranking.Policy())
	assert.Equal(t, 1, cfg.Ranking.TopN)
	assert.Equal(t, ranking.DefaultNearMisses, *cfg.Ranking.NearMisses)
	assert.Equal(t, config.DefaultMaxTextLength, cfg.Speech.MaxTextLength)
	assert.Equal(t, config.DefaultStreamMaxLength, cfg.Speech.StreamMaxTextLength)
	assert.Equal(t, config.DefaultMaxImageBytes, cfg.Server.MaxImageBytes)
	assert.Equal(t, os.TempDir(), cfg.Paths.BaseLogsDir)
	assert.Equal(t, config.Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		data string
	}{
		{name: "confidence above one", data: "[ranking]\nmin_confidence = 1.5\n"},
		{name: "negative margin", data: "[ranking]\nmin_margin = -0.1\n"},
		{name: "negative top n", data: "[ranking]\ntop_n = -2\n"},
		{name: "negative near misses", data: "[ranking]\nnear_misses = -1\n"},
		{name: "negative timeout", data: "[inference]\ntimeout_seconds = -5\n"},
		{name: "negative image limit", data: "[server]\nmax_image_bytes = -1\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse([]byte(tc.data))
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := config.Parse([]byte("[ranking\nmin_confidence = "))
	require.Error(t, err)
	assert.NotErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "narrator.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ranking]\ntop_n = 2\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Ranking.TopN)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
