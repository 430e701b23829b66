package application

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

const minimalYAML = `
skills:
  empathy:
    weights:
      model: 0.35
      text_derived: 0.25
      interaction_derived: 0.2
      human_rated: 0.2
`

func TestParseConfig_AppliesDefaults(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "models", cfg.ModelsDir)
	assert.Equal(t, []string{"empathy"}, cfg.SkillNames())
	assert.Equal(t, 5, cfg.Evidence.MaxItems)
	assert.Equal(t, 20*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, 10000, cfg.Reasoning.CacheSize)
	assert.Equal(t, 60, cfg.Governor.PerMinute)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.Empty(t, cfg.LLM.Provider)

	// Then a skill without a schema gets the default feature layout
	schemas := cfg.Schemas()
	require.Len(t, schemas, 1)
	assert.Equal(t, domain.DefaultFeatureFields, schemas[0].Fields)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(minimalYAML + `
reasoning:
  timeout: 5s
  cache_ttl: 1h
governor:
  daily_ceiling: 3.5
  timezone: Europe/Berlin
llm:
  provider: openai
  api_key_env: OPENAI_API_KEY
  retry_base_delay: 250ms
storage:
  driver: sqlite
  path: /tmp/assay.db
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Reasoning.Timeout)
	assert.Equal(t, time.Hour, cfg.Reasoning.CacheTTL)
	assert.Equal(t, 400, cfg.Reasoning.MaxTokens, "unset inline fields keep defaults")
	assert.Equal(t, 3.5, cfg.Governor.DailyCeiling)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.RetryBaseDelay)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	gc, err := cfg.GovernorSettings()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", gc.Location.String())
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no skills", `models_dir: models`},
		{"unknown source kind", `
skills:
  empathy:
    weights: {gut_feeling: 1}
`},
		{"all weights zero", `
skills:
  empathy:
    weights: {model: 0, human_rated: 0}
`},
		{"negative weight", `
skills:
  empathy:
    weights: {model: 1, human_rated: -0.5}
`},
		{"unknown template band", minimalYAML + `    templates:
      expert: "{{.Skill}}"
`},
		{"duplicate feature", minimalYAML + `    schema:
      fields: [word_count, word_count]
`},
		{"bad timezone", minimalYAML + `
governor:
  timezone: Mars/Olympus
`},
		{"provider without key", minimalYAML + `
llm:
  provider: openai
`},
		{"more than one transport retry", minimalYAML + `
llm:
  max_retries: 2
`},
		{"unknown provider", minimalYAML + `
llm:
  provider: carrier-pigeon
  api_key_env: PIGEON_KEY
`},
		{"sqlite without path", minimalYAML + `
storage:
  driver: sqlite
`},
		{"word band inverted", minimalYAML + `
reasoning:
  min_words: 100
  max_words: 50
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestParseConfig_UnknownField(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(minimalYAML + "\nweigths: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weigths")
}

func TestParseConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), filepath.Join("..", "..", "configs", "assay.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []string{"collaboration", "empathy"}, cfg.SkillNames())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Contains(t, cfg.TemplateOverrides(), "collaboration")
	assert.Contains(t, cfg.Profiles(), "empathy")

	ws := cfg.WeightSet(7, time.Unix(0, 0))
	assert.Equal(t, int64(7), ws.Version)
	assert.InDelta(t, 0.35, ws.Skills["empathy"][domain.SourceModel], 1e-12)
}

func TestFileConfigLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg := &Config{}
	require.NoError(t, NewFileConfigLoader(path).Load(context.Background(), cfg))
	assert.Equal(t, []string{"empathy"}, cfg.SkillNames())

	err := NewFileConfigLoader(filepath.Join(dir, "missing.yaml")).Load(context.Background(), &Config{})
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)

	var notStruct int
	assert.Error(t, NewFileConfigLoader(path).Load(context.Background(), &notStruct))
}

func TestFileConfigLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	loader := NewFileConfigLoader(path, WithDebounce(20*time.Millisecond))
	reloaded := make(chan *Config, 4)
	stop, err := loader.Watch(context.Background(), &Config{}, func(v any) {
		reloaded <- v.(*Config)
	})
	require.NoError(t, err)
	defer stop()

	// When an invalid edit is saved it is skipped
	require.NoError(t, os.WriteFile(path, []byte("skills: {}\n"), 0o600))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}

	// When a valid edit is saved the callback sees the new weights
	updated := strings.Replace(minimalYAML, "human_rated: 0.2", "human_rated: 0.5", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	select {
	case cfg := <-reloaded:
		assert.InDelta(t, 0.5, cfg.Skills["empathy"].Weights[domain.SourceHumanRated], 1e-12)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	// And rewriting identical content is ignored
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	select {
	case <-reloaded:
		t.Fatal("unchanged content must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEngine_ReloadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)
	rt, err := Build(context.Background(), cfg, Dependencies{
		Loader: NewFileConfigLoader(path),
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, os.WriteFile(path,
		[]byte(strings.Replace(minimalYAML, "model: 0.35", "model: 0.9", 1)), 0o600))

	v, err := rt.Engine.ReloadWeights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.InDelta(t, 0.9, rt.Engine.Weights().Skills["empathy"][domain.SourceModel], 1e-12)

	// A broken file leaves the published weights alone.
	require.NoError(t, os.WriteFile(path, []byte("skills: {}\n"), 0o600))
	_, err = rt.Engine.ReloadWeights(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Equal(t, int64(2), rt.Engine.Weights().Version)
}
