package application

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ahrav/go-assay/infrastructure/evidence"
	"github.com/ahrav/go-assay/infrastructure/governor"
	"github.com/ahrav/go-assay/infrastructure/reasoning"
	"github.com/ahrav/go-assay/internal/domain"
)

// Config is the complete engine configuration, normally loaded from YAML
// by FileConfigLoader.
type Config struct {
	// ModelsDir holds the per-skill model artifacts, "<skill>.yaml".
	ModelsDir string `yaml:"models_dir" validate:"required"`

	// Skills configures every skill the engine can assess.
	Skills map[string]SkillConfig `yaml:"skills" validate:"required,min=1,dive,keys,required,endkeys"`

	// Evidence tunes evidence selection for all skills.
	Evidence evidence.Selection `yaml:"evidence"`

	Reasoning ReasoningConfig `yaml:"reasoning"`
	Governor  GovernorConfig  `yaml:"governor"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Batch     BatchConfig     `yaml:"batch"`
}

// SkillConfig holds the per-skill settings.
type SkillConfig struct {
	// Schema fixes the feature layout fed to the skill's model. An empty
	// field list uses domain.DefaultFeatureFields.
	Schema SchemaConfig `yaml:"schema"`

	// Weights are the initial fusion weights. At least one must be positive.
	Weights domain.FusionWeights `yaml:"weights" validate:"required,weightsnonzero,dive,keys,sourcekind,endkeys,min=0"`

	// Profile drives evidence relevance. Nil uses the default profile.
	Profile *evidence.SkillProfile `yaml:"profile"`

	// Templates overrides the fallback reasoning text per score band.
	Templates map[domain.ScoreBand]string `yaml:"templates" validate:"dive,keys,oneof=emerging developing proficient,endkeys,required"`
}

// SchemaConfig describes a feature schema.
type SchemaConfig struct {
	Version string   `yaml:"version"`
	Fields  []string `yaml:"fields" validate:"dive,required"`
}

// ReasoningConfig extends the generator settings with cache sizing.
type ReasoningConfig struct {
	reasoning.Config `yaml:",inline"`

	// CacheSize bounds the number of cached explanations.
	CacheSize int `yaml:"cache_size" validate:"min=1"`
}

// GovernorConfig extends the governor limits with a named time zone for
// day boundaries.
type GovernorConfig struct {
	governor.Config `yaml:",inline"`

	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `yaml:"timezone" validate:"omitempty,timezone"`

	// LedgerRetention is how long ledger entries stay in memory.
	LedgerRetention time.Duration `yaml:"ledger_retention" validate:"min=0"`
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	// Provider is a registered provider name. Empty disables the service
	// and every explanation uses templates.
	Provider string `yaml:"provider" validate:"omitempty,oneof=openai anthropic google"`
	Model    string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string        `yaml:"api_key_env" validate:"required_with=Provider"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=0"`

	MaxRetries     int           `yaml:"max_retries" validate:"min=0,max=1"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"min=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"min=0"`

	CircuitMaxFailures int           `yaml:"circuit_max_failures" validate:"min=0"`
	CircuitCooldown    time.Duration `yaml:"circuit_cooldown" validate:"min=0"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite memory"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// BatchConfig tunes batch fan-out.
type BatchConfig struct {
	// Concurrency caps the units processed at once.
	Concurrency int `yaml:"concurrency" validate:"min=1"`
}

// SetDefaults fills c with the production defaults. FileConfigLoader calls
// it before decoding, so YAML only needs to name what it changes.
func (c *Config) SetDefaults() {
	c.ModelsDir = "models"
	c.Evidence = evidence.DefaultSelection()
	c.Reasoning = ReasoningConfig{Config: reasoning.DefaultConfig(), CacheSize: 10000}
	c.Governor = GovernorConfig{Config: governor.DefaultConfig(), LedgerRetention: governor.DefaultRetention}
	c.LLM = LLMConfig{
		MaxRetries:         1,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      5 * time.Second,
		CircuitMaxFailures: 5,
		CircuitCooldown:    30 * time.Second,
	}
	c.Storage = StorageConfig{Driver: "memory"}
	c.Batch = BatchConfig{Concurrency: 8}
}

// DefaultConfig returns a Config with defaults and no skills.
func DefaultConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	verr := domain.NewValidationError("config")
	for _, skill := range c.SkillNames() {
		sc := c.Skills[skill]
		if sc.Profile != nil {
			if err := sc.Profile.Validate(); err != nil {
				verr.AddError(fmt.Sprintf("skill %s: %v", skill, err))
			}
		}
		if dup := firstDuplicate(sc.Schema.Fields); dup != "" {
			verr.AddError(fmt.Sprintf("skill %s: duplicate feature %q", skill, dup))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// SkillNames returns the configured skills in sorted order.
func (c *Config) SkillNames() []string {
	return slices.Sorted(maps.Keys(c.Skills))
}

// Schemas returns the feature schema for every skill.
func (c *Config) Schemas() []domain.FeatureSchema {
	out := make([]domain.FeatureSchema, 0, len(c.Skills))
	for _, skill := range c.SkillNames() {
		sc := c.Skills[skill]
		fields := sc.Schema.Fields
		if len(fields) == 0 {
			fields = domain.DefaultFeatureFields
		}
		out = append(out, domain.FeatureSchema{
			Skill:   skill,
			Version: sc.Schema.Version,
			Fields:  slices.Clone(fields),
		})
	}
	return out
}

// Profiles returns the evidence profiles of skills that declare one.
func (c *Config) Profiles() map[string]evidence.SkillProfile {
	out := make(map[string]evidence.SkillProfile)
	for skill, sc := range c.Skills {
		if sc.Profile != nil {
			out[skill] = *sc.Profile
		}
	}
	return out
}

// TemplateOverrides returns the per-skill fallback template overrides.
func (c *Config) TemplateOverrides() map[string]map[domain.ScoreBand]string {
	out := make(map[string]map[domain.ScoreBand]string)
	for skill, sc := range c.Skills {
		if len(sc.Templates) > 0 {
			out[skill] = maps.Clone(sc.Templates)
		}
	}
	return out
}

// WeightSet builds a weight set from the configured weights.
func (c *Config) WeightSet(version int64, at time.Time) *domain.WeightSet {
	ws := &domain.WeightSet{
		Version:  version,
		Skills:   make(map[string]domain.FusionWeights, len(c.Skills)),
		LoadedAt: at,
	}
	for skill, sc := range c.Skills {
		ws.Skills[skill] = sc.Weights.Clone()
	}
	return ws
}

// GovernorSettings resolves the time zone into a governor.Config.
func (c *Config) GovernorSettings() (governor.Config, error) {
	gc := c.Governor.Config
	gc.Location = time.UTC
	if c.Governor.Timezone != "" {
		loc, err := time.LoadLocation(c.Governor.Timezone)
		if err != nil {
			return governor.Config{}, fmt.Errorf("%w: timezone %q: %w", domain.ErrInvalidConfiguration, c.Governor.Timezone, err)
		}
		gc.Location = loc
	}
	return gc, nil
}

func firstDuplicate(fields []string) string {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			return f
		}
		seen[f] = struct{}{}
	}
	return ""
}
