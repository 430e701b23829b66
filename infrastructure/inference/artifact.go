package inference

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/internal/domain"
)

// Link functions supported by linear artifacts.
const (
	LinkLogistic = "logistic"
	LinkIdentity = "identity"
)

var validate = validator.New()

// Scorer is a loaded, read-only scoring function. Implementations must be
// safe for concurrent use.
type Scorer interface {
	// Score maps a vector in schema order to a raw score. Callers clamp.
	Score(values []float64) float64

	// Features returns the ordered feature names the scorer was trained on.
	Features() []string

	// Version identifies the artifact.
	Version() string
}

// Artifact is the on-disk description of a pre-trained linear scoring
// function.
type Artifact struct {
	Skill         string    `yaml:"skill" validate:"required"`
	Version       string    `yaml:"version" validate:"required"`
	SchemaVersion string    `yaml:"schema_version"`
	Features      []string  `yaml:"features" validate:"required,min=1,dive,required"`
	Coefficients  []float64 `yaml:"coefficients" validate:"required,min=1"`
	Intercept     float64   `yaml:"intercept"`
	Link          string    `yaml:"link" validate:"omitempty,oneof=logistic identity"`
}

// LinearModel scores a vector as link(intercept + coefficients·x).
type LinearModel struct {
	artifact Artifact
}

// NewLinearModel validates a and returns a LinearModel.
func NewLinearModel(a Artifact) (*LinearModel, error) {
	if err := validate.Struct(a); err != nil {
		return nil, fmt.Errorf("artifact validation failed: %w", err)
	}
	if len(a.Features) != len(a.Coefficients) {
		return nil, fmt.Errorf("artifact has %d features but %d coefficients",
			len(a.Features), len(a.Coefficients))
	}
	if a.Link == "" {
		a.Link = LinkLogistic
	}
	return &LinearModel{artifact: a}, nil
}

// Score implements Scorer.
func (m *LinearModel) Score(values []float64) float64 {
	z := m.artifact.Intercept + floats.Dot(m.artifact.Coefficients, values)
	if m.artifact.Link == LinkIdentity {
		return z
	}
	return 1 / (1 + math.Exp(-z))
}

// Features implements Scorer.
func (m *LinearModel) Features() []string { return m.artifact.Features }

// Version implements Scorer.
func (m *LinearModel) Version() string { return m.artifact.Version }

// Loader loads the scoring function for a skill.
type Loader interface {
	Load(skill string) (Scorer, error)
}

// DirLoader reads "<dir>/<skill>.yaml" artifacts.
type DirLoader struct {
	Dir string
}

// Load implements Loader. A missing file is reported as os.ErrNotExist so
// the engine can surface it as a ModelUnavailableError.
func (l DirLoader) Load(skill string) (Scorer, error) {
	if skill == "" || filepath.Base(skill) != skill {
		return nil, fmt.Errorf("%w: invalid skill name %q", domain.ErrInvalidConfiguration, skill)
	}

	path := filepath.Join(l.Dir, skill+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", path, err)
		}
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}

	var a Artifact
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if a.Skill != skill {
		return nil, fmt.Errorf("artifact %s declares skill %q", path, a.Skill)
	}
	return NewLinearModel(a)
}

// MapLoader serves scorers from memory. It is used by tests and by callers
// that embed artifacts.
type MapLoader map[string]Scorer

// Load implements Loader.
func (l MapLoader) Load(skill string) (Scorer, error) {
	s, ok := l[skill]
	if !ok {
		return nil, fmt.Errorf("no artifact for %q: %w", skill, os.ErrNotExist)
	}
	return s, nil
}
