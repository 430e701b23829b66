package application

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-assay/internal/domain"
)

// Ingester accepts source material. Both storage backends implement it.
type Ingester interface {
	PutSourceScore(ctx context.Context, subjectID string, score domain.SourceScore) error
	PutFeatures(ctx context.Context, subjectID, skill string, values map[string]float64) error
	AddRawUnits(ctx context.Context, subjectID, skill string, units ...domain.RawUnit) error
}

// IngestFile is the YAML document read by the ingest command.
type IngestFile struct {
	Records []IngestRecord `yaml:"records" validate:"required,dive"`
}

// IngestRecord is the material for one subject and skill.
type IngestRecord struct {
	SubjectID string                        `yaml:"subject_id" validate:"required"`
	Skill     string                        `yaml:"skill" validate:"required"`
	AsOf      time.Time                     `yaml:"as_of"`
	Scores    map[domain.SourceKind]float64 `yaml:"scores" validate:"dive,keys,sourcekind,endkeys"`
	Features  map[string]float64            `yaml:"features"`
	Evidence  []IngestUnit                  `yaml:"evidence" validate:"dive"`
}

// IngestUnit is one raw evidence unit.
type IngestUnit struct {
	Source        domain.SourceKind `yaml:"source" validate:"sourcekind"`
	Text          string            `yaml:"text" validate:"required"`
	EventType     string            `yaml:"event_type"`
	Position      string            `yaml:"position"`
	ContextBefore string            `yaml:"context_before"`
	ContextAfter  string            `yaml:"context_after"`
}

// IngestStats counts what Ingest stored.
type IngestStats struct {
	Records  int `json:"records"`
	Scores   int `json:"scores"`
	Features int `json:"features"`
	Units    int `json:"units"`
}

// ParseIngestFile decodes and validates an ingest document.
func ParseIngestFile(r io.Reader) (*IngestFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f IngestFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode ingest file: %w", err)
	}
	if err := configValidator.Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return &f, nil
}

// Ingest stores every record in w. Records without as_of are stamped with
// now. Model scores are rejected: the model source is always inferred from
// features.
func Ingest(ctx context.Context, w Ingester, f *IngestFile, now time.Time) (IngestStats, error) {
	var st IngestStats
	for i, rec := range f.Records {
		if _, ok := rec.Scores[domain.SourceModel]; ok {
			return st, fmt.Errorf("%w: record %d: model scores are inferred, supply features instead",
				domain.ErrInvalidConfiguration, i)
		}
		asOf := rec.AsOf
		if asOf.IsZero() {
			asOf = now
		}

		for kind, v := range rec.Scores {
			if err := w.PutSourceScore(ctx, rec.SubjectID, domain.NewSourceScore(kind, rec.Skill, v, asOf)); err != nil {
				return st, fmt.Errorf("record %d: %w", i, err)
			}
			st.Scores++
		}
		if len(rec.Features) > 0 {
			if err := w.PutFeatures(ctx, rec.SubjectID, rec.Skill, rec.Features); err != nil {
				return st, fmt.Errorf("record %d: %w", i, err)
			}
			st.Features += len(rec.Features)
		}
		if len(rec.Evidence) > 0 {
			units := make([]domain.RawUnit, len(rec.Evidence))
			for j, u := range rec.Evidence {
				units[j] = domain.RawUnit{
					Kind:          u.Source,
					Text:          u.Text,
					EventType:     u.EventType,
					Position:      u.Position,
					ContextBefore: u.ContextBefore,
					ContextAfter:  u.ContextAfter,
				}
			}
			if err := w.AddRawUnits(ctx, rec.SubjectID, rec.Skill, units...); err != nil {
				return st, fmt.Errorf("record %d: %w", i, err)
			}
			st.Units += len(units)
		}
		st.Records++
	}
	return st, nil
}
