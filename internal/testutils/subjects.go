// Package testutils provides mocks and synthetic data for the engine's test
// suites. It is not part of the public API.
package testutils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
)

// SourceWriter accepts synthetic source material. The storage backends
// implement it.
type SourceWriter interface {
	PutSourceScore(ctx context.Context, subjectID string, score domain.SourceScore) error
	PutFeatures(ctx context.Context, subjectID, skill string, values map[string]float64) error
	AddRawUnits(ctx context.Context, subjectID, skill string, units ...domain.RawUnit) error
}

// Subject is the generated material for one subject and skill.
type Subject struct {
	ID       string
	Skill    string
	Scores   map[domain.SourceKind]float64
	Features map[string]float64
	Units    []domain.RawUnit
}

// GeneratorConfig controls synthetic subject generation.
type GeneratorConfig struct {
	Skill    string
	Features []string
	Markers  []string
	Events   []string

	// DropRate is the chance each non-model source is absent.
	DropRate float64
}

var sentenceStarts = []string{
	"During the review the subject said",
	"In the retrospective they noted",
	"While pairing they explained",
	"On the support call they replied",
}

var feedbackNotes = []string{
	"Reliable and calm under pressure",
	"Could share context earlier",
	"Takes time to bring others along",
	"Strong written follow-ups",
}

// GenerateSubjects creates n subjects deterministically from seed. Use a
// fixed seed for reproducible tests.
func GenerateSubjects(cfg GeneratorConfig, n int, seed int64) []Subject {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Subject, 0, n)
	for i := range n {
		s := Subject{
			ID:       fmt.Sprintf("subject-%03d", i),
			Skill:    cfg.Skill,
			Scores:   make(map[domain.SourceKind]float64),
			Features: make(map[string]float64, len(cfg.Features)),
		}
		for _, f := range cfg.Features {
			s.Features[f] = rng.Float64()
		}
		for _, kind := range domain.EvidenceSourceKinds {
			if rng.Float64() < cfg.DropRate {
				continue
			}
			s.Scores[kind] = rng.Float64()
			s.Units = append(s.Units, generateUnit(rng, cfg, kind, i))
		}
		out = append(out, s)
	}
	return out
}

func generateUnit(rng *rand.Rand, cfg GeneratorConfig, kind domain.SourceKind, i int) domain.RawUnit {
	u := domain.RawUnit{Kind: kind, Position: fmt.Sprintf("%02d:%02d", i%60, rng.Intn(60))}
	switch kind {
	case domain.SourceTextDerived:
		marker := "hello"
		if len(cfg.Markers) > 0 {
			marker = cfg.Markers[rng.Intn(len(cfg.Markers))]
		}
		u.Text = fmt.Sprintf("%s %q about item %d", sentenceStarts[rng.Intn(len(sentenceStarts))], marker, i)
	case domain.SourceInteractionDerived:
		u.EventType = "message"
		if len(cfg.Events) > 0 {
			u.EventType = cfg.Events[rng.Intn(len(cfg.Events))]
		}
		u.Text = fmt.Sprintf("Logged %s on ticket %d", u.EventType, 1000+i)
	default:
		u.Text = fmt.Sprintf("%s (note %d)", feedbackNotes[rng.Intn(len(feedbackNotes))], i)
	}
	return u
}

// Seed writes subjects into w, stamping scores with asOf.
func Seed(ctx context.Context, w SourceWriter, subjects []Subject, asOf time.Time) error {
	for _, s := range subjects {
		for kind, v := range s.Scores {
			if err := w.PutSourceScore(ctx, s.ID, domain.NewSourceScore(kind, s.Skill, v, asOf)); err != nil {
				return err
			}
		}
		if len(s.Features) > 0 {
			if err := w.PutFeatures(ctx, s.ID, s.Skill, s.Features); err != nil {
				return err
			}
		}
		if len(s.Units) > 0 {
			if err := w.AddRawUnits(ctx, s.ID, s.Skill, s.Units...); err != nil {
				return err
			}
		}
	}
	return nil
}

// IDs returns the subject IDs in order.
func IDs(subjects []Subject) []string {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	return ids
}
