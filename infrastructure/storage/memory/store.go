// Package memory provides in-process implementations of the persistence
// ports. It is used by tests and by single-shot CLI runs that do not need
// durable storage.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

var (
	_ ports.ScoreProvider        = (*Store)(nil)
	_ ports.FeatureStore         = (*Store)(nil)
	_ ports.EvidenceStore        = (*Store)(nil)
	_ ports.AssessmentRepository = (*Store)(nil)
	_ ports.LedgerStore          = (*Store)(nil)
)

type subjectKey struct {
	subject string
	skill   string
}

type scoreKey struct {
	subjectKey
	kind domain.SourceKind
}

// Store is a mutex-guarded map store. The zero value is not usable; call
// New.
type Store struct {
	mu          sync.RWMutex
	scores      map[scoreKey]domain.SourceScore
	features    map[subjectKey]map[string]float64
	units       map[subjectKey][]domain.RawUnit
	assessments map[string]domain.FusedAssessment
	ledger      []domain.CostLedgerEntry

	// failures injects lookup errors per source kind.
	failures map[domain.SourceKind]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		scores:      make(map[scoreKey]domain.SourceScore),
		features:    make(map[subjectKey]map[string]float64),
		units:       make(map[subjectKey][]domain.RawUnit),
		assessments: make(map[string]domain.FusedAssessment),
		failures:    make(map[domain.SourceKind]error),
	}
}

// FailSource makes lookups for kind return err: score and evidence lookups,
// and feature lookups for the model source. A nil err clears the failure.
func (s *Store) FailSource(kind domain.SourceKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, kind)
		return
	}
	s.failures[kind] = err
}

// PutSourceScore records a source score, clamping its value.
func (s *Store) PutSourceScore(_ context.Context, subjectID string, score domain.SourceScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	score.Value = domain.Clamp01(score.Value)
	s.scores[scoreKey{subjectKey{subjectID, score.Skill}, score.Kind}] = score
	return nil
}

// GetSourceScore implements ports.ScoreProvider.
func (s *Store) GetSourceScore(
	ctx context.Context,
	subjectID, skill string,
	kind domain.SourceKind,
) (domain.SourceScore, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.SourceScore{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[kind]; err != nil {
		return domain.SourceScore{}, false, err
	}
	score, ok := s.scores[scoreKey{subjectKey{subjectID, skill}, kind}]
	return score, ok, nil
}

// PutFeatures merges values into the stored features.
func (s *Store) PutFeatures(_ context.Context, subjectID, skill string, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subjectKey{subjectID, skill}
	if s.features[k] == nil {
		s.features[k] = make(map[string]float64, len(values))
	}
	maps.Copy(s.features[k], values)
	return nil
}

// GetFeatureVector implements ports.FeatureStore.
func (s *Store) GetFeatureVector(_ context.Context, subjectID, skill string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[domain.SourceModel]; err != nil {
		return nil, err
	}
	return maps.Clone(s.features[subjectKey{subjectID, skill}]), nil
}

// AddRawUnits appends evidence material.
func (s *Store) AddRawUnits(_ context.Context, subjectID, skill string, units ...domain.RawUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subjectKey{subjectID, skill}
	s.units[k] = append(s.units[k], units...)
	return nil
}

// GetRawEvidenceCandidates implements ports.EvidenceStore.
func (s *Store) GetRawEvidenceCandidates(
	_ context.Context,
	subjectID, skill string,
	kind domain.SourceKind,
) ([]domain.RawUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures[kind]; err != nil {
		return nil, err
	}
	var out []domain.RawUnit
	for _, u := range s.units[subjectKey{subjectID, skill}] {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out, nil
}

// Save implements ports.AssessmentRepository.
func (s *Store) Save(_ context.Context, a *domain.FusedAssessment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := s.assessments[a.ID]; exists {
		return "", fmt.Errorf("assessment %s already exists", a.ID)
	}
	s.assessments[a.ID] = *a
	return a.ID, nil
}

// Supersede implements ports.AssessmentRepository.
func (s *Store) Supersede(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[oldID]
	if !ok {
		return fmt.Errorf("assessment %s: %w", oldID, domain.ErrNotFound)
	}
	a.SupersededBy = newID
	s.assessments[oldID] = a
	return nil
}

// Latest implements ports.AssessmentRepository.
func (s *Store) Latest(_ context.Context, subjectID, skill string) (*domain.FusedAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.FusedAssessment
	for _, a := range s.assessments {
		if a.SubjectID != subjectID || a.Skill != skill || a.SupersededBy != "" {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("assessment %s/%s: %w", subjectID, skill, domain.ErrNotFound)
	}
	return latest, nil
}

// Get implements ports.AssessmentRepository.
func (s *Store) Get(_ context.Context, id string) (*domain.FusedAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

// Assessments returns every stored assessment for a subject and skill,
// oldest first.
func (s *Store) Assessments(subjectID, skill string) []domain.FusedAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FusedAssessment
	for _, a := range s.assessments {
		if a.SubjectID == subjectID && a.Skill == skill {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.FusedAssessment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Append implements ports.LedgerStore.
func (s *Store) Append(_ context.Context, e domain.CostLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, e)
	return nil
}

// Range implements ports.LedgerStore.
func (s *Store) Range(_ context.Context, from, to time.Time) ([]domain.CostLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := domain.Period{From: from, To: to}
	var out []domain.CostLedgerEntry
	for _, e := range s.ledger {
		if p.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.CostLedgerEntry) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
