// Package sqlite implements the engine's persistence ports on a single
// SQLite database: upstream source scores, feature values and evidence
// units, fused assessments, and the cost ledger.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

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

const schema = `
CREATE TABLE IF NOT EXISTS source_scores (
	subject_id  TEXT NOT NULL,
	skill       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	value       REAL NOT NULL,
	as_of       INTEGER NOT NULL,
	PRIMARY KEY (subject_id, skill, kind)
);

CREATE TABLE IF NOT EXISTS feature_values (
	subject_id  TEXT NOT NULL,
	skill       TEXT NOT NULL,
	name        TEXT NOT NULL,
	value       REAL NOT NULL,
	PRIMARY KEY (subject_id, skill, name)
);

CREATE TABLE IF NOT EXISTS evidence_units (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id      TEXT NOT NULL,
	skill           TEXT NOT NULL,
	kind            TEXT NOT NULL,
	text            TEXT NOT NULL,
	context_before  TEXT NOT NULL DEFAULT '',
	context_after   TEXT NOT NULL DEFAULT '',
	position        TEXT NOT NULL DEFAULT '',
	event_type      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_evidence_subject ON evidence_units(subject_id, skill, kind);

CREATE TABLE IF NOT EXISTS assessments (
	id             TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL,
	skill          TEXT NOT NULL,
	body           TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	superseded_by  TEXT
);
CREATE INDEX IF NOT EXISTS idx_assessments_current ON assessments(subject_id, skill, superseded_by, created_at);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ts             INTEGER NOT NULL,
	tokens_in      INTEGER NOT NULL,
	tokens_out     INTEGER NOT NULL,
	cost           REAL NOT NULL,
	caller         TEXT NOT NULL,
	generated_by   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_ledger_ts ON cost_ledger(ts);
`

// Store is a SQLite-backed implementation of the persistence ports.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// PutSourceScore records the latest score a source holds for a subject.
func (s *Store) PutSourceScore(ctx context.Context, subjectID string, score domain.SourceScore) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_scores (subject_id, skill, kind, value, as_of) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id, skill, kind) DO UPDATE SET value = excluded.value, as_of = excluded.as_of`,
		subjectID, score.Skill, string(score.Kind), domain.Clamp01(score.Value), score.AsOf.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put source score: %w", err)
	}
	return nil
}

// GetSourceScore implements ports.ScoreProvider.
func (s *Store) GetSourceScore(
	ctx context.Context,
	subjectID, skill string,
	kind domain.SourceKind,
) (domain.SourceScore, bool, error) {
	var value float64
	var asOf int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, as_of FROM source_scores WHERE subject_id = ? AND skill = ? AND kind = ?`,
		subjectID, skill, string(kind),
	).Scan(&value, &asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SourceScore{}, false, nil
	}
	if err != nil {
		return domain.SourceScore{}, false, fmt.Errorf("get source score: %w", err)
	}
	return domain.NewSourceScore(kind, skill, value, time.Unix(0, asOf).UTC()), true, nil
}

// PutFeatures upserts named feature values for a subject and skill.
func (s *Store) PutFeatures(ctx context.Context, subjectID, skill string, values map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO feature_values (subject_id, skill, name, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id, skill, name) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for name, v := range values {
		if _, err := stmt.ExecContext(ctx, subjectID, skill, name, v); err != nil {
			return fmt.Errorf("put feature %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetFeatureVector implements ports.FeatureStore. A subject with no stored
// features yields an empty map.
func (s *Store) GetFeatureVector(ctx context.Context, subjectID, skill string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM feature_values WHERE subject_id = ? AND skill = ?`, subjectID, skill)
	if err != nil {
		return nil, fmt.Errorf("get features: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var v float64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

// AddRawUnits appends evidence material for a subject and skill.
func (s *Store) AddRawUnits(ctx context.Context, subjectID, skill string, units ...domain.RawUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, u := range units {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO evidence_units (subject_id, skill, kind, text, context_before, context_after, position, event_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			subjectID, skill, string(u.Kind), u.Text, u.ContextBefore, u.ContextAfter, u.Position, u.EventType)
		if err != nil {
			return fmt.Errorf("insert evidence unit: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRawEvidenceCandidates implements ports.EvidenceStore. Units are
// returned in insertion order.
func (s *Store) GetRawEvidenceCandidates(
	ctx context.Context,
	subjectID, skill string,
	kind domain.SourceKind,
) ([]domain.RawUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text, context_before, context_after, position, event_type
		 FROM evidence_units WHERE subject_id = ? AND skill = ? AND kind = ? ORDER BY id`,
		subjectID, skill, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	defer rows.Close()

	var out []domain.RawUnit
	for rows.Next() {
		u := domain.RawUnit{Kind: kind}
		if err := rows.Scan(&u.Text, &u.ContextBefore, &u.ContextAfter, &u.Position, &u.EventType); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Save implements ports.AssessmentRepository. An assessment without an ID
// is assigned a new UUID, which is also written back to a.
func (s *Store) Save(ctx context.Context, a *domain.FusedAssessment) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal assessment: %w", err)
	}

	var supersededBy any
	if a.SupersededBy != "" {
		supersededBy = a.SupersededBy
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id, subject_id, skill, body, created_at, superseded_by) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubjectID, a.Skill, string(body), a.CreatedAt.UnixNano(), supersededBy)
	if err != nil {
		return "", fmt.Errorf("insert assessment: %w", err)
	}
	return a.ID, nil
}

// Supersede implements ports.AssessmentRepository.
func (s *Store) Supersede(ctx context.Context, oldID, newID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assessments SET superseded_by = ? WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("supersede: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("assessment %s: %w", oldID, domain.ErrNotFound)
	}
	return nil
}

// Latest implements ports.AssessmentRepository.
func (s *Store) Latest(ctx context.Context, subjectID, skill string) (*domain.FusedAssessment, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT body, superseded_by FROM assessments
		 WHERE subject_id = ? AND skill = ? AND superseded_by IS NULL
		 ORDER BY created_at DESC LIMIT 1`, subjectID, skill),
		subjectID+"/"+skill)
}

// Get implements ports.AssessmentRepository.
func (s *Store) Get(ctx context.Context, id string) (*domain.FusedAssessment, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT body, superseded_by FROM assessments WHERE id = ?`, id), id)
}

func (s *Store) scanOne(row *sql.Row, what string) (*domain.FusedAssessment, error) {
	var body string
	var supersededBy sql.NullString
	err := row.Scan(&body, &supersededBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment %s: %w", what, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	var a domain.FusedAssessment
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("decode assessment %s: %w", what, err)
	}
	a.SupersededBy = supersededBy.String
	return &a, nil
}

// Append implements ports.LedgerStore.
func (s *Store) Append(ctx context.Context, e domain.CostLedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (ts, tokens_in, tokens_out, cost, caller, generated_by) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixNano(), e.TokensIn, e.TokensOut, e.EstimatedCost, e.CallerContext, string(e.GeneratedBy))
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Range implements ports.LedgerStore.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]domain.CostLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, tokens_in, tokens_out, cost, caller, generated_by
		 FROM cost_ledger WHERE ts >= ? AND ts < ? ORDER BY ts, id`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("range ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.CostLedgerEntry
	for rows.Next() {
		var ts int64
		var by string
		var e domain.CostLedgerEntry
		if err := rows.Scan(&ts, &e.TokensIn, &e.TokensOut, &e.EstimatedCost, &e.CallerContext, &by); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.GeneratedBy = domain.GeneratedBy(by)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneLedger deletes ledger entries older than before and reports how many
// were removed.
func (s *Store) PruneLedger(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cost_ledger WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return res.RowsAffected()
}
