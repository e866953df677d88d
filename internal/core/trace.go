package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edvin/screensync/internal/model"
)

// TraceService persists reconciliation traces for audit.
type TraceService struct {
	db DB
}

func NewTraceService(db DB) *TraceService {
	return &TraceService{db: db}
}

// Save inserts a finished trace. Traces are immutable; saving the same
// correlation id twice is a no-op.
func (s *TraceService) Save(ctx context.Context, t *model.Trace) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", t.CorrelationID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO reconciliation_traces (id, operation, subject, dry_run, outcome, code, document, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		t.CorrelationID, t.Operation, t.Subject, t.DryRun, t.Outcome, nullIfEmpty(string(t.Code)), doc, t.StartedAt, t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save trace %s: %w", t.CorrelationID, err)
	}
	return nil
}

func (s *TraceService) GetByID(ctx context.Context, id string) (*model.Trace, error) {
	var doc []byte
	if err := s.db.QueryRow(ctx,
		"SELECT document FROM reconciliation_traces WHERE id = $1", id,
	).Scan(&doc); err != nil {
		return nil, fmt.Errorf("get trace %s: %w", id, err)
	}
	var t model.Trace
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return &t, nil
}

// ListBySubject returns the most recent traces for an advertiser or screen.
func (s *TraceService) ListBySubject(ctx context.Context, subject string, limit int) ([]model.Trace, error) {
	rows, err := s.db.Query(ctx,
		`SELECT document FROM reconciliation_traces
		 WHERE subject = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		subject, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list traces for %s: %w", subject, err)
	}
	defer rows.Close()

	var traces []model.Trace
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		var t model.Trace
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("decode trace: %w", err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
