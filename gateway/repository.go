package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/alovak/secureframe/gateway/models"
	widgetmodels "github.com/alovak/secureframe/widget/models"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// Schema creates the outcome ledger. A payment page transaction id settles at most once.
const Schema = `
CREATE SCHEMA IF NOT EXISTS secureframe;
CREATE TABLE IF NOT EXISTS secureframe.outcomes (
    outcome_id   TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    kind         TEXT NOT NULL,
    payor        TEXT NOT NULL DEFAULT '',
    reference    TEXT NOT NULL DEFAULT '',
    amount       BIGINT NOT NULL,
    subject      TEXT NOT NULL DEFAULT '',
    fingerprint  TEXT NOT NULL DEFAULT '',
    summary_code TEXT NOT NULL DEFAULT '',
    reason       TEXT NOT NULL DEFAULT '',
    txn_id       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS outcomes_txn_id
    ON secureframe.outcomes(txn_id) WHERE txn_id <> '';
CREATE INDEX IF NOT EXISTS outcomes_session ON secureframe.outcomes(session_id, created_at);
`

// Repository keeps outcomes in memory, or in Postgres when built with NewPGRepository.
type Repository struct {
	mu       sync.RWMutex
	outcomes []*models.Outcome
	settled  map[string]struct{}

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		outcomes: make([]*models.Outcome, 0),
		settled:  make(map[string]struct{}),
	}
}

func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies Schema. It is a no-op for the memory backend.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (r *Repository) SaveOutcome(ctx context.Context, o *models.Outcome) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if o.TxnID != "" {
			if _, ok := r.settled[o.TxnID]; ok {
				return fmt.Errorf("transaction %s already settled: %w", o.TxnID, ErrConflict)
			}
			r.settled[o.TxnID] = struct{}{}
		}
		r.outcomes = append(r.outcomes, o)
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO secureframe.outcomes(outcome_id, session_id, outcome, kind, payor, reference, amount,
                                         subject, fingerprint, summary_code, reason, txn_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
    `, o.ID, o.SessionID, string(o.Outcome), string(o.Kind), o.Payor, o.Reference, o.Amount,
		o.Subject, o.Fingerprint, string(o.SummaryCode), o.Reason, o.TxnID, o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s already settled: %w", o.TxnID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the outcomes of a session, oldest first.
func (r *Repository) ListOutcomes(ctx context.Context, sessionID string) ([]*models.Outcome, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]*models.Outcome, 0)
		for _, o := range r.outcomes {
			if o.SessionID == sessionID {
				out = append(out, o)
			}
		}
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT outcome_id, session_id, outcome, kind, payor, reference, amount,
               subject, fingerprint, summary_code, reason, txn_id, created_at
          FROM secureframe.outcomes
         WHERE session_id=$1
         ORDER BY created_at ASC
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Outcome, 0)
	for rows.Next() {
		var o models.Outcome
		var outcome, kind, code string
		if err := rows.Scan(&o.ID, &o.SessionID, &outcome, &kind, &o.Payor, &o.Reference, &o.Amount,
			&o.Subject, &o.Fingerprint, &code, &o.Reason, &o.TxnID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Outcome = widgetmodels.Outcome(outcome)
		o.Kind = widgetmodels.Kind(kind)
		o.SummaryCode = widgetmodels.SummaryCode(code)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// GetOutcome finds a single outcome by id.
func (r *Repository) GetOutcome(ctx context.Context, id string) (*models.Outcome, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, o := range r.outcomes {
			if o.ID == id {
				return o, nil
			}
		}
		return nil, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
        SELECT outcome_id, session_id, outcome, kind, payor, reference, amount,
               subject, fingerprint, summary_code, reason, txn_id, created_at
          FROM secureframe.outcomes
         WHERE outcome_id=$1
    `, id)
	var o models.Outcome
	var outcome, kind, code string
	if err := row.Scan(&o.ID, &o.SessionID, &outcome, &kind, &o.Payor, &o.Reference, &o.Amount,
		&o.Subject, &o.Fingerprint, &code, &o.Reason, &o.TxnID, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning outcome: %w", err)
	}
	o.Outcome = widgetmodels.Outcome(outcome)
	o.Kind = widgetmodels.Kind(kind)
	o.SummaryCode = widgetmodels.SummaryCode(code)
	return &o, nil
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
