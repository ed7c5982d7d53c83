package gating

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// DecisionRecord is one persisted gating decision together with the
// shadow severity and signatures of the cycle that produced it.
type DecisionRecord struct {
	ID                 string    `json:"id"`
	CycleID            string    `json:"cycle_id"`
	Index              string    `json:"index"`
	Rule               string    `json:"rule"`
	Mode               string    `json:"mode"`
	Promote            bool      `json:"promote"`
	Reason             string    `json:"reason"`
	OkRatio            float64   `json:"ok_ratio"`
	OkStreak           int       `json:"ok_streak"`
	WindowSize         int       `json:"window_size"`
	DiffCount          int       `json:"diff_count"`
	ProtectedDiff      bool      `json:"protected_diff"`
	Severity           string    `json:"severity"`
	SignatureLegacy    string    `json:"signature_legacy,omitempty"`
	SignatureCandidate string    `json:"signature_candidate,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	Index string
	Rule  string
	Limit int
}

// Store persists gating decisions in SQLite so one-shot CLI invocations
// can rehydrate engine state and operators can inspect history.
type Store struct {
	db *sql.DB
}

// NewStore opens the decision database at dsn and configures WAL mode.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "gating: open store")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "gating: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS decisions (
	id             TEXT PRIMARY KEY,
	cycle_id       TEXT NOT NULL,
	index_symbol   TEXT NOT NULL,
	rule           TEXT NOT NULL,
	mode           TEXT NOT NULL,
	promote        INTEGER NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL,
	ok_ratio       REAL NOT NULL DEFAULT 0,
	ok_streak      INTEGER NOT NULL DEFAULT 0,
	window_size    INTEGER NOT NULL DEFAULT 0,
	diff_count     INTEGER NOT NULL DEFAULT 0,
	protected_diff INTEGER NOT NULL DEFAULT 0,
	severity       TEXT NOT NULL DEFAULT '',
	sig_legacy     TEXT NOT NULL DEFAULT '',
	sig_candidate  TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_decisions_key ON decisions(index_symbol, rule, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON decisions(cycle_id);
`

// Migrate creates the schema if needed.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "gating: migrate")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDecision appends one decision row and returns its id.
func (s *Store) RecordDecision(ctx context.Context, rec DecisionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (
			id, cycle_id, index_symbol, rule, mode, promote, reason,
			ok_ratio, ok_streak, window_size, diff_count, protected_diff,
			severity, sig_legacy, sig_candidate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CycleID, rec.Index, rec.Rule, rec.Mode, boolInt(rec.Promote), rec.Reason,
		rec.OkRatio, rec.OkStreak, rec.WindowSize, rec.DiffCount, boolInt(rec.ProtectedDiff),
		rec.Severity, rec.SignatureLegacy, rec.SignatureCandidate, rec.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "gating: insert decision")
	}
	return rec.ID, nil
}

// ListDecisions returns decisions newest first, optionally filtered by
// key. Limit zero means 50.
func (s *Store) ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error) {
	query := `SELECT id, cycle_id, index_symbol, rule, mode, promote, reason,
		ok_ratio, ok_streak, window_size, diff_count, protected_diff,
		severity, sig_legacy, sig_candidate, created_at FROM decisions`

	var conds []string
	var args []any
	if filter.Index != "" {
		conds = append(conds, "index_symbol = ?")
		args = append(args, filter.Index)
	}
	if filter.Rule != "" {
		conds = append(conds, "rule = ?")
		args = append(args, filter.Rule)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "gating: list decisions")
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "gating: scan decisions")
}

// LatestByKey returns the most recent decision per (index, rule) key.
func (s *Store) LatestByKey(ctx context.Context) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, index_symbol, rule, mode, promote, reason,
			ok_ratio, ok_streak, window_size, diff_count, protected_diff,
			severity, sig_legacy, sig_candidate, created_at
		FROM decisions
		WHERE id IN (
			SELECT id FROM decisions d1
			WHERE created_at = (
				SELECT MAX(created_at) FROM decisions d2
				WHERE d2.index_symbol = d1.index_symbol AND d2.rule = d1.rule
			)
		)
		ORDER BY index_symbol, rule`)
	if err != nil {
		return nil, eris.Wrap(err, "gating: latest by key")
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "gating: scan latest")
}

// History rebuilds the engine-seeding inputs for one key: the last
// windowSize outcomes oldest-first and whether a protected diff was ever
// recorded.
func (s *Store) History(ctx context.Context, index, rule string, windowSize int) (oks []bool, protectedSeen bool, err error) {
	recs, err := s.ListDecisions(ctx, DecisionFilter{Index: index, Rule: rule, Limit: windowSize})
	if err != nil {
		return nil, false, err
	}
	// ListDecisions is newest first; seeding wants oldest first.
	for i := len(recs) - 1; i >= 0; i-- {
		oks = append(oks, recs[i].DiffCount == 0)
		if recs[i].ProtectedDiff {
			protectedSeen = true
		}
	}
	return oks, protectedSeen, nil
}

func scanDecision(rows *sql.Rows) (DecisionRecord, error) {
	var rec DecisionRecord
	var promote, protected int
	err := rows.Scan(
		&rec.ID, &rec.CycleID, &rec.Index, &rec.Rule, &rec.Mode, &promote, &rec.Reason,
		&rec.OkRatio, &rec.OkStreak, &rec.WindowSize, &rec.DiffCount, &protected,
		&rec.Severity, &rec.SignatureLegacy, &rec.SignatureCandidate, &rec.CreatedAt,
	)
	if err != nil {
		return rec, eris.Wrap(err, "gating: scan decision")
	}
	rec.Promote = promote != 0
	rec.ProtectedDiff = protected != 0
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
