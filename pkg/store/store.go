// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package store persists campaigns, raw execution results and divergences.
// It is backed by SQLite in WAL mode: the active harness is the single
// writer while reporting tools read concurrently without blocking it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/veridiff/veridiff/pkg/diverge"
	"github.com/veridiff/veridiff/pkg/log"
)

var (
	// ErrNotFound is returned when a campaign or divergence id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with an existing id.
	ErrDuplicate = errors.New("duplicate record id")
)

// Store is safe for concurrent use. All mutations are append-only except
// campaign counters/end time and divergence triage.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the store at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	st := &Store{db: db, path: path}
	if err := st.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return st, nil
}

func (st *Store) Close() error {
	return st.db.Close()
}

func (st *Store) Path() string {
	return st.path
}

func (st *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS campaigns (
	campaign_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	description      TEXT,
	targets          TEXT NOT NULL,
	start_time       INTEGER NOT NULL,
	end_time         INTEGER,
	inputs_executed  INTEGER NOT NULL DEFAULT 0,
	divergences_found INTEGER NOT NULL DEFAULT 0,
	crashes_found    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS executions (
	execution_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id    INTEGER NOT NULL REFERENCES campaigns(campaign_id),
	target_id      TEXT NOT NULL,
	target_version TEXT NOT NULL,
	input_id       TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	crashed        INTEGER NOT NULL,
	exit_code      INTEGER,
	timed_out      INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	output_hash    TEXT,
	signal         TEXT,
	error          TEXT,
	memory_bytes   INTEGER,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS divergences (
	divergence_id TEXT PRIMARY KEY,
	campaign_id   INTEGER NOT NULL REFERENCES campaigns(campaign_id),
	input_id      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	target_a      TEXT NOT NULL,
	target_b      TEXT NOT NULL,
	version_a     TEXT NOT NULL,
	version_b     TEXT NOT NULL,
	description   TEXT,
	confidence    REAL NOT NULL,
	details       TEXT,
	created_at    INTEGER NOT NULL,
	triaged       INTEGER NOT NULL DEFAULT 0,
	notes         TEXT
);

CREATE INDEX IF NOT EXISTS idx_divergences_campaign ON divergences(campaign_id);
CREATE INDEX IF NOT EXISTS idx_divergences_severity ON divergences(severity);
CREATE INDEX IF NOT EXISTS idx_divergences_kind ON divergences(kind);
CREATE INDEX IF NOT EXISTS idx_executions_campaign ON executions(campaign_id);
`
	if _, err := st.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Counters are the rolling campaign statistics. The harness owns
// aggregation: stored counters are overwritten, never incremented.
type Counters struct {
	InputsExecuted   int64
	DivergencesFound int64
	CrashesFound     int64
}

// CampaignSummary is the queryable view of one campaign.
type CampaignSummary struct {
	ID          int64
	Name        string
	Description string
	Targets     []string
	StartTime   time.Time
	EndTime     time.Time // zero while the campaign is running
	Counters    Counters
}

func (c *CampaignSummary) Running() bool {
	return c.EndTime.IsZero()
}

// AddCampaign creates a campaign with zero counters and no end time.
// The target list is stored verbatim and is immutable thereafter.
func (st *Store) AddCampaign(name, description string, targets []string) (int64, error) {
	targetData, err := json.Marshal(targets)
	if err != nil {
		return 0, err
	}
	res, err := st.db.Exec(`INSERT INTO campaigns (name, description, targets, start_time)
		VALUES (?, ?, ?, ?)`,
		name, description, string(targetData), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to add campaign: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	log.Logf(1, "created campaign %v: %v", id, name)
	return id, nil
}

// CampaignSummary returns the current state of one campaign.
func (st *Store) CampaignSummary(campaignID int64) (*CampaignSummary, error) {
	row := st.db.QueryRow(`SELECT name, description, targets, start_time, end_time,
		inputs_executed, divergences_found, crashes_found
		FROM campaigns WHERE campaign_id = ?`, campaignID)
	summary := &CampaignSummary{ID: campaignID}
	var targetData string
	var start int64
	var end sql.NullInt64
	err := row.Scan(&summary.Name, &summary.Description, &targetData, &start, &end,
		&summary.Counters.InputsExecuted, &summary.Counters.DivergencesFound,
		&summary.Counters.CrashesFound)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaign %v: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(targetData), &summary.Targets); err != nil {
		return nil, fmt.Errorf("campaign %v has corrupt target list: %w", campaignID, err)
	}
	summary.StartTime = time.Unix(start, 0)
	if end.Valid {
		summary.EndTime = time.Unix(end.Int64, 0)
	}
	return summary, nil
}

// UpdateCampaignStats overwrites the campaign's rolling counters.
func (st *Store) UpdateCampaignStats(campaignID int64, counters Counters) error {
	res, err := st.db.Exec(`UPDATE campaigns SET inputs_executed = ?,
		divergences_found = ?, crashes_found = ? WHERE campaign_id = ?`,
		counters.InputsExecuted, counters.DivergencesFound, counters.CrashesFound,
		campaignID)
	if err != nil {
		return fmt.Errorf("failed to update campaign %v stats: %w", campaignID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("campaign %v: %w", campaignID, ErrNotFound)
	}
	return nil
}

// EndCampaign sets the campaign end time. First write wins: repeated
// calls keep the original end time.
func (st *Store) EndCampaign(campaignID int64) error {
	res, err := st.db.Exec(`UPDATE campaigns SET end_time = ?
		WHERE campaign_id = ? AND end_time IS NULL`,
		time.Now().Unix(), campaignID)
	if err != nil {
		return fmt.Errorf("failed to end campaign %v: %w", campaignID, err)
	}
	if rows, _ := res.RowsAffected(); rows != 0 {
		return nil
	}
	// Either the campaign is already ended (fine) or it never existed.
	var exists int
	err = st.db.QueryRow(`SELECT COUNT(*) FROM campaigns WHERE campaign_id = ?`,
		campaignID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("campaign %v: %w", campaignID, ErrNotFound)
	}
	return nil
}

// AddExecution appends one raw execution result. Rows are never updated.
func (st *Store) AddExecution(campaignID int64, res *diverge.Result) (int64, error) {
	var exitCode sql.NullInt64
	if code, ok := res.ExitCode(); ok {
		exitCode = sql.NullInt64{Int64: int64(code), Valid: true}
	}
	errMsg, _ := res.FailureMessage()
	row, err := st.db.Exec(`INSERT INTO executions (campaign_id, target_id,
		target_version, input_id, outcome, crashed, exit_code, timed_out,
		duration_ms, output_hash, signal, error, memory_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaignID, res.TargetID, res.TargetVersion, res.InputID,
		string(res.Outcome.Kind()), res.Crashed(), exitCode, res.TimedOut(),
		res.Duration.Milliseconds(), res.OutputHash(), res.Signal(), errMsg,
		res.MemoryBytes(), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to add execution for input %v on %v: %w",
			res.InputID, res.TargetID, mapConstraintErr(err))
	}
	return row.LastInsertId()
}

// AddDivergence appends one divergence keyed by its unique id.
// A duplicate id is an integrity violation, not a merge.
func (st *Store) AddDivergence(campaignID int64, div *diverge.Divergence) error {
	details, err := json.Marshal(div.Details)
	if err != nil {
		return err
	}
	_, err = st.db.Exec(`INSERT INTO divergences (divergence_id, campaign_id,
		input_id, kind, severity, target_a, target_b, version_a, version_b,
		description, confidence, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		div.ID, campaignID, div.InputID, string(div.Kind), string(div.Severity),
		div.TargetA.ID, div.TargetB.ID, div.TargetA.Version, div.TargetB.Version,
		div.Description, div.Confidence, string(details), div.Time.Unix())
	if err != nil {
		return fmt.Errorf("failed to add divergence %v: %w", div.ID, mapConstraintErr(err))
	}
	return nil
}

// TriageDivergence marks the divergence as triaged and stores the notes.
// Idempotent: re-triaging overwrites the notes and changes nothing else.
func (st *Store) TriageDivergence(divergenceID, notes string) error {
	res, err := st.db.Exec(`UPDATE divergences SET triaged = 1, notes = ?
		WHERE divergence_id = ?`, notes, divergenceID)
	if err != nil {
		return fmt.Errorf("failed to triage divergence %v: %w", divergenceID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("divergence %v: %w", divergenceID, ErrNotFound)
	}
	return nil
}

// mapConstraintErr converts sqlite constraint violations to the store's
// sentinel errors.
func mapConstraintErr(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	switch sqlErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w (%v)", ErrDuplicate, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("unknown campaign: %w (%v)", ErrNotFound, err)
	}
	return err
}
