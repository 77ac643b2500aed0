// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridiff/veridiff/pkg/diverge"
)

// DivergenceRecord is the stored view of a divergence, including the
// mutable triage state.
type DivergenceRecord struct {
	diverge.Divergence
	CampaignID int64
	Triaged    bool
	Notes      string
}

// Filter selects divergences. Zero values mean "no constraint";
// set fields compose with logical AND.
type Filter struct {
	CampaignID int64
	Severity   diverge.Severity
	Kind       diverge.Kind
}

// Divergences returns matching divergences, most recent first.
func (st *Store) Divergences(filter Filter) ([]*DivergenceRecord, error) {
	query := `SELECT divergence_id, campaign_id, input_id, kind, severity,
		target_a, target_b, version_a, version_b, description, confidence,
		details, created_at, triaged, notes FROM divergences WHERE 1=1`
	var args []interface{}
	if filter.CampaignID != 0 {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := st.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query divergences: %w", err)
	}
	defer rows.Close()

	var records []*DivergenceRecord
	for rows.Next() {
		rec, err := scanDivergence(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Divergence returns a single divergence by id.
func (st *Store) Divergence(divergenceID string) (*DivergenceRecord, error) {
	row := st.db.QueryRow(`SELECT divergence_id, campaign_id, input_id, kind,
		severity, target_a, target_b, version_a, version_b, description,
		confidence, details, created_at, triaged, notes
		FROM divergences WHERE divergence_id = ?`, divergenceID)
	rec, err := scanDivergence(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("divergence %v: %w", divergenceID, ErrNotFound)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDivergence(row scanner) (*DivergenceRecord, error) {
	rec := new(DivergenceRecord)
	var kind, severity, details string
	var notes sql.NullString
	var createdAt int64
	err := row.Scan(&rec.ID, &rec.CampaignID, &rec.InputID, &kind, &severity,
		&rec.TargetA.ID, &rec.TargetB.ID, &rec.TargetA.Version, &rec.TargetB.Version,
		&rec.Description, &rec.Confidence, &details, &createdAt, &rec.Triaged, &notes)
	if err != nil {
		return nil, err
	}
	rec.Kind = diverge.Kind(kind)
	rec.Severity = diverge.Severity(severity)
	rec.Time = time.Unix(createdAt, 0)
	rec.Notes = notes.String
	if details != "" {
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, fmt.Errorf("divergence %v has corrupt details: %w", rec.ID, err)
		}
	}
	return rec, nil
}

// ExecutionRecord is the stored view of one raw execution result.
type ExecutionRecord struct {
	ID            int64
	CampaignID    int64
	TargetID      string
	TargetVersion string
	InputID       string
	Outcome       diverge.OutcomeKind
	Crashed       bool
	ExitCode      *int
	TimedOut      bool
	Duration      time.Duration
	OutputHash    string
	Signal        string
	Error         string
	MemoryBytes   uint64
	Time          time.Time
}

// Executions returns the raw execution history of a campaign in write order.
func (st *Store) Executions(campaignID int64) ([]*ExecutionRecord, error) {
	rows, err := st.db.Query(`SELECT execution_id, campaign_id, target_id,
		target_version, input_id, outcome, crashed, exit_code, timed_out,
		duration_ms, output_hash, signal, error, memory_bytes, created_at
		FROM executions WHERE campaign_id = ? ORDER BY execution_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		rec := new(ExecutionRecord)
		var outcome string
		var exitCode sql.NullInt64
		var outputHash, signal, errMsg sql.NullString
		var durationMS, createdAt int64
		err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.TargetID, &rec.TargetVersion,
			&rec.InputID, &outcome, &rec.Crashed, &exitCode, &rec.TimedOut,
			&durationMS, &outputHash, &signal, &errMsg, &rec.MemoryBytes, &createdAt)
		if err != nil {
			return nil, err
		}
		rec.Outcome = diverge.OutcomeKind(outcome)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.OutputHash = outputHash.String
		rec.Signal = signal.String
		rec.Error = errMsg.String
		rec.Time = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats are divergence aggregates computed at call time, never cached.
type Stats struct {
	TotalCampaigns     int64
	TotalDivergences   int64
	TriagedDivergences int64
	BySeverity         map[diverge.Severity]int64
	ByKind             map[diverge.Kind]int64
}

// Stats computes the global aggregate counts.
func (st *Store) Stats() (*Stats, error) {
	stats := &Stats{
		BySeverity: make(map[diverge.Severity]int64),
		ByKind:     make(map[diverge.Kind]int64),
	}
	err := st.db.QueryRow(`SELECT COUNT(*) FROM campaigns`).Scan(&stats.TotalCampaigns)
	if err != nil {
		return nil, err
	}
	err = st.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(triaged), 0) FROM divergences`).
		Scan(&stats.TotalDivergences, &stats.TriagedDivergences)
	if err != nil {
		return nil, err
	}
	if err := st.groupCounts(stats, ""); err != nil {
		return nil, err
	}
	return stats, nil
}

// CampaignStats computes the same divergence aggregates scoped to
// one campaign.
func (st *Store) CampaignStats(campaignID int64) (*Stats, error) {
	stats := &Stats{
		TotalCampaigns: 1,
		BySeverity:     make(map[diverge.Severity]int64),
		ByKind:         make(map[diverge.Kind]int64),
	}
	err := st.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(triaged), 0)
		FROM divergences WHERE campaign_id = ?`, campaignID).
		Scan(&stats.TotalDivergences, &stats.TriagedDivergences)
	if err != nil {
		return nil, err
	}
	if stats.TotalDivergences == 0 {
		// Distinguish "no divergences" from "no such campaign".
		if _, err := st.CampaignSummary(campaignID); err != nil {
			return nil, err
		}
	}
	if err := st.groupCounts(stats, " WHERE campaign_id = ?", campaignID); err != nil {
		return nil, err
	}
	return stats, nil
}

func (st *Store) groupCounts(stats *Stats, where string, args ...interface{}) error {
	rows, err := st.db.Query(`SELECT severity, COUNT(*) FROM divergences`+where+
		` GROUP BY severity`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return err
		}
		stats.BySeverity[diverge.Severity(severity)] = count
	}
	if err := rows.Err(); err != nil {
		return err
	}
	kindRows, err := st.db.Query(`SELECT kind, COUNT(*) FROM divergences`+where+
		` GROUP BY kind`, args...)
	if err != nil {
		return err
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int64
		if err := kindRows.Scan(&kind, &count); err != nil {
			return err
		}
		stats.ByKind[diverge.Kind(kind)] = count
	}
	return kindRows.Err()
}
