package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/obra-run/obra/pkg/models"
)

// MaxRawResponseBytes is the retention cap for an iteration's raw response
// (Open Question decision: capped at 64KiB, beyond which only a SHA-256
// digest of the full response is kept).
const MaxRawResponseBytes = 64 * 1024

// CreateIteration inserts a new iteration record, applying the raw-response
// retention cap before writing.
func (db *DB) CreateIteration(it *models.Iteration) error {
	raw := it.RawResponse
	truncated := it.Truncated
	digest := it.ResponseDigest
	if len(raw) > MaxRawResponseBytes {
		sum := sha256.Sum256([]byte(raw))
		digest = hex.EncodeToString(sum[:])
		raw = raw[:MaxRawResponseBytes]
		truncated = true
	}

	issues, err := json.Marshal(it.CompletenessIssues)
	if err != nil {
		return fmt.Errorf("marshal completeness issues: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO iterations (id, task_id, session_id, number, prompt_fingerprint,
			raw_response, truncated, response_digest, usage_input, usage_cache_create,
			usage_cache_read, usage_output, complete, completeness_issues, quality,
			quality_comment, validator_errored, confidence, decision, breakpoint,
			retry_attempt, cancelled, error_kind, latency_ms, cost_units, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, it.ID, it.TaskID, it.SessionID, it.Number, it.PromptFingerprint,
		raw, truncated, digest, it.Usage.Input, it.Usage.CacheCreate, it.Usage.CacheRead,
		it.Usage.Output, it.Complete, string(issues), it.Quality, it.QualityComment,
		it.ValidatorErrored, it.Confidence, string(it.Decision), it.Breakpoint,
		it.RetryAttempt, it.Cancelled, it.ErrorKind, it.LatencyMS, it.CostUnits,
		formatTime(it.StartedAt), formatTime(it.EndedAt))
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}

// LatestIteration returns the most recent iteration for a task, or
// sql.ErrNoRows if none exist.
func (db *DB) LatestIteration(taskID string) (*models.Iteration, error) {
	row := db.QueryRow(`
		SELECT id, task_id, session_id, number, prompt_fingerprint, raw_response,
			truncated, response_digest, usage_input, usage_cache_create, usage_cache_read,
			usage_output, complete, completeness_issues, quality, quality_comment,
			validator_errored, confidence, decision, breakpoint, retry_attempt,
			cancelled, error_kind, latency_ms, cost_units, started_at, ended_at
		FROM iterations WHERE task_id = ? ORDER BY number DESC LIMIT 1
	`, taskID)
	return scanIteration(row)
}

func scanIteration(row *sql.Row) (*models.Iteration, error) {
	var it models.Iteration
	var decision, errorKind, promptFP, qualityComment, completenessIssues sql.NullString
	var startedAt, endedAt string
	if err := row.Scan(&it.ID, &it.TaskID, &it.SessionID, &it.Number, &promptFP, &it.RawResponse,
		&it.Truncated, &it.ResponseDigest, &it.Usage.Input, &it.Usage.CacheCreate, &it.Usage.CacheRead,
		&it.Usage.Output, &it.Complete, &completenessIssues, &it.Quality, &qualityComment,
		&it.ValidatorErrored, &it.Confidence, &decision, &it.Breakpoint, &it.RetryAttempt,
		&it.Cancelled, &errorKind, &it.LatencyMS, &it.CostUnits, &startedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan iteration: %w", err)
	}
	it.PromptFingerprint = promptFP.String
	it.QualityComment = qualityComment.String
	it.Decision = models.Decision(decision.String)
	it.ErrorKind = errorKind.String
	if completenessIssues.Valid && completenessIssues.String != "" {
		if err := json.Unmarshal([]byte(completenessIssues.String), &it.CompletenessIssues); err != nil {
			return nil, fmt.Errorf("unmarshal completeness issues: %w", err)
		}
	}
	st, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse iteration started_at: %w", err)
	}
	it.StartedAt = st
	et, err := parseTime(endedAt)
	if err != nil {
		return nil, fmt.Errorf("parse iteration ended_at: %w", err)
	}
	it.EndedAt = et
	return &it, nil
}

// SessionTotalTokens returns the sum of per-iteration totals recorded under
// a session, used to verify the monotone cumulative-usage invariant.
func (db *DB) SessionTotalTokens(sessionID string) (int64, error) {
	row := db.QueryRow(`
		SELECT COALESCE(SUM(usage_input + usage_cache_create + usage_cache_read + usage_output), 0)
		FROM iterations WHERE session_id = ?
	`, sessionID)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum session tokens: %w", err)
	}
	return total, nil
}

// IterationsForSession returns every iteration run under a session, oldest
// first, for Epic-summary generation at end-of-session.
func (db *DB) IterationsForSession(sessionID string) ([]*models.Iteration, error) {
	rows, err := db.Query(`
		SELECT id, task_id, session_id, number, prompt_fingerprint, raw_response,
			truncated, response_digest, usage_input, usage_cache_create, usage_cache_read,
			usage_output, complete, completeness_issues, quality, quality_comment,
			validator_errored, confidence, decision, breakpoint, retry_attempt,
			cancelled, error_kind, latency_ms, cost_units, started_at, ended_at
		FROM iterations WHERE session_id = ? ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session iterations: %w", err)
	}
	defer rows.Close()

	var out []*models.Iteration
	for rows.Next() {
		it, err := scanIterationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// IterationsForTask returns every iteration run for a task, oldest first,
// for the git post-task hook's changed-path collection.
func (db *DB) IterationsForTask(taskID string) ([]*models.Iteration, error) {
	rows, err := db.Query(`
		SELECT id, task_id, session_id, number, prompt_fingerprint, raw_response,
			truncated, response_digest, usage_input, usage_cache_create, usage_cache_read,
			usage_output, complete, completeness_issues, quality, quality_comment,
			validator_errored, confidence, decision, breakpoint, retry_attempt,
			cancelled, error_kind, latency_ms, cost_units, started_at, ended_at
		FROM iterations WHERE task_id = ? ORDER BY number ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task iterations: %w", err)
	}
	defer rows.Close()

	var out []*models.Iteration
	for rows.Next() {
		it, err := scanIterationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanIterationRow(rows *sql.Rows) (*models.Iteration, error) {
	var it models.Iteration
	var decision, errorKind, promptFP, qualityComment, completenessIssues sql.NullString
	var startedAt, endedAt string
	if err := rows.Scan(&it.ID, &it.TaskID, &it.SessionID, &it.Number, &promptFP, &it.RawResponse,
		&it.Truncated, &it.ResponseDigest, &it.Usage.Input, &it.Usage.CacheCreate, &it.Usage.CacheRead,
		&it.Usage.Output, &it.Complete, &completenessIssues, &it.Quality, &qualityComment,
		&it.ValidatorErrored, &it.Confidence, &decision, &it.Breakpoint, &it.RetryAttempt,
		&it.Cancelled, &errorKind, &it.LatencyMS, &it.CostUnits, &startedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("scan iteration row: %w", err)
	}
	it.PromptFingerprint = promptFP.String
	it.QualityComment = qualityComment.String
	it.Decision = models.Decision(decision.String)
	it.ErrorKind = errorKind.String
	if completenessIssues.Valid && completenessIssues.String != "" {
		if err := json.Unmarshal([]byte(completenessIssues.String), &it.CompletenessIssues); err != nil {
			return nil, fmt.Errorf("unmarshal completeness issues: %w", err)
		}
	}
	st, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse iteration started_at: %w", err)
	}
	it.StartedAt = st
	et, err := parseTime(endedAt)
	if err != nil {
		return nil, fmt.Errorf("parse iteration ended_at: %w", err)
	}
	it.EndedAt = et
	return &it, nil
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = "?"
	}
	return strings.Join(ps, ",")
}
