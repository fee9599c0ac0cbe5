package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Analysis struct {
	ID               int64     `json:"id"`
	WorkflowRunID    int64     `json:"workflow_run_id"`
	Repository       string    `json:"repository"`
	WorkflowName     string    `json:"workflow_name"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failure_reason"`
	ErrorType        string    `json:"error_type"`
	ConfidenceScore  float64   `json:"confidence_score"`
	RemediationSteps []string  `json:"remediation_steps"`
	SignatureID      int64     `json:"error_signature_id,omitempty"`
	CheckRunID       int64     `json:"check_run_id,omitempty"`
	IssueID          int64     `json:"issue_id,omitempty"`
	PRID             int64     `json:"pr_id,omitempty"`
	Prompt           string    `json:"analysis_prompt,omitempty"`
	Response         string    `json:"analysis_response,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GitHubIDs are the resources created for an analysis. Zero means none.
type GitHubIDs struct {
	CheckRunID int64
	IssueID    int64
	PRID       int64
}

const analysisColumns = `id, workflow_run_id, repository, workflow_name, status, failure_reason, error_type,
	confidence_score, remediation_steps, error_signature_id, check_run_id, issue_id, pr_id,
	analysis_prompt, analysis_response, created_at, updated_at`

// InsertAnalysis stores a and returns its id. ID, CreatedAt and UpdatedAt are
// assigned by the store.
func (s *Store) InsertAnalysis(ctx context.Context, a Analysis) (int64, error) {
	if a.Repository == "" {
		return 0, errors.New("insert analysis: empty repository")
	}
	steps, err := encodeSteps(a.RemediationSteps)
	if err != nil {
		return 0, err
	}
	now := s.now()

	var id int64
	err = s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO workflow_analyses
		(workflow_run_id, repository, workflow_name, status, failure_reason, error_type, confidence_score,
		 remediation_steps, error_signature_id, check_run_id, issue_id, pr_id,
		 analysis_prompt, analysis_response, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		a.WorkflowRunID, a.Repository, a.WorkflowName, a.Status, a.FailureReason, a.ErrorType, a.ConfidenceScore,
		steps, nullID(a.SignatureID), nullID(a.CheckRunID), nullID(a.IssueID), nullID(a.PRID),
		a.Prompt, a.Response, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert analysis for run %d: %w", a.WorkflowRunID, err)
	}
	return id, nil
}

// AttachGitHubIDs sets the non-zero ids in ids on analysis id.
func (s *Store) AttachGitHubIDs(ctx context.Context, id int64, ids GitHubIDs) error {
	sets := ""
	args := []any{}
	for _, f := range []struct {
		col string
		val int64
	}{
		{"check_run_id", ids.CheckRunID},
		{"issue_id", ids.IssueID},
		{"pr_id", ids.PRID},
	} {
		if f.val == 0 {
			continue
		}
		sets += f.col + " = ?, "
		args = append(args, f.val)
	}
	if sets == "" {
		return nil
	}
	args = append(args, s.now(), id)

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE workflow_analyses SET `+sets+`updated_at = ? WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("update analysis %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) GetAnalysis(ctx context.Context, id int64) (Analysis, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+analysisColumns+` FROM workflow_analyses WHERE id = ?`), id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, fmt.Errorf("analysis %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Analysis{}, fmt.Errorf("get analysis %d: %w", id, err)
	}
	return a, nil
}

// AnalysisHistory lists analyses newest first. An empty repository lists all.
func (s *Store) AnalysisHistory(ctx context.Context, repository string, limit int) ([]Analysis, error) {
	limit = normalizeLimit(limit, 10, 500)
	q := `SELECT ` + analysisColumns + ` FROM workflow_analyses`
	args := []any{}
	if repository != "" {
		q += ` WHERE repository = ?`
		args = append(args, repository)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	return out, nil
}

// PruneAnalyses deletes analyses created before cutoff together with their
// feedback, returning the number of analyses removed.
func (s *Store) PruneAnalyses(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cutoff := cutoff.UTC()
		_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM learning_feedback WHERE workflow_analysis_id IN
			(SELECT id FROM workflow_analyses WHERE created_at < ?)`), cutoff)
		if err != nil {
			return fmt.Errorf("prune feedback: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM workflow_analyses WHERE created_at < ?`), cutoff)
		if err != nil {
			return fmt.Errorf("prune analyses: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func scanAnalysis(sc scanner) (Analysis, error) {
	var a Analysis
	var steps string
	var sigID, checkID, issueID, prID sql.NullInt64
	err := sc.Scan(&a.ID, &a.WorkflowRunID, &a.Repository, &a.WorkflowName, &a.Status, &a.FailureReason,
		&a.ErrorType, &a.ConfidenceScore, &steps, &sigID, &checkID, &issueID, &prID,
		&a.Prompt, &a.Response, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Analysis{}, err
	}
	a.RemediationSteps = decodeSteps(steps)
	a.SignatureID = sigID.Int64
	a.CheckRunID = checkID.Int64
	a.IssueID = issueID.Int64
	a.PRID = prID.Int64
	return a, nil
}
