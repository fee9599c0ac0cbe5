package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Feedback struct {
	AnalysisID         int64  `json:"workflow_analysis_id"`
	RemediationApplied bool   `json:"remediation_applied"`
	Success            bool   `json:"success"`
	Notes              string `json:"feedback_notes"`
}

// RecordFeedback stores f. When a remediation was applied and the analysis is
// linked to a signature, the outcome also updates that signature's success
// rate.
func (s *Store) RecordFeedback(ctx context.Context, f Feedback) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var sigID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT error_signature_id FROM workflow_analyses WHERE id = ?`), f.AnalysisID).Scan(&sigID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("analysis %d: %w", f.AnalysisID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load analysis %d: %w", f.AnalysisID, err)
		}

		err = tx.QueryRowContext(ctx, s.rebind(`INSERT INTO learning_feedback
			(workflow_analysis_id, remediation_applied, success, feedback_notes, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`),
			f.AnalysisID, f.RemediationApplied, f.Success, f.Notes, s.now()).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}

		if f.RemediationApplied && sigID.Valid {
			return s.recordOutcome(ctx, tx, sigID.Int64, f.Success)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) FeedbackCount(ctx context.Context, analysisID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM learning_feedback WHERE workflow_analysis_id = ?`), analysisID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}
