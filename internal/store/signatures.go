package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Signature struct {
	ID               int64     `json:"id"`
	Hash             string    `json:"signature_hash"`
	Pattern          string    `json:"error_pattern"`
	ErrorType        string    `json:"error_type"`
	ConfidenceScore  float64   `json:"confidence_score"`
	RemediationSteps []string  `json:"remediation_steps"`
	SuccessRate      float64   `json:"success_rate"`
	OccurrenceCount  int       `json:"occurrence_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type SignatureInput struct {
	Hash             string
	Pattern          string
	ErrorType        string
	ConfidenceScore  float64
	RemediationSteps []string
}

const signatureColumns = `id, signature_hash, error_pattern, error_type, confidence_score,
	remediation_steps, success_rate, occurrence_count, created_at, updated_at`

// UpsertSignature records one occurrence of a signature. A known hash has its
// occurrence count bumped, keeps the higher confidence and takes the new
// remediation steps; its success rate is left alone.
func (s *Store) UpsertSignature(ctx context.Context, in SignatureInput) (int64, error) {
	if in.Hash == "" {
		return 0, errors.New("upsert signature: empty hash")
	}
	steps, err := encodeSteps(in.RemediationSteps)
	if err != nil {
		return 0, err
	}
	now := s.now()

	q := s.rebind(`INSERT INTO error_signatures
		(signature_hash, error_pattern, error_type, confidence_score, remediation_steps,
		 success_rate, occurrence_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?)
		ON CONFLICT (signature_hash) DO UPDATE SET
			occurrence_count = error_signatures.occurrence_count + 1,
			confidence_score = CASE
				WHEN excluded.confidence_score > error_signatures.confidence_score THEN excluded.confidence_score
				ELSE error_signatures.confidence_score END,
			remediation_steps = excluded.remediation_steps,
			updated_at = excluded.updated_at
		RETURNING id`)

	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, q,
			in.Hash, in.Pattern, in.ErrorType, in.ConfidenceScore, steps, now, now).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert signature %s: %w", in.Hash, err)
	}
	return id, nil
}

func (s *Store) GetSignature(ctx context.Context, id int64) (Signature, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+signatureColumns+` FROM error_signatures WHERE id = ?`), id)
	sig, err := scanSignature(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Signature{}, fmt.Errorf("signature %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Signature{}, fmt.Errorf("get signature %d: %w", id, err)
	}
	return sig, nil
}

// SimilarSignatures returns signatures of errorType, best success rate first.
// An empty errorType matches every type.
func (s *Store) SimilarSignatures(ctx context.Context, errorType string, limit int) ([]Signature, error) {
	limit = normalizeLimit(limit, 5, 100)
	q := `SELECT ` + signatureColumns + ` FROM error_signatures`
	args := []any{}
	if errorType != "" {
		q += ` WHERE error_type = ?`
		args = append(args, errorType)
	}
	q += ` ORDER BY success_rate DESC, occurrence_count DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return s.querySignatures(ctx, q, args...)
}

// SuccessfulRemediations returns remediation step lists of signatures whose
// success rate exceeds 0.5, highest first. An empty errorType matches any type.
func (s *Store) SuccessfulRemediations(ctx context.Context, errorType string, limit int) ([][]string, error) {
	limit = normalizeLimit(limit, 3, 20)
	q := `SELECT ` + signatureColumns + ` FROM error_signatures WHERE success_rate > 0.5`
	args := []any{}
	if errorType != "" {
		q += ` AND error_type = ?`
		args = append(args, errorType)
	}
	q += ` ORDER BY success_rate DESC, occurrence_count DESC, id DESC LIMIT ?`
	args = append(args, limit)

	sigs, err := s.querySignatures(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, sig.RemediationSteps)
	}
	return out, nil
}

// RecordSignatureOutcome folds one remediation outcome into the running
// success rate of signature id.
func (s *Store) RecordSignatureOutcome(ctx context.Context, id int64, success bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.recordOutcome(ctx, tx, id, success)
	})
}

func (s *Store) recordOutcome(ctx context.Context, tx *sql.Tx, id int64, success bool) error {
	var rate float64
	var count int
	err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT success_rate, occurrence_count FROM error_signatures WHERE id = ?`), id).Scan(&rate, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("signature %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load signature %d: %w", id, err)
	}

	outcome := 0.0
	if success {
		outcome = 1
	}
	rate = (rate*float64(count) + outcome) / float64(count+1)

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE error_signatures SET success_rate = ?, occurrence_count = ?, updated_at = ? WHERE id = ?`),
		rate, count+1, s.now(), id)
	if err != nil {
		return fmt.Errorf("update signature %d: %w", id, err)
	}
	return nil
}

func (s *Store) querySignatures(ctx context.Context, q string, args ...any) ([]Signature, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	var out []Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignature(sc scanner) (Signature, error) {
	var sig Signature
	var steps string
	err := sc.Scan(&sig.ID, &sig.Hash, &sig.Pattern, &sig.ErrorType, &sig.ConfidenceScore,
		&steps, &sig.SuccessRate, &sig.OccurrenceCount, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return Signature{}, err
	}
	sig.RemediationSteps = decodeSteps(steps)
	return sig, nil
}
