package store

import (
	"context"
	"database/sql"
	"fmt"
)

type Statistics struct {
	TotalSignatures       int            `json:"total_signatures"`
	TotalAnalyses         int            `json:"total_analyses"`
	ErrorTypeDistribution map[string]int `json:"error_type_distribution"`
	AverageConfidence     float64        `json:"average_confidence"`
}

func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	st := Statistics{ErrorTypeDistribution: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM error_signatures`).Scan(&st.TotalSignatures); err != nil {
		return Statistics{}, fmt.Errorf("count signatures: %w", err)
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(confidence_score) FROM workflow_analyses`).Scan(&st.TotalAnalyses, &avg)
	if err != nil {
		return Statistics{}, fmt.Errorf("count analyses: %w", err)
	}
	st.AverageConfidence = avg.Float64

	rows, err := s.db.QueryContext(ctx, `SELECT error_type, COUNT(*) FROM error_signatures GROUP BY error_type`)
	if err != nil {
		return Statistics{}, fmt.Errorf("error type distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return Statistics{}, fmt.Errorf("scan error type: %w", err)
		}
		st.ErrorTypeDistribution[typ] = n
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, fmt.Errorf("error type distribution: %w", err)
	}
	return st, nil
}
