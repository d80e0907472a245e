package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// ScanRecordRepo implements [domain.ScanRecorder] backed by SQLite.
type ScanRecordRepo struct {
	DB *sql.DB
}

func (r *ScanRecordRepo) Record(ctx context.Context, rec domain.ScanRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO scan_records (scan_id, deployment, action, outcome, detail, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ScanID, rec.Deployment, string(rec.Action), string(rec.Outcome), rec.Detail,
		rec.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}

// ListByDeployment returns the records for one deployment, newest first.
func (r *ScanRecordRepo) ListByDeployment(ctx context.Context, deployment string) ([]domain.ScanRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT scan_id, deployment, action, outcome, detail, recorded_at
		 FROM scan_records WHERE deployment = ? ORDER BY id DESC`,
		deployment,
	)
	if err != nil {
		return nil, fmt.Errorf("list scan records: %w", err)
	}
	defer rows.Close()

	var records []domain.ScanRecord
	for rows.Next() {
		var rec domain.ScanRecord
		var action, outcome, recordedAt string
		if err := rows.Scan(&rec.ScanID, &rec.Deployment, &action, &outcome, &rec.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec.Action = domain.Action(action)
		rec.Outcome = domain.OutcomeKind(outcome)
		rec.At, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
