package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/forge/poingest"
)

// MySQLStore implements poingest.Store on MySQL 8. The DSN must enable
// parseTime so DATE/DATETIME columns scan into time.Time.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore create a Store over db.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var _ poingest.Store = (*MySQLStore)(nil)

// ---- checkpoint ----

func (s *MySQLStore) FindCheckpoint(ctx context.Context, jobName string) (*poingest.Checkpoint, error) {
	cp := &poingest.Checkpoint{JobName: jobName}
	err := s.db.QueryRowContext(ctx,
		"SELECT last_offset, last_run FROM ingest_checkpoint WHERE job_name = ?", jobName,
	).Scan(&cp.LastOffset, &cp.LastRun)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "query checkpoint failed, job:%v", jobName, err)
	}
	return cp, nil
}

func (s *MySQLStore) SaveCheckpoint(ctx context.Context, jobName string, offset int, runTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_checkpoint (job_name, last_offset, last_run)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE last_offset = VALUES(last_offset), last_run = VALUES(last_run)`,
		jobName, offset, runTime.UTC())
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "save checkpoint failed, job:%v, offset:%v", jobName, offset, err)
	}
	return nil
}

// ---- run lock ----

func (s *MySQLStore) AcquireLock(ctx context.Context, jobName string, staleAfter time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "start lock transaction failed", err)
	}
	defer tx.Rollback()

	var startedAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT started_at FROM ingest_lock WHERE job_name = ? FOR UPDATE", jobName,
	).Scan(&startedAt)
	switch {
	case err == sql.ErrNoRows:
		// no holder
	case err != nil:
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "query lock failed, job:%v", jobName, err)
	default:
		if time.Since(startedAt) < staleAfter {
			return poingest.NewIngestError(poingest.ErrCodeLockHeld, "job:%v is already running since %v", jobName, startedAt.UTC().Format(time.RFC3339))
		}
		// abandoned by a crashed holder; reclaim
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ingest_lock (job_name, started_at, status)
		VALUES (?, UTC_TIMESTAMP(), 'running')
		ON DUPLICATE KEY UPDATE started_at = UTC_TIMESTAMP(), status = 'running'`,
		jobName)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "write lock failed, job:%v", jobName, err)
	}
	if err := tx.Commit(); err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "commit lock failed, job:%v", jobName, err)
	}
	return nil
}

func (s *MySQLStore) ReleaseLock(ctx context.Context, jobName string) error {
	// idempotent: deleting an already-cleared lock is not an error
	_, err := s.db.ExecContext(ctx, "DELETE FROM ingest_lock WHERE job_name = ?", jobName)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "release lock failed, job:%v", jobName, err)
	}
	return nil
}

// ---- run log ----

func (s *MySQLStore) RecordRun(ctx context.Context, entry *poingest.RunLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_run_log (mode, start_time, end_time, rows_processed, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(entry.Mode), entry.StartTime.UTC(), entry.EndTime.UTC(),
		entry.RowsProcessed, entry.Status, entry.ErrorMessage)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "insert run log failed, mode:%v", entry.Mode, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.RunId = id
	}
	return nil
}

func (s *MySQLStore) RecentSuccessStats(ctx context.Context, mode poingest.Mode, window int) ([]poingest.RunStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rows_processed, TIMESTAMPDIFF(MICROSECOND, start_time, end_time) / 1000000
		FROM ingest_run_log
		WHERE status = 'success' AND mode = ?
		ORDER BY run_id DESC
		LIMIT ?`,
		string(mode), window)
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "query run baseline failed, mode:%v", mode, err)
	}
	defer rows.Close()

	var stats []poingest.RunStats
	for rows.Next() {
		var st poingest.RunStats
		if err := rows.Scan(&st.RowsProcessed, &st.DurationSec); err != nil {
			return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "scan run baseline failed", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "iterate run baseline failed", err)
	}
	return stats, nil
}

func (s *MySQLStore) LastSuccessEnd(ctx context.Context) (*time.Time, error) {
	var end time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT end_time FROM ingest_run_log
		WHERE status = 'success'
		ORDER BY run_id DESC
		LIMIT 1`).Scan(&end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "query last success failed", err)
	}
	return &end, nil
}

// ---- records ----

// recordColumns are the non-key columns written on insert and update, in the
// order of recordArgs.
const recordColumns = "created_date, status, supplier_id, purchasing_group, plant, product_id, description, quantity, unit, unit_price, net_value, material_group, source_hash"

func recordArgs(r *poingest.Record) []interface{} {
	return []interface{}{
		nullTime(r.CreatedDate), r.Status, r.SupplierId, r.PurchasingGroup,
		r.Plant, r.ProductId, r.Description, nullFloat(r.Quantity), r.Unit,
		nullFloat(r.UnitPrice), nullFloat(r.NetValue), r.MaterialGroup, r.SourceHash,
	}
}

// UpsertRecords writes one chunk in a single transaction. MySQL has no
// conditional "on conflict ... where" form that skips unchanged rows, so this
// is the explicit two-step: read the current hashes for the chunk's keys,
// then insert the new keys and update only the rows whose source_hash
// changed. Unchanged rows generate no write.
func (s *MySQLStore) UpsertRecords(ctx context.Context, records []poingest.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	records = dedupeByKey(records)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "start upsert transaction failed", err)
	}
	defer tx.Rollback()

	existing, err := s.currentHashes(ctx, tx, records)
	if err != nil {
		return 0, err
	}

	var toInsert []poingest.Record
	var toUpdate []poingest.Record
	for _, r := range records {
		hash, found := existing[r.PurchaseOrderId+"\x00"+r.LineItemNumber]
		switch {
		case !found:
			toInsert = append(toInsert, r)
		case hash != r.SourceHash:
			toUpdate = append(toUpdate, r)
		}
	}

	if len(toInsert) > 0 {
		placeholder := "(?, ?, " + strings.Repeat("?, ", 12) + "?)"
		values := make([]string, len(toInsert))
		args := make([]interface{}, 0, len(toInsert)*15)
		for i, r := range toInsert {
			values[i] = placeholder
			args = append(args, r.PurchaseOrderId, r.LineItemNumber)
			args = append(args, recordArgs(&r)...)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO purchase_order_items (purchase_order_id, line_item_number, "+recordColumns+") VALUES "+strings.Join(values, ", "),
			args...)
		if err != nil {
			return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "insert records failed, count:%v", len(toInsert), err)
		}
	}

	if len(toUpdate) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE purchase_order_items
			SET created_date = ?, status = ?, supplier_id = ?, purchasing_group = ?,
			    plant = ?, product_id = ?, description = ?, quantity = ?, unit = ?,
			    unit_price = ?, net_value = ?, material_group = ?, source_hash = ?
			WHERE purchase_order_id = ? AND line_item_number = ?`)
		if err != nil {
			return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "prepare update failed", err)
		}
		defer stmt.Close()
		for _, r := range toUpdate {
			args := append(recordArgs(&r), r.PurchaseOrderId, r.LineItemNumber)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "update record failed, po:%v, line:%v", r.PurchaseOrderId, r.LineItemNumber, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "commit upsert failed", err)
	}
	return len(toInsert) + len(toUpdate), nil
}

func (s *MySQLStore) currentHashes(ctx context.Context, tx *sql.Tx, records []poingest.Record) (map[string]string, error) {
	pairs := make([]string, len(records))
	args := make([]interface{}, 0, len(records)*2)
	for i, r := range records {
		pairs[i] = "(?, ?)"
		args = append(args, r.PurchaseOrderId, r.LineItemNumber)
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT purchase_order_id, line_item_number, source_hash FROM purchase_order_items WHERE (purchase_order_id, line_item_number) IN ("+strings.Join(pairs, ", ")+")",
		args...)
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "query current hashes failed", err)
	}
	defer rows.Close()

	existing := make(map[string]string, len(records))
	for rows.Next() {
		var po, line, hash string
		if err := rows.Scan(&po, &line, &hash); err != nil {
			return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "scan current hash failed", err)
		}
		existing[po+"\x00"+line] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "iterate current hashes failed", err)
	}
	return existing, nil
}

func (s *MySQLStore) TruncateRecords(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE purchase_order_items"); err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "truncate target table failed", err)
	}
	return nil
}

// ---- backfill batches ----

func (s *MySQLStore) CountBatches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_batch").Scan(&n); err != nil {
		return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "count batches failed", err)
	}
	return n, nil
}

func (s *MySQLStore) CreateBatches(ctx context.Context, batches []poingest.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	values := make([]string, len(batches))
	args := make([]interface{}, 0, len(batches)*3)
	for i, b := range batches {
		values[i] = "(?, ?, ?)"
		args = append(args, b.StartDate.UTC(), b.EndDate.UTC(), poingest.BatchPending)
	}
	// INSERT IGNORE respects the unique (start_date, end_date) index on rerun
	_, err := s.db.ExecContext(ctx,
		"INSERT IGNORE INTO ingest_batch (start_date, end_date, status) VALUES "+strings.Join(values, ", "),
		args...)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "insert batches failed, count:%v", len(batches), err)
	}
	return nil
}

func (s *MySQLStore) ClaimNextBatch(ctx context.Context) (*poingest.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "start claim transaction failed", err)
	}
	defer tx.Rollback()

	b := &poingest.Batch{}
	err = tx.QueryRowContext(ctx, `
		SELECT batch_id, start_date, end_date
		FROM ingest_batch
		WHERE status = 'PENDING'
		ORDER BY start_date
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&b.BatchId, &b.StartDate, &b.EndDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "select pending batch failed", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE ingest_batch SET status = 'IN_PROGRESS', updated_at = UTC_TIMESTAMP() WHERE batch_id = ?",
		b.BatchId)
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "mark batch in progress failed, id:%v", b.BatchId, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "commit batch claim failed, id:%v", b.BatchId, err)
	}
	b.Status = poingest.BatchInProgress
	return b, nil
}

func (s *MySQLStore) CompleteBatch(ctx context.Context, batchId int64, filesCount, rowsInserted int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_batch
		SET status = 'COMPLETED', files_count = ?, rows_inserted = ?, updated_at = UTC_TIMESTAMP()
		WHERE batch_id = ?`,
		filesCount, rowsInserted, batchId)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "complete batch failed, id:%v", batchId, err)
	}
	return nil
}

func (s *MySQLStore) FailBatch(ctx context.Context, batchId int64, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_batch
		SET status = 'FAILED', error_message = ?, updated_at = UTC_TIMESTAMP()
		WHERE batch_id = ?`,
		errorMessage, batchId)
	if err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "fail batch failed, id:%v", batchId, err)
	}
	return nil
}

func (s *MySQLStore) ResetFailedBatches(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE ingest_batch SET status = 'PENDING', error_message = NULL, updated_at = UTC_TIMESTAMP() WHERE status = 'FAILED'")
	if err != nil {
		return 0, poingest.NewIngestError(poingest.ErrCodeDbFail, "reset failed batches failed", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- helpers ----

func dedupeByKey(records []poingest.Record) []poingest.Record {
	seen := make(map[string]int, len(records))
	out := records[:0:0]
	for _, r := range records {
		key := r.PurchaseOrderId + "\x00" + r.LineItemNumber
		if i, dup := seen[key]; dup {
			out[i] = r // last occurrence wins
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
