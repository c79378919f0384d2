package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tillpos/internal/domain"
)

// The outbox is single-consumer: till operations append inside their own
// transactions, and only the holder of sync_lease reads and marks sent.

// AppendSyncLog appends an outbox entry and returns its sequence number.
// A repeated entry ID is ignored and returns the existing sequence.
func (q queries) AppendSyncLog(ctx context.Context, e domain.SyncLogEntry) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_log (id, record_id, data_type, action, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.RecordID, string(e.DataType), string(e.Action), string(e.Payload), formatTime(e.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("append sync log: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("append sync log: rows affected: %w", err)
	}
	if n > 0 {
		seq, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("append sync log: last insert id: %w", err)
		}
		return seq, nil
	}

	var seq int64
	if err := q.q.QueryRowContext(ctx, `SELECT seq FROM sync_log WHERE id = ?`, e.ID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("append sync log: select existing: %w", err)
	}
	return seq, nil
}

const syncLogColumns = `seq, id, record_id, data_type, action, payload, created_at, sent_at`

func scanSyncLog(row rowScanner) (domain.SyncLogEntry, error) {
	var (
		e         domain.SyncLogEntry
		payload   string
		createdAt string
		sentAt    sql.NullString
	)
	if err := row.Scan(&e.Seq, &e.ID, &e.RecordID, &e.DataType, &e.Action, &payload, &createdAt, &sentAt); err != nil {
		return domain.SyncLogEntry{}, err
	}
	e.Payload = []byte(payload)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.SyncLogEntry{}, err
	}
	if e.SentAt, err = parseNullTime(sentAt); err != nil {
		return domain.SyncLogEntry{}, err
	}
	return e, nil
}

func (q queries) readSyncLog(ctx context.Context, query string, args ...any) ([]domain.SyncLogEntry, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync log: %w", err)
	}
	defer rows.Close()

	entries := []domain.SyncLogEntry{}
	for rows.Next() {
		e, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync log: %w", err)
	}
	return entries, nil
}

// PendingSyncLog returns up to limit unsent entries in append order.
func (q queries) PendingSyncLog(ctx context.Context, limit int) ([]domain.SyncLogEntry, error) {
	return q.readSyncLog(ctx, `
		SELECT `+syncLogColumns+`
		FROM sync_log
		WHERE sent_at IS NULL
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
}

// SyncLog returns the whole trail, sent or not, in append order.
func (q queries) SyncLog(ctx context.Context) ([]domain.SyncLogEntry, error) {
	return q.readSyncLog(ctx, `SELECT `+syncLogColumns+` FROM sync_log ORDER BY seq ASC`)
}

// PendingCount returns the number of unsent entries.
func (q queries) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_log WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// MarkSent stamps the given entries as acknowledged by the remote store.
// Entries already marked keep their original timestamp.
func (q queries) MarkSent(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	res, err := q.q.ExecContext(ctx, `
		UPDATE sync_log SET sent_at = ?
		WHERE sent_at IS NULL AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark sent: rows affected: %w", err)
	}
	return n, nil
}

// PruneSyncLog deletes sent entries acknowledged before cutoff. Unsent
// entries are never pruned.
func (q queries) PruneSyncLog(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM sync_log WHERE sent_at IS NOT NULL AND sent_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune sync log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sync log: rows affected: %w", err)
	}
	return n, nil
}

// LastSyncSeq returns the highest sequence ever appended, or 0 for an empty
// outbox. Pruning never lowers it.
func (q queries) LastSyncSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.q.QueryRowContext(ctx, `SELECT seq FROM sqlite_sequence WHERE name = 'sync_log'`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sync seq: %w", err)
	}
	return seq, nil
}

// AcquireSyncLease takes the outbox drain lease for owner until now+ttl, or
// extends it if owner already holds it. It returns false while a different
// owner holds a lease that has not expired.
func (q queries) AcquireSyncLease(ctx context.Context, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_lease (id, owner, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE sync_lease.owner = excluded.owner OR sync_lease.expires_at <= ?
	`, owner, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseSyncLease gives the lease up if owner still holds it.
func (q queries) ReleaseSyncLease(ctx context.Context, owner string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM sync_lease WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("release sync lease: %w", err)
	}
	return nil
}
