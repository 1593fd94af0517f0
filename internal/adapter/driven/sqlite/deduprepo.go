package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/receiptdrop/mailrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DedupLedger = (*DedupRepo)(nil)

// batchSize caps how many message ids a single SQL statement carries; larger
// inputs are chunked. SQLite's default parameter limit is 999.
const batchSize = 500

// DedupRepo is the SQLite implementation of the DedupLedger port. The
// (user_id, message_id) unique index serializes conflicting inserts at the
// storage layer; no application-level locking is involved.
type DedupRepo struct {
	db *DB
}

// NewDedupRepo creates a DedupRepo backed by the given DB.
func NewDedupRepo(db *DB) *DedupRepo {
	return &DedupRepo{db: db}
}

// AlreadyForwarded reports which of the given ids are recorded for the user.
// One SELECT ... IN per chunk of 500 ids, not one round trip per id. Every
// requested id appears in the result map.
func (r *DedupRepo) AlreadyForwarded(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	for _, id := range ids {
		result[id] = false
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		query := fmt.Sprintf(
			`SELECT message_id FROM forwarded_messages WHERE user_id = ? AND message_id IN (%s)`,
			placeholders(len(chunk)),
		)
		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := r.db.Reader.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("check forwarded for user %s: %w", userID, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan forwarded id: %w", err)
			}
			result[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate forwarded ids: %w", err)
		}
		rows.Close()
	}

	return result, nil
}

// MarkForwarded records the ids in one transaction of idempotent inserts.
// Ids already present are silently absorbed by ON CONFLICT DO NOTHING.
func (r *DedupRepo) MarkForwarded(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark forwarded: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		chunk := ids[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO forwarded_messages (user_id, message_id) VALUES `)
		args := make([]any, 0, len(chunk)*2)
		for i, id := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?)")
			args = append(args, userID, id)
		}
		sb.WriteString(` ON CONFLICT (user_id, message_id) DO NOTHING`)

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("mark forwarded for user %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark forwarded for user %s: %w", userID, err)
	}
	return nil
}

// CountForUser returns the number of forwarded-message records for the user.
func (r *DedupRepo) CountForUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM forwarded_messages WHERE user_id = ?`
	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count forwarded for user %s: %w", userID, err)
	}
	return count, nil
}

// PurgeUser removes all forwarded-message records for the user.
func (r *DedupRepo) PurgeUser(ctx context.Context, userID string) (int64, error) {
	const query = `DELETE FROM forwarded_messages WHERE user_id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("purge forwarded for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
