package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// JournalEntry is one committed transition as stored in transition_journal.
type JournalEntry struct {
	ContextID   string
	Phase       string
	Seq         int
	Kind        string
	TargetKind  string
	X, Y, Z     int32
	Slot        int32
	PriorType   string
	PriorMeta   int32
	PriorCount  int32
	FinalType   string
	FinalMeta   int32
	FinalCount  int32
	NoOp        bool
	Effects     []string
	Cause       string
	CommittedAt time.Time
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// Write inserts entries in a single transaction. Rows already journaled for the
// same (context_id, seq) are skipped so a retried batch is harmless.
func (r *JournalRepo) Write(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		effects := e.Effects
		if effects == nil {
			effects = []string{}
		}
		batch.Queue(
			`INSERT INTO transition_journal
			   (context_id, phase, seq, kind, target_kind, x, y, z, slot,
			    prior_type, prior_meta, prior_count, final_type, final_meta, final_count,
			    noop, effects, cause, committed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			 ON CONFLICT (context_id, seq) DO NOTHING`,
			e.ContextID, e.Phase, e.Seq, e.Kind, e.TargetKind, e.X, e.Y, e.Z, e.Slot,
			e.PriorType, e.PriorMeta, e.PriorCount, e.FinalType, e.FinalMeta, e.FinalCount,
			e.NoOp, effects, e.Cause, e.CommittedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return tx.Commit(ctx)
}

// History returns the journaled transitions at a block position, newest first.
func (r *JournalRepo) History(ctx context.Context, x, y, z int32, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT context_id, phase, seq, kind, target_kind, x, y, z, slot,
		        prior_type, prior_meta, prior_count, final_type, final_meta, final_count,
		        noop, effects, cause, committed_at
		 FROM transition_journal
		 WHERE x = $1 AND y = $2 AND z = $3
		 ORDER BY id DESC
		 LIMIT $4`,
		x, y, z, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.ContextID, &e.Phase, &e.Seq, &e.Kind, &e.TargetKind, &e.X, &e.Y, &e.Z, &e.Slot,
			&e.PriorType, &e.PriorMeta, &e.PriorCount, &e.FinalType, &e.FinalMeta, &e.FinalCount,
			&e.NoOp, &e.Effects, &e.Cause, &e.CommittedAt,
		); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
