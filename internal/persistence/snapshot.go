package persistence

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/settlement"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion identifies the JSON layout of SnapshotData.
const snapshotFormatVersion = 1

// SnapshotManager creates and loads state snapshots for warm restart.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full in-memory state at a sequence, JSON encoded.
type SnapshotData struct {
	Sequence        int64             `json:"sequence"`
	StateHash       []byte            `json:"state_hash"`
	Balances        map[string]int64  `json:"balances"` // AccountPath -> balance
	Settlement      *settlement.State `json:"settlement"`
	SequenceState   map[string]int64  `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string          `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time         `json:"created_at"`
}

// FromCoreState converts core state into its persisted form.
func FromCoreState(st *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(st.Balances))
	for key, bal := range st.Balances {
		balances[key.AccountPath()] = bal
	}
	return &SnapshotData{
		Sequence:        st.Sequence,
		StateHash:       append([]byte(nil), st.StateHash[:]...),
		Balances:        balances,
		Settlement:      st.Settlement,
		SequenceState:   st.SequenceState,
		IdempotencyKeys: st.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
}

// ToCoreState converts a loaded snapshot back into core state.
func (s *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(s.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", s.Sequence, len(s.StateHash))
	}
	st := &core.SnapshotState{
		Sequence:        s.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(s.Balances)),
		Settlement:      s.Settlement,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
	}
	copy(st.StateHash[:], s.StateHash)

	for path, bal := range s.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.Sequence, err)
		}
		st.Balances[key] = bal
	}
	return st, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Saving the same sequence twice overwrites
// the data and clears the verified flag.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE
			SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format %d not supported", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit commands starting at fromSequence, in
// sequence order, for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, category_id, payload, result,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e        EventRow
			category sql.NullInt64
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &category, &e.Payload, &e.Result,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if category.Valid {
			id := category.Int64
			e.CategoryID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadRecentKeys returns the composite idempotency keys of the last limit
// commands, oldest first, for LRU warming on a cold start.
func (sm *SnapshotManager) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key FROM (
			SELECT sequence, event_type, idempotency_key FROM event_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var et, key string
		if err := rows.Scan(&et, &key); err != nil {
			return nil, err
		}
		keys = append(keys, et+":"+key)
	}
	return keys, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, 0 if empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
