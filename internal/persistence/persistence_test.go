package persistence_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"CoverLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newCore(t *testing.T) (*core.DeterministicCore, chan core.CoreOutput) {
	t.Helper()
	assets, err := settlement.ResolveAssets("USDC", "TIDAL")
	if err != nil {
		t.Fatalf("resolve assets: %v", err)
	}
	clock, err := state.NewEpochClock(time.Unix(0, 0), state.DefaultEpochLength)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	persistChan := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(core.Config{Assets: assets, Clock: clock},
		persistChan, make(chan core.CoreOutput, 64), nil, nil, nil, zerolog.Nop())
	return c, persistChan
}

func seed(t *testing.T, c *core.DeterministicCore, buyer uuid.UUID) {
	t.Helper()
	cmds := []event.Event{
		&event.SetAsset{Meta: event.Meta{CommandID: "asset", Timestamp: 1}, Category: 2, RiskCategoryID: 1},
		&event.BuyerDeposit{Meta: event.Meta{CommandID: "dep", Timestamp: 2}, BuyerID: buyer, Amount: 5000},
	}
	for _, cmd := range cmds {
		if err := c.ProcessEvent(cmd); err != nil {
			t.Fatalf("process %s: %v", cmd.EventType(), err)
		}
	}
}

// ============================================================================
// Test: record conversion
// ============================================================================

func TestToRecord_DepositRows(t *testing.T) {
	c, persistChan := newCore(t)
	seed(t, c, uuid.New())

	<-persistChan // SetAsset
	rec, err := persistence.ToRecord(<-persistChan)
	if err != nil {
		t.Fatalf("to record: %v", err)
	}

	if rec.Event.Sequence != 2 {
		t.Errorf("sequence: got %d, want 2", rec.Event.Sequence)
	}
	if rec.Event.EventType != "BuyerDeposit" || rec.Event.IdempotencyKey != "dep" {
		t.Errorf("got type=%s key=%s", rec.Event.EventType, rec.Event.IdempotencyKey)
	}
	if len(rec.Event.StateHash) != 32 || len(rec.Event.PrevHash) != 32 {
		t.Errorf("hash lengths: %d/%d", len(rec.Event.StateHash), len(rec.Event.PrevHash))
	}
	if len(rec.Journals) != 1 {
		t.Fatalf("journals: got %d, want 1", len(rec.Journals))
	}
	j := rec.Journals[0]
	if j.Amount != 5000 || j.Sequence != 2 || j.EventRef != "dep" {
		t.Errorf("journal: got %+v", j)
	}

	// The payload must decode back into the same command.
	decoded, err := event.DecodePayload(event.EventTypeBuyerDeposit, rec.Event.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got := decoded.(*event.BuyerDeposit).Amount; got != 5000 {
		t.Errorf("decoded amount: got %d, want 5000", got)
	}
}

func TestToRecord_CategoryColumn(t *testing.T) {
	c, persistChan := newCore(t)
	seed(t, c, uuid.New())

	rec, err := persistence.ToRecord(<-persistChan)
	if err != nil {
		t.Fatalf("to record: %v", err)
	}
	if rec.Event.CategoryID == nil || *rec.Event.CategoryID != 2 {
		t.Errorf("category: got %v, want 2", rec.Event.CategoryID)
	}
}

// ============================================================================
// Test: snapshot conversion
// ============================================================================

func TestSnapshotData_RoundTripsCoreState(t *testing.T) {
	c, _ := newCore(t)
	buyer := uuid.New()
	seed(t, c, buyer)

	data := persistence.FromCoreState(c.CreateSnapshotState(), time.Unix(100, 0))
	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded persistence.SnapshotData
	if err := json.Unmarshal(encoded, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	st, err := loaded.ToCoreState()
	if err != nil {
		t.Fatalf("to core state: %v", err)
	}

	restored, _ := newCore(t)
	if err := restored.RestoreFromSnapshot(st); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("state hash differs after restore")
	}
	if restored.GetSequence() != c.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), c.GetSequence())
	}
	if got := restored.Coordinator().Buyers().Balance(buyer); got != 5000 {
		t.Errorf("buyer balance: got %d, want 5000", got)
	}
	if _, ok := restored.Coordinator().Catalog().Get(2); !ok {
		t.Error("category 2 missing after restore")
	}
}

func TestSnapshotData_RejectsBadHash(t *testing.T) {
	data := &persistence.SnapshotData{Sequence: 3, StateHash: []byte{1, 2}}
	if _, err := data.ToCoreState(); err == nil {
		t.Fatal("expected error for short state hash")
	}
}

// ============================================================================
// Test: migrations on disk
// ============================================================================

func TestMigrationFiles_Paired(t *testing.T) {
	dir := testutil.MigrationsDir(t)
	ups, err := persistence.ListMigrationFiles(dir, ".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	downs, err := persistence.ListMigrationFiles(dir, ".down.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations found")
	}
	if len(ups) != len(downs) {
		t.Errorf("up/down count: got %d/%d", len(ups), len(downs))
	}
}

// ============================================================================
// Test: Postgres integration
// ============================================================================

func TestEventLog_WriteAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	c, persistChan := newCore(t)
	seed(t, c, uuid.New())

	ctx := context.Background()
	writer := persistence.NewEventLogWriter(db)
	var recs []persistence.Record
	for i := 0; i < 2; i++ {
		rec, err := persistence.ToRecord(<-persistChan)
		if err != nil {
			t.Fatalf("to record: %v", err)
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		if err := writer.WriteEventBatch(ctx, []persistence.EventRow{rec.Event}, nil); err != nil {
			t.Fatalf("write events: %v", err)
		}
		if err := writer.WriteJournalBatch(ctx, rec.Journals, nil); err != nil {
			t.Fatalf("write journals: %v", err)
		}
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("BuyerDeposit", "dep")
	if err != nil || !dup {
		t.Errorf("IsDuplicate(dep): got %v, %v", dup, err)
	}
	dup, err = checker.IsDuplicate("BuyerDeposit", "other")
	if err != nil || dup {
		t.Errorf("IsDuplicate(other): got %v, %v", dup, err)
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil || latest != 2 {
		t.Errorf("latest sequence: got %d, %v", latest, err)
	}
	rows, err := sm.LoadEventsFrom(ctx, 1, 10)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(rows) != 2 || rows[1].EventType != "BuyerDeposit" {
		t.Errorf("loaded: got %+v", rows)
	}
}

func TestSnapshotManager_OnlyVerifiedLoads(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	c, _ := newCore(t)
	seed(t, c, uuid.New())
	ctx := context.Background()
	sm := persistence.NewSnapshotManager(db)

	snap := persistence.FromCoreState(c.CreateSnapshotState(), time.Now())
	if _, err := sm.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil || loaded != nil {
		t.Fatalf("unverified snapshot loaded: %v, %v", loaded, err)
	}

	if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	loaded, err = sm.LoadLatestSnapshot(ctx)
	if err != nil || loaded == nil {
		t.Fatalf("load: %v, %v", loaded, err)
	}
	if loaded.Sequence != snap.Sequence {
		t.Errorf("sequence: got %d, want %d", loaded.Sequence, snap.Sequence)
	}
}
