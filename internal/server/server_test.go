package server_test

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// stubSubmitter applies each command id once, like the core.
type stubSubmitter struct {
	err  error
	got  []event.Event
	seen map[string]bool
}

func (s *stubSubmitter) Submit(_ context.Context, evt event.Event) (core.Outcome, error) {
	s.got = append(s.got, evt)
	if s.err != nil {
		return core.Outcome{}, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[evt.IdempotencyKey()] {
		return core.Outcome{}, nil
	}
	s.seen[evt.IdempotencyKey()] = true
	return core.Outcome{Envelope: &event.EventEnvelope{Sequence: int64(len(s.seen)), IdempotencyKey: evt.IdempotencyKey()}}, nil
}

type stubStore struct {
	accounts map[string][]query.AccountBalance
	epochs   map[int64]*query.EpochSettlement
}

func (s *stubStore) Watermark(context.Context) (int64, error) { return 7, nil }

func (s *stubStore) PartyAccounts(_ context.Context, scope, entityID string) ([]query.AccountBalance, error) {
	return s.accounts[scope+":"+entityID], nil
}

func (s *stubStore) EpochSettlement(_ context.Context, epoch int64) (*query.EpochSettlement, error) {
	e, ok := s.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("epoch %d: %w", epoch, query.ErrNotFound)
	}
	return e, nil
}

func (s *stubStore) RecentEpochs(context.Context, int) ([]int64, error) { return []int64{1, 0}, nil }

func (s *stubStore) Lapses(context.Context, string, int) ([]query.LapseEntry, error) { return nil, nil }

func (s *stubStore) JournalHistory(context.Context, string, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (s *stubStore) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type stubLive struct{}

func (stubLive) CurrentEpoch(context.Context) (*server.LiveEpoch, error) {
	epoch := int64(2)
	return &server.LiveEpoch{ClockEpoch: 2, SnapshotEpoch: &epoch, Sequence: 9}, nil
}

type fixture struct {
	srv       *httptest.Server
	submitter *stubSubmitter
	buyer     uuid.UUID
}

func newFixture(t *testing.T, admin server.Admin) *fixture {
	t.Helper()
	buyer := uuid.New()
	store := &stubStore{
		accounts: map[string][]query.AccountBalance{
			"buyer:" + buyer.String(): {
				{SubType: "balance", Asset: "USDC", Balance: 99950},
			},
		},
		epochs: map[int64]*query.EpochSettlement{
			0: {Epoch: 0, PremiumCharged: 50},
		},
	}
	sub := &stubSubmitter{}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)

	api := server.NewAPI(
		ingestion.NewIngestService(sub),
		query.NewQueryService(store),
		stubLive{},
		admin,
		metrics,
		zerolog.Nop(),
	)
	handler, err := server.NewHTTPHandler(server.Deps{
		API:           api,
		HealthChecker: observability.NewHealthChecker(),
		Gatherer:      reg,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, submitter: sub, buyer: buyer}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// ============================================================================
// Test: commands
// ============================================================================

func TestAPI_SubmitCommand(t *testing.T) {
	f := newFixture(t, server.Admin{})

	status, body := f.do(t, "POST", "/v1/commands/BuyerDeposit",
		`{"command_id":"dep-1","buyer_id":"`+f.buyer.String()+`","amount":500}`)
	if status != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%v)", status, body)
	}
	if body["command_id"] != "dep-1" || body["applied"] != true || body["duplicate"] != false || body["sequence"] != float64(1) {
		t.Errorf("body: got %v", body)
	}
	if len(f.submitter.got) != 1 {
		t.Fatalf("submitted: got %d, want 1", len(f.submitter.got))
	}
	if got := f.submitter.got[0].(*event.BuyerDeposit).Amount; got != 500 {
		t.Errorf("amount: got %d, want 500", got)
	}
}

func TestAPI_SubmitDuplicateCommand(t *testing.T) {
	f := newFixture(t, server.Admin{})
	cmd := `{"command_id":"dep-1","buyer_id":"` + f.buyer.String() + `","amount":500}`

	if status, _ := f.do(t, "POST", "/v1/commands/BuyerDeposit", cmd); status != http.StatusOK {
		t.Fatalf("first submit: got %d, want 200", status)
	}
	status, body := f.do(t, "POST", "/v1/commands/BuyerDeposit", cmd)
	if status != http.StatusOK {
		t.Fatalf("second submit: got %d, want 200 (%v)", status, body)
	}
	if body["applied"] != false || body["duplicate"] != true {
		t.Errorf("body: got %v, want applied=false duplicate=true", body)
	}
	if _, ok := body["sequence"]; ok {
		t.Errorf("duplicate carries a sequence: %v", body)
	}
}

func TestAPI_CommandErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		body      string
		submitErr error
		want      int
	}{
		{"unknown command", "ClaimPayout", `{}`, nil, http.StatusNotFound},
		{"malformed body", "BuyerDeposit", `{"amount":`, nil, http.StatusBadRequest},
		{"bad buyer id", "BuyerDeposit", `{"buyer_id":"nope","amount":1}`, nil, http.StatusBadRequest},
		{"insufficient balance", "FundBonus", `{"amount":1}`, fmt.Errorf("fund: %w", settlement.ErrInsufficientBalance), http.StatusConflict},
		{"stale snapshot", "BeforeUpdate", `{}`, settlement.ErrStaleSnapshot, http.StatusConflict},
		{"unknown category", "ResetIndexes", `{"category":9}`, settlement.ErrUnknownCategory, http.StatusNotFound},
		{"sequence gap", "EpochSettle", `{}`, fmt.Errorf("sequence validation failed: %w", core.ErrSequenceGap), http.StatusConflict},
		{"internal", "EpochSettle", `{}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, server.Admin{})
			f.submitter.err = tc.submitErr
			status, body := f.do(t, "POST", "/v1/commands/"+tc.command, tc.body)
			if status != tc.want {
				t.Errorf("status: got %d, want %d (%v)", status, tc.want, body)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("body has no error field: %v", body)
			}
		})
	}
}

// ============================================================================
// Test: queries
// ============================================================================

func TestAPI_GetBuyer(t *testing.T) {
	f := newFixture(t, server.Admin{})

	status, body := f.do(t, "GET", "/v1/buyers/"+f.buyer.String(), "")
	if status != http.StatusOK {
		t.Fatalf("status: got %d, want 200", status)
	}
	if body["as_of_sequence"] != float64(7) {
		t.Errorf("as_of_sequence: got %v, want 7", body["as_of_sequence"])
	}

	if status, _ := f.do(t, "GET", "/v1/buyers/"+uuid.NewString(), ""); status != http.StatusNotFound {
		t.Errorf("unknown buyer: got %d, want 404", status)
	}
	if status, _ := f.do(t, "GET", "/v1/buyers/not-a-uuid", ""); status != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", status)
	}
}

func TestAPI_Epochs(t *testing.T) {
	f := newFixture(t, server.Admin{})

	status, body := f.do(t, "GET", "/v1/epochs/0", "")
	if status != http.StatusOK {
		t.Fatalf("epoch 0: got %d, want 200", status)
	}
	if body["premium_charged"] != float64(50) {
		t.Errorf("premium_charged: got %v, want 50", body["premium_charged"])
	}

	status, body = f.do(t, "GET", "/v1/epochs/current", "")
	if status != http.StatusOK {
		t.Fatalf("current: got %d, want 200", status)
	}
	if body["snapshot_epoch"] != float64(2) || body["stale"] != false {
		t.Errorf("current: got %v", body)
	}

	if status, _ := f.do(t, "GET", "/v1/epochs/5", ""); status != http.StatusNotFound {
		t.Errorf("missing epoch: got %d, want 404", status)
	}
	if status, _ := f.do(t, "GET", "/v1/epochs/-1", ""); status != http.StatusBadRequest {
		t.Errorf("negative epoch: got %d, want 400", status)
	}
}

func TestAPI_JournalScopeValidated(t *testing.T) {
	f := newFixture(t, server.Admin{})
	if status, _ := f.do(t, "GET", "/v1/journals/system/x", ""); status != http.StatusBadRequest {
		t.Errorf("system scope: got %d, want 400", status)
	}
	if status, _ := f.do(t, "GET", "/v1/journals/seller/"+uuid.NewString()+"?limit=5", ""); status != http.StatusOK {
		t.Errorf("seller scope: got %d, want 200", status)
	}
}

// ============================================================================
// Test: admin and ops routes
// ============================================================================

func TestAPI_AdminRoutes(t *testing.T) {
	f := newFixture(t, server.Admin{})
	if status, _ := f.do(t, "POST", "/v1/admin/snapshot", ""); status != http.StatusNotImplemented {
		t.Errorf("unconfigured snapshot: got %d, want 501", status)
	}

	rebuilt := false
	f = newFixture(t, server.Admin{
		TakeSnapshot:       func(context.Context) (int64, error) { return 42, nil },
		RebuildProjections: func(context.Context) error { rebuilt = true; return nil },
	})
	status, body := f.do(t, "POST", "/v1/admin/snapshot", "")
	if status != http.StatusOK || body["sequence"] != float64(42) {
		t.Errorf("snapshot: got %d %v", status, body)
	}
	if status, _ := f.do(t, "POST", "/v1/admin/rebuild", ""); status != http.StatusOK || !rebuilt {
		t.Errorf("rebuild: got %d rebuilt=%v", status, rebuilt)
	}
	if status, body := f.do(t, "GET", "/v1/admin/integrity", ""); status != http.StatusOK || body["is_healthy"] != true {
		t.Errorf("integrity: got %d %v", status, body)
	}
}

func TestHTTPHandler_OpsRoutes(t *testing.T) {
	f := newFixture(t, server.Admin{})
	if status, _ := f.do(t, "GET", "/healthz", ""); status != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", status)
	}
	if status, _ := f.do(t, "GET", "/readyz", ""); status != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d, want 503", status)
	}

	// One request so the counters have a sample.
	f.do(t, "GET", "/v1/guarantor", "")
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: got %d, want 200", resp.StatusCode)
	}
}

// ============================================================================
// Test: live epoch
// ============================================================================

func TestLiveEpochOf(t *testing.T) {
	assets, err := settlement.ResolveAssets("USDC", "TIDAL")
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	genesis := time.Unix(0, 0)
	clock, err := state.NewEpochClock(genesis, state.DefaultEpochLength)
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	c := core.NewDeterministicCore(core.Config{Assets: assets, Clock: clock, LRUCapacity: 64},
		make(chan core.CoreOutput, 64), nil, nil, nil, nil, zerolog.Nop())

	live := server.LiveEpochOf(c, genesis.Add(time.Hour))
	if live.SnapshotEpoch != nil || !live.Stale {
		t.Fatalf("before any snapshot: got %+v", live)
	}

	buyer, seller := uuid.New(), uuid.New()
	cmds := []event.Event{
		&event.SetAsset{Meta: event.Meta{CommandID: "set-asset", Timestamp: 1}, Category: 1},
		&event.SetPremiumRate{Meta: event.Meta{CommandID: "set-rate", Timestamp: 2}, Category: 1, Rate: 500},
		&event.BuyerDeposit{Meta: event.Meta{CommandID: "buyer-dep", Timestamp: 3}, BuyerID: buyer, Amount: 100000},
		&event.Subscribe{Meta: event.Meta{CommandID: "subscribe", Timestamp: 4}, BuyerID: buyer, Category: 1, Coverage: 100000},
		&event.SellerDeposit{Meta: event.Meta{CommandID: "seller-dep", Timestamp: 5}, SellerID: seller, Amount: 80000},
		&event.ChangeBasket{Meta: event.Meta{CommandID: "basket", Timestamp: 6}, SellerID: seller, Categories: []uint32{1}},
		&event.EpochSettle{Meta: event.Meta{CommandID: "settle-0", Timestamp: 10}},
	}
	for _, cmd := range cmds {
		if err := c.ProcessEvent(cmd); err != nil {
			t.Fatalf("process %s: %v", cmd.EventType(), err)
		}
	}

	live = server.LiveEpochOf(c, genesis.Add(time.Hour))
	if live.SnapshotEpoch == nil || *live.SnapshotEpoch != 0 || live.Stale {
		t.Fatalf("after settle: got %+v", live)
	}
	if live.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", live.Sequence)
	}
	if len(live.Categories) != 1 || live.Categories[0].EffectiveCovered != 80000 {
		t.Errorf("categories: got %+v", live.Categories)
	}

	// A week later the snapshot is behind the clock.
	if next := server.LiveEpochOf(c, genesis.Add(state.DefaultEpochLength+time.Hour)); !next.Stale {
		t.Error("snapshot should be stale in the next epoch")
	}
}

// ============================================================================
// Test: websocket feed
// ============================================================================

func TestWSHub_BroadcastsAppliedCommands(t *testing.T) {
	hub := server.NewWSHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	buyer := uuid.New()
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 12, IdempotencyKey: "settle-3", EventType: event.EventTypeEpochSettle},
		Result:   &settlement.EpochReport{Epoch: 3, PremiumCharged: 50},
		Lapses:   []settlement.Lapse{{BuyerID: buyer, CategoryID: 1, Epoch: 3, Due: 50, Charged: 20}},
	}
	hub.AfterApply(ctx, out)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []server.WSMessage
	for len(got) < 2 {
		var msg server.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, msg)
	}

	if got[0].Type != "command" || got[0].Sequence != 12 || got[0].EventType != "EpochSettle" {
		t.Errorf("command message: got %+v", got[0])
	}
	if got[0].PremiumCharged == nil || *got[0].PremiumCharged != 50 {
		t.Errorf("premium charged: got %v, want 50", got[0].PremiumCharged)
	}
	if got[1].Type != "lapse" || got[1].Lapse == nil || got[1].Lapse.BuyerID != buyer {
		t.Errorf("lapse message: got %+v", got[1])
	}
}

func TestMessagesFor_PlainCommand(t *testing.T) {
	cat := uint32(4)
	msgs := server.MessagesFor(core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 3, IdempotencyKey: "k", EventType: event.EventTypeBuyerDeposit, CategoryID: &cat},
	})
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	if msgs[0].Epoch != nil || *msgs[0].CategoryID != 4 {
		t.Errorf("message: got %+v", msgs[0])
	}
}
