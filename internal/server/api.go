package server

import (
	"CoverLedger/internal/core"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/query"
	"CoverLedger/internal/settlement"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxCommandBody = 1 << 20

// LiveReader answers questions only the running core can: the exposure
// snapshot of the epoch currently in force.
type LiveReader interface {
	CurrentEpoch(ctx context.Context) (*LiveEpoch, error)
}

// Admin exposes operator actions wired up in main.
type Admin struct {
	TakeSnapshot       func(ctx context.Context) (int64, error)
	RebuildProjections func(ctx context.Context) error
}

// API serves the /v1 HTTP surface on a grpc-gateway runtime mux.
type API struct {
	ingest  *ingestion.IngestService
	queries *query.QueryService
	live    LiveReader
	admin   Admin
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewAPI(
	ingest *ingestion.IngestService,
	queries *query.QueryService,
	live LiveReader,
	admin Admin,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *API {
	return &API{
		ingest:  ingest,
		queries: queries,
		live:    live,
		admin:   admin,
		metrics: metrics,
		logger:  logger,
	}
}

// Register binds every route on mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern, endpoint string
		handler                   func(w http.ResponseWriter, r *http.Request, p map[string]string) error
	}{
		{"POST", "/v1/commands/{name}", "submit_command", a.submitCommand},
		{"GET", "/v1/buyers/{id}", "get_buyer", a.getBuyer},
		{"GET", "/v1/buyers/{id}/lapses", "list_lapses", a.listLapses},
		{"GET", "/v1/sellers/{id}", "get_seller", a.getSeller},
		{"GET", "/v1/guarantor", "get_guarantor", a.getGuarantor},
		{"GET", "/v1/journals/{scope}/{id}", "list_journals", a.listJournals},
		{"GET", "/v1/epochs", "list_epochs", a.listEpochs},
		{"GET", "/v1/epochs/{epoch}", "get_epoch", a.getEpoch},
		{"POST", "/v1/admin/snapshot", "take_snapshot", a.takeSnapshot},
		{"POST", "/v1/admin/rebuild", "rebuild_projections", a.rebuild},
		{"GET", "/v1/admin/integrity", "verify_integrity", a.verifyIntegrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.instrument(rt.endpoint, rt.handler)); err != nil {
			return err
		}
	}
	return nil
}

// instrument records metrics and turns handler errors into JSON responses.
func (a *API) instrument(endpoint string, h func(http.ResponseWriter, *http.Request, map[string]string) error) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p map[string]string) {
		start := time.Now()
		status := http.StatusOK
		if err := h(w, r, p); err != nil {
			status = statusFor(err)
			if status >= http.StatusInternalServerError {
				a.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			if a.metrics != nil {
				a.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			}
		}
		if a.metrics != nil {
			a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrInvalidCommand),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrUnknownCommand),
		errors.Is(err, settlement.ErrUnknownCategory),
		errors.Is(err, settlement.ErrUnknownAccount),
		errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrInsufficientBalance),
		errors.Is(err, settlement.ErrStaleSnapshot),
		errors.Is(err, core.ErrSequenceGap),
		errors.Is(err, core.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var (
	errBadRequest    = errors.New("bad request")
	errNotConfigured = errors.New("not configured")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CommandResponse acknowledges a command the core accepted. A command id
// that was already applied comes back with applied=false, duplicate=true.
type CommandResponse struct {
	Command   string `json:"command"`
	CommandID string `json:"command_id"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate"`
	Sequence  int64  `json:"sequence,omitempty"`
}

func (a *API) submitCommand(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		return errors.Join(errBadRequest, err)
	}
	evt, out, err := a.ingest.Inject(r.Context(), p["name"], body)
	if err != nil {
		return err
	}
	resp := CommandResponse{
		Command:   p["name"],
		CommandID: evt.IdempotencyKey(),
		Applied:   !out.Duplicate(),
		Duplicate: out.Duplicate(),
	}
	if out.Envelope != nil {
		resp.Sequence = out.Envelope.Sequence
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (a *API) getBuyer(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	id, err := parseID(p["id"])
	if err != nil {
		return err
	}
	res, err := a.queries.Buyer(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (a *API) listLapses(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	id, err := parseID(p["id"])
	if err != nil {
		return err
	}
	res, err := a.queries.Lapses(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"lapses": res})
	return nil
}

func (a *API) getSeller(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	id, err := parseID(p["id"])
	if err != nil {
		return err
	}
	res, err := a.queries.Seller(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (a *API) getGuarantor(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	res, err := a.queries.Guarantor(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (a *API) listJournals(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	scope := p["scope"]
	switch scope {
	case "buyer", "seller", "guarantor", "category":
	default:
		return errors.Join(errBadRequest, errors.New("scope must be buyer, seller, guarantor or category"))
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Join(errBadRequest, err)
		}
		before = &seq
	}
	res, err := a.queries.JournalHistory(r.Context(), scope, p["id"], queryInt(r, "limit"), before)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": res})
	return nil
}

func (a *API) listEpochs(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	res, err := a.queries.RecentEpochs(r.Context(), queryInt(r, "limit"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"epochs": res})
	return nil
}

// getEpoch serves /v1/epochs/current from the live core and numbered
// epochs from the projection.
func (a *API) getEpoch(w http.ResponseWriter, r *http.Request, p map[string]string) error {
	if p["epoch"] == "current" {
		if a.live == nil {
			return errNotConfigured
		}
		res, err := a.live.CurrentEpoch(r.Context())
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, res)
		return nil
	}

	epoch, err := strconv.ParseInt(p["epoch"], 10, 64)
	if err != nil || epoch < 0 {
		return errors.Join(errBadRequest, errors.New("epoch must be a non-negative integer or \"current\""))
	}
	res, err := a.queries.Epoch(r.Context(), epoch)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (a *API) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	if a.admin.TakeSnapshot == nil {
		return errNotConfigured
	}
	seq, err := a.admin.TakeSnapshot(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int64{"sequence": seq})
	return nil
}

func (a *API) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	if a.admin.RebuildProjections == nil {
		return errNotConfigured
	}
	if err := a.admin.RebuildProjections(r.Context()); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
	return nil
}

func (a *API) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	res, err := a.queries.VerifyIntegrity(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Join(errBadRequest, err)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
