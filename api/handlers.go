/*
handlers.go - HTTP API handlers for production batch reconciliation

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the production
  package for validation, pairing, derivation and state transitions.

ENDPOINTS:
  Products:
    GET    /api/products                 List catalog products
    POST   /api/products                 Register or update a product
    GET    /api/products/{id}            Get product
    GET    /api/products/{id}/stock      Stock on hand (ledger replay)

  Batches:
    GET    /api/batches                  List batches (?status=&submitted_by=&limit=)
    POST   /api/batches                  Submit a batch
    GET    /api/batches/pending/count    Number of pending batches
    GET    /api/batches/{id}             Get batch
    PUT    /api/batches/{id}             Edit and resubmit a rejected batch
    POST   /api/batches/{id}/confirm     Confirm and write ledger entries
    POST   /api/batches/{id}/reject      Reject with a reason
    GET    /api/batches/{id}/preview     Entries a confirm would write
    GET    /api/batches/{id}/events      Audit trail

  Ledger:
    GET    /api/ledger                   Entries (?product_id=&from=&to=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Resubmission by someone other than the submitter
  - 404: Batch or product not found
  - 409: Batch already processed
  - 503: Ledger write failed or batch busy (retry)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/production-ledger/config"
	"github.com/warp/production-ledger/production"
)

var validate = validator.New()

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *production.Engine
	Store   production.TxStore
	Catalog production.CatalogStore
	Logger  logrus.FieldLogger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler around an engine and the stores it runs on.
func NewHandler(engine *production.Engine, store production.TxStore, catalog production.CatalogStore, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Engine:  engine,
		Store:   store,
		Catalog: catalog,
		Logger:  logger,
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, "ListProducts", "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct registers or updates a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product", err)
		return
	}

	p := production.Product{
		ID:   production.ProductID(req.ID),
		Name: req.Name,
		Spec: req.Spec,
		Kind: production.ProductKind(req.Kind),
	}
	if err := h.Catalog.SaveProduct(r.Context(), p); err != nil {
		h.fail(w, r, "CreateProduct", "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Lookup(r.Context(), production.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "GetProduct", "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// GetStock replays the ledger for one product.
// GET /api/products/{id}/stock?as_of=YYYY-MM-DD
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	filter := production.EntryFilter{ProductID: production.ProductID(chi.URLParam(r, "id"))}
	if s := r.URL.Query().Get("as_of"); s != "" {
		asOf, err := production.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		filter.To = asOf
	}

	entries, err := h.Store.Entries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "GetStock", "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, StockDTO{
		ProductID: string(filter.ProductID),
		OnHand:    production.StockOnHand(entries).String(),
		Entries:   len(entries),
		AsOf:      filter.To.String(),
	})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// ListBatches returns batches, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := production.BatchFilter{
		Status:      production.Status(q.Get("status")),
		SubmittedBy: production.ActorID(q.Get("submitted_by")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status", nil)
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}

	batches, err := h.Store.ListBatches(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "ListBatches", "Failed to list batches", err)
		return
	}
	dtos := make([]BatchDTO, len(batches))
	for i := range batches {
		dtos[i] = toBatchDTO(&batches[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubmitBatch creates a pending batch.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := production.ParseDate(req.ProductionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid production_date format (use YYYY-MM-DD)", err)
		return
	}

	b, err := h.Engine.Submit(r.Context(), production.SubmitInput{
		ProductionDate: date,
		SubmittedBy:    production.ActorID(req.SubmittedBy),
		Remark:         req.Remark,
		Items:          toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, "SubmitBatch", "Failed to submit batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(b))
}

// GetBatch returns a single batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.GetBatch(r.Context(), batchID(r))
	if err != nil {
		h.fail(w, r, "GetBatch", "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

// PendingCount returns the number of batches awaiting review.
func (h *Handler) PendingCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.PendingCount(r.Context())
	if err != nil {
		h.fail(w, r, "PendingCount", "Failed to count batches", err)
		return
	}
	writeJSON(w, http.StatusOK, CountDTO{Status: string(production.StatusPending), Count: n})
}

// ConfirmBatch confirms a pending batch and writes its ledger entries.
func (h *Handler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.Confirm(r.Context(), batchID(r), production.ActorID(req.Actor))
	if err != nil {
		h.fail(w, r, "ConfirmBatch", "Failed to confirm batch", err)
		return
	}
	writeJSON(w, http.StatusOK, ConfirmResponse{
		Batch:   toBatchDTO(result.Batch),
		Entries: toLedgerEntryDTOs(result.Entries),
		Pairs:   result.Pairs,
	})
}

// RejectBatch rejects a pending batch.
func (h *Handler) RejectBatch(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Engine.Reject(r.Context(), batchID(r), production.ActorID(req.Actor), req.Reason)
	if err != nil {
		h.fail(w, r, "RejectBatch", "Failed to reject batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

// ResubmitBatch edits a rejected batch and returns it to pending.
func (h *Handler) ResubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req ResubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Engine.Resubmit(r.Context(), batchID(r), production.ResubmitInput{
		Actor: production.ActorID(req.Actor),
		Items: toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, "ResubmitBatch", "Failed to resubmit batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

// PreviewBatch returns the entries a confirmation would write.
func (h *Handler) PreviewBatch(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Preview(r.Context(), batchID(r))
	if err != nil {
		h.fail(w, r, "PreviewBatch", "Failed to preview batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// ListBatchEvents returns a batch's audit trail.
func (h *Handler) ListBatchEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := batchID(r)
	if _, err := h.Store.GetBatch(ctx, id); err != nil {
		h.fail(w, r, "ListBatchEvents", "Failed to get batch", err)
		return
	}
	events, err := h.Store.Events(ctx, id)
	if err != nil {
		h.fail(w, r, "ListBatchEvents", "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = EventDTO{
			Type:  string(ev.Type),
			Actor: string(ev.Actor),
			From:  string(ev.From),
			To:    string(ev.To),
			Note:  ev.Note,
			At:    ev.At.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListLedger returns ledger entries ordered by effective date.
// GET /api/ledger?product_id=X&from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := production.EntryFilter{ProductID: production.ProductID(q.Get("product_id"))}
	for _, p := range []struct {
		param string
		dst   *production.Date
	}{{"from", &filter.From}, {"to", &filter.To}} {
		s := q.Get(p.param)
		if s == "" {
			continue
		}
		d, err := production.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+p.param+" format (use YYYY-MM-DD)", err)
			return
		}
		*p.dst = d
	}

	entries, err := h.Store.Entries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "ListLedger", "Failed to read ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func batchID(r *http.Request) production.BatchID {
	return production.BatchID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a domain error to its HTTP status and writes it. Server-side
// failures are logged; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, funcName, message string, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var ve *production.ValidationError
	if errors.As(err, &ve) && len(ve.Problems) > 0 {
		resp.Details = ve.Problems
	}

	if status >= http.StatusInternalServerError {
		config.LogError(h.Logger, "api", funcName, message,
			logrus.Fields{"request_id": middleware.GetReqID(r.Context()), "path": r.URL.Path}, err)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, production.ErrNotSubmitter):
		return http.StatusForbidden, "not_submitter"
	case production.IsClientError(err):
		return http.StatusBadRequest, "validation"
	case production.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case production.IsConflict(err):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, production.ErrBatchBusy):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, production.ErrLedgerWrite):
		return http.StatusServiceUnavailable, "ledger_write_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
