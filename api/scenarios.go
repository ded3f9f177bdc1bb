/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with a product
  catalog and batches in various review states, driven through the same
  engine the API uses.

AVAILABLE SCENARIOS:
  simple:     Finished and semi-finished output, one batch confirmed
  relabel:    Relabel pairs, including an unpaired relabel_out, left pending
  rejection:  A rejected batch waiting to be edited and resubmitted

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register catalog products
 3. Submit batches through the engine
 4. Optionally confirm or reject them

USAGE VIA API:
  POST /api/scenarios/load
  {"name": "relabel"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Batch handlers
  - production/engine.go: Submit, Confirm, Reject
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/production-ledger/production"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "simple",
		Name:        "Simple Batch",
		Description: "Finished and semi-finished output; one batch confirmed, one pending",
	},
	{
		ID:          "relabel",
		Name:        "Relabel Pairs",
		Description: "Semi-finished relabeled to finished, with an unpaired relabel_out",
	},
	{
		ID:          "rejection",
		Name:        "Rejection",
		Description: "A rejected batch ready to be edited and resubmitted by its submitter",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"simple":    loadSimpleScenario,
	"relabel":   loadRelabelScenario,
	"rejection": loadRejectionScenario,
}

// resetter is implemented by stores that can be wiped for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// Demo actors.
const (
	workshopActor  production.ActorID = "workshop-1"
	inspectorActor production.ActorID = "inspector-1"
)

var demoProducts = []production.Product{
	{ID: "FLOUR-1KG", Name: "Flour", Spec: "1kg bag", Kind: production.KindFinished},
	{ID: "FLOUR-5KG", Name: "Flour", Spec: "5kg bag", Kind: production.KindFinished},
	{ID: "DOUGH-BULK", Name: "Dough", Spec: "bulk", Kind: production.KindSemiFinished},
	{ID: "BREAD-LOAF", Name: "Bread", Spec: "800g loaf", Kind: production.KindFinished},
	{ID: "ROLLS-6", Name: "Rolls", Spec: "6 pack", Kind: production.KindFinished},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.Name]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.Name), nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, r, "LoadScenario", "Failed to reset store", err)
		return
	}
	if err := load(ctx, h); err != nil {
		h.fail(w, r, "LoadScenario", "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.Name
	h.mu.Unlock()

	h.Logger.WithField("scenario", req.Name).Info("demo scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario": req.Name})
}

// ResetDatabase clears all data. Dev only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, "ResetDatabase", "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Store)
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func seedProducts(ctx context.Context, h *Handler) error {
	for _, p := range demoProducts {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

func submitDemo(ctx context.Context, h *Handler, daysAgo int, remark string, items ...production.ItemInput) (*production.Batch, error) {
	return h.Engine.Submit(ctx, production.SubmitInput{
		ProductionDate: production.Today().AddDays(-daysAgo),
		SubmittedBy:    workshopActor,
		Remark:         remark,
		Items:          items,
	})
}

func demoItem(product production.ProductID, qty int, cat production.Category) production.ItemInput {
	return production.ItemInput{ProductID: product, Quantity: qty, Category: cat}
}

func demoRelabelOut(product production.ProductID, qty int, target production.ProductID) production.ItemInput {
	return production.ItemInput{
		ProductID:       product,
		Quantity:        qty,
		Category:        production.CategoryRelabelOut,
		TargetProductID: target,
	}
}

func loadSimpleScenario(ctx context.Context, h *Handler) error {
	if err := seedProducts(ctx, h); err != nil {
		return err
	}

	// Yesterday's output, confirmed
	b, err := submitDemo(ctx, h, 1, "day shift",
		demoItem("FLOUR-1KG", 120, production.CategoryFinished),
		demoItem("FLOUR-5KG", 40, production.CategoryFinished),
		demoItem("DOUGH-BULK", 300, production.CategorySemiFinished),
	)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Confirm(ctx, b.ID, inspectorActor); err != nil {
		return err
	}

	// Today's output, awaiting review
	_, err = submitDemo(ctx, h, 0, "day shift",
		demoItem("FLOUR-1KG", 80, production.CategoryFinished),
		demoItem("DOUGH-BULK", 150, production.CategorySemiFinished),
	)
	return err
}

func loadRelabelScenario(ctx context.Context, h *Handler) error {
	if err := seedProducts(ctx, h); err != nil {
		return err
	}

	// Stock some dough so the relabel has something to draw from
	b, err := submitDemo(ctx, h, 2, "dough run",
		demoItem("DOUGH-BULK", 500, production.CategorySemiFinished),
	)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Confirm(ctx, b.ID, inspectorActor); err != nil {
		return err
	}

	// Outs [10, 20, 10] against ins [10, 10]: the 20 stays unpaired
	_, err = submitDemo(ctx, h, 1, "baking",
		demoRelabelOut("DOUGH-BULK", 10, "BREAD-LOAF"),
		demoRelabelOut("DOUGH-BULK", 20, "ROLLS-6"),
		demoRelabelOut("DOUGH-BULK", 10, "BREAD-LOAF"),
		demoItem("BREAD-LOAF", 10, production.CategoryRelabelIn),
		demoItem("BREAD-LOAF", 10, production.CategoryRelabelIn),
		demoItem("FLOUR-1KG", 25, production.CategoryFinished),
	)
	return err
}

func loadRejectionScenario(ctx context.Context, h *Handler) error {
	if err := seedProducts(ctx, h); err != nil {
		return err
	}

	b, err := submitDemo(ctx, h, 1, "night shift",
		demoItem("FLOUR-1KG", 200, production.CategoryFinished),
		demoRelabelOut("DOUGH-BULK", 30, "ROLLS-6"),
		demoItem("ROLLS-6", 30, production.CategoryRelabelIn),
	)
	if err != nil {
		return err
	}
	_, err = h.Engine.Reject(ctx, b.ID, inspectorActor, "flour count does not match the pallet labels")
	return err
}
