/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the production domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Products:   ProductDTO, CreateProductRequest, StockDTO
  Batches:    BatchDTO, LineItemDTO, SubmitBatchRequest, ItemRequest
  Review:     ConfirmRequest, RejectRequest, ResubmitRequest, ConfirmResponse
  Ledger:     LedgerEntryDTO
  Audit:      EventDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Batch payloads are validated by the production package. Product
  registration is validated here with struct tags.

SEE ALSO:
  - handlers.go: Uses these types
  - production/intake.go: Submission validation
*/
package api

import (
	"time"

	"github.com/warp/production-ledger/production"
)

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Spec  string `json:"spec,omitempty"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// CreateProductRequest registers or updates a catalog product.
type CreateProductRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Spec string `json:"spec"`
	Kind string `json:"kind" validate:"required,oneof=finished semi_finished"`
}

// StockDTO is a product's on-hand quantity from ledger replay.
type StockDTO struct {
	ProductID string `json:"product_id"`
	OnHand    string `json:"on_hand"`
	Entries   int    `json:"entries"`
	AsOf      string `json:"as_of,omitempty"`
}

// =============================================================================
// BATCHES
// =============================================================================

// LineItemDTO is a line item in API responses.
type LineItemDTO struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Category        string `json:"category"`
	TargetProductID string `json:"target_product_id,omitempty"`
}

// BatchDTO represents a production batch.
type BatchDTO struct {
	ID             string         `json:"id"`
	ProductionDate string         `json:"production_date"`
	Status         string         `json:"status"`
	SubmittedBy    string         `json:"submitted_by"`
	Remark         string         `json:"remark,omitempty"`
	Items          []LineItemDTO  `json:"items"`
	Counts         map[string]int `json:"counts"`
	ConfirmedBy    *string        `json:"confirmed_by,omitempty"`
	ConfirmedAt    *string        `json:"confirmed_at,omitempty"`
	RejectReason   *string        `json:"reject_reason,omitempty"`
	Revision       int            `json:"revision"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// ItemRequest is a line item in a submit or resubmit body. ID is only
// meaningful on resubmission.
type ItemRequest struct {
	ID              string `json:"id,omitempty"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Category        string `json:"category"`
	TargetProductID string `json:"target_product_id,omitempty"`
}

// SubmitBatchRequest creates a pending batch.
type SubmitBatchRequest struct {
	ProductionDate string        `json:"production_date"` // YYYY-MM-DD
	SubmittedBy    string        `json:"submitted_by"`
	Remark         string        `json:"remark,omitempty"`
	Items          []ItemRequest `json:"items"`
}

// ConfirmRequest is the body of POST /api/batches/{id}/confirm.
type ConfirmRequest struct {
	Actor string `json:"actor"`
}

// RejectRequest is the body of POST /api/batches/{id}/reject.
type RejectRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// ResubmitRequest is the body of PUT /api/batches/{id}.
type ResubmitRequest struct {
	Actor string        `json:"actor"`
	Items []ItemRequest `json:"items"`
}

// ConfirmResponse reports what a confirmation wrote.
type ConfirmResponse struct {
	Batch   BatchDTO         `json:"batch"`
	Entries []LedgerEntryDTO `json:"entries"`
	Pairs   int              `json:"pairs"`
}

// CountDTO is a batch count for one status.
type CountDTO struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// =============================================================================
// LEDGER & AUDIT
// =============================================================================

// LedgerEntryDTO represents an inventory ledger entry.
type LedgerEntryDTO struct {
	ID             string `json:"id,omitempty"`
	ProductID      string `json:"product_id"`
	Direction      string `json:"direction"`
	Quantity       string `json:"quantity"`
	EffectiveDate  string `json:"effective_date"`
	Remark         string `json:"remark"`
	Actor          string `json:"actor,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// EventDTO is one entry of a batch's audit trail.
type EventDTO struct {
	Type  string `json:"type"`
	Actor string `json:"actor"`
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Note  string `json:"note,omitempty"`
	At    string `json:"at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	Name string `json:"name"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProductDTO(p production.Product) ProductDTO {
	return ProductDTO{
		ID:    string(p.ID),
		Name:  p.Name,
		Spec:  p.Spec,
		Kind:  string(p.Kind),
		Label: p.Label(),
	}
}

func toBatchDTO(b *production.Batch) BatchDTO {
	dto := BatchDTO{
		ID:             string(b.ID),
		ProductionDate: b.ProductionDate.String(),
		Status:         string(b.Status),
		SubmittedBy:    string(b.SubmittedBy),
		Remark:         b.Remark,
		Items:          make([]LineItemDTO, len(b.Items)),
		Counts:         make(map[string]int),
		RejectReason:   b.RejectReason,
		Revision:       b.Revision,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      b.UpdatedAt.Format(time.RFC3339),
	}
	for i, it := range b.Items {
		dto.Items[i] = LineItemDTO{
			ID:              string(it.ID),
			ProductID:       string(it.ProductID),
			Quantity:        it.Quantity,
			Category:        string(it.Category),
			TargetProductID: string(it.TargetProductID),
		}
	}
	for c, n := range b.CountByCategory() {
		dto.Counts[string(c)] = n
	}
	if b.ConfirmedBy != nil {
		s := string(*b.ConfirmedBy)
		dto.ConfirmedBy = &s
	}
	if b.ConfirmedAt != nil {
		s := b.ConfirmedAt.Format(time.RFC3339)
		dto.ConfirmedAt = &s
	}
	return dto
}

func toLedgerEntryDTOs(entries []production.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LedgerEntryDTO{
			ID:             string(e.ID),
			ProductID:      string(e.ProductID),
			Direction:      string(e.Direction),
			Quantity:       e.Quantity.String(),
			EffectiveDate:  e.EffectiveDate.String(),
			Remark:         e.Remark,
			Actor:          string(e.Actor),
			IdempotencyKey: e.IdempotencyKey,
		}
		if !e.CreatedAt.IsZero() {
			dtos[i].CreatedAt = e.CreatedAt.Format(time.RFC3339)
		}
	}
	return dtos
}

func toItemInputs(items []ItemRequest) []production.ItemInput {
	inputs := make([]production.ItemInput, len(items))
	for i, it := range items {
		inputs[i] = production.ItemInput{
			ID:              production.LineItemID(it.ID),
			ProductID:       production.ProductID(it.ProductID),
			Quantity:        it.Quantity,
			Category:        production.Category(it.Category),
			TargetProductID: production.ProductID(it.TargetProductID),
		}
	}
	return inputs
}
