package production

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRY DERIVATION
// =============================================================================
//
//	finished / semi_finished  →  1 inbound entry   "production inbound"
//	relabel_out               →  1 outbound entry  names the paired finished product
//	relabel_in                →  1 inbound entry   names the paired semi-finished product
//
// Every line item yields exactly one entry, paired or not. All entries are
// dated to the batch's production date, not to the confirmation time.

const (
	RemarkProductionInbound = "production inbound"
	RemarkRelabeledTo       = "relabeled to finished product"
	RemarkProducedFrom      = "produced from semi-finished product"
)

// Labeler renders a product for a remark. It must not fail.
type Labeler func(ProductID) string

// DeriveEntries turns a batch and its pairing into ledger entry drafts.
// IDs and CreatedAt are left for the caller to assign.
func DeriveEntries(b *Batch, p Pairing, label Labeler, actor ActorID) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(b.Items))
	for _, it := range b.Items {
		var (
			dir  Direction
			text string
		)
		switch it.Category {
		case CategoryFinished, CategorySemiFinished:
			dir, text = DirectionIn, RemarkProductionInbound
		case CategoryRelabelOut:
			dir, text = DirectionOut, RemarkRelabeledTo
			if partner, ok := p.PartnerOf(it.ID); ok {
				text = fmt.Sprintf("%s %s", RemarkRelabeledTo, label(partner.ProductID))
			}
		case CategoryRelabelIn:
			dir, text = DirectionIn, RemarkProducedFrom
			if partner, ok := p.PartnerOf(it.ID); ok {
				text = fmt.Sprintf("%s %s", RemarkProducedFrom, label(partner.ProductID))
			}
		default:
			// Intake rejects unknown categories; reaching here is a programming error.
			panic(fmt.Sprintf("production: unhandled category %q", it.Category))
		}

		entries = append(entries, LedgerEntry{
			ProductID:      it.ProductID,
			Direction:      dir,
			Quantity:       decimal.NewFromInt(int64(it.Quantity)),
			EffectiveDate:  b.ProductionDate,
			Remark:         fmt.Sprintf("%s [batch %s]", text, b.ID),
			Actor:          actor,
			IdempotencyKey: IdempotencyKey(b.ID, it.ID, dir),
		})
	}
	return entries
}

// IdempotencyKey identifies the single movement a line item may produce.
func IdempotencyKey(batchID BatchID, itemID LineItemID, dir Direction) string {
	return fmt.Sprintf("%s:%s:%s", batchID, itemID, dir)
}

// PlaceholderLabel is used when the catalog cannot resolve a product.
func PlaceholderLabel(id ProductID) string {
	return fmt.Sprintf("product #%s", id)
}

// CatalogLabeler resolves every product referenced by a pairing up front,
// falling back to PlaceholderLabel on lookup failure. The returned map
// lists the products that fell back, with the lookup error.
func CatalogLabeler(ctx context.Context, catalog ProductCatalog, items []LineItem, p Pairing) (Labeler, map[ProductID]error) {
	labels := make(map[ProductID]string)
	misses := make(map[ProductID]error)
	for _, it := range items {
		partner, ok := p.PartnerOf(it.ID)
		if !ok {
			continue
		}
		if _, done := labels[partner.ProductID]; done {
			continue
		}
		if catalog == nil {
			labels[partner.ProductID] = PlaceholderLabel(partner.ProductID)
			continue
		}
		prod, err := catalog.Lookup(ctx, partner.ProductID)
		if err != nil {
			labels[partner.ProductID] = PlaceholderLabel(partner.ProductID)
			misses[partner.ProductID] = err
			continue
		}
		labels[partner.ProductID] = prod.Label()
	}
	return func(id ProductID) string {
		if l, ok := labels[id]; ok {
			return l
		}
		return PlaceholderLabel(id)
	}, misses
}
