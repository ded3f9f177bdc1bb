package production_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/production-ledger/production"
)

func relabelItems(outs, ins []int) []production.LineItem {
	var items []production.LineItem
	for i, q := range outs {
		items = append(items, production.LineItem{
			ID:              production.LineItemID(fmt.Sprintf("out-%d", i)),
			ProductID:       "SemiX",
			Quantity:        q,
			Category:        production.CategoryRelabelOut,
			TargetProductID: "FinY",
		})
	}
	for i, q := range ins {
		items = append(items, production.LineItem{
			ID:        production.LineItemID(fmt.Sprintf("in-%d", i)),
			ProductID: "FinY",
			Quantity:  q,
			Category:  production.CategoryRelabelIn,
		})
	}
	return items
}

func TestResolvePairing_SubmissionOrderTieBreak(t *testing.T) {
	// GIVEN: outs [10, 20, 10] and ins [10, 10]
	// THEN: out-0↔in-0, out-1 unpaired, out-2↔in-1

	p := production.ResolvePairing(relabelItems([]int{10, 20, 10}, []int{10, 10}))

	partner, ok := p.PartnerOf("out-0")
	assert.True(t, ok)
	assert.Equal(t, production.LineItemID("in-0"), partner.ID)

	_, ok = p.PartnerOf("out-1")
	assert.False(t, ok, "no in with quantity 20")

	partner, ok = p.PartnerOf("out-2")
	assert.True(t, ok)
	assert.Equal(t, production.LineItemID("in-1"), partner.ID)

	partner, ok = p.PartnerOf("in-1")
	assert.True(t, ok, "pairing is symmetric")
	assert.Equal(t, production.LineItemID("out-2"), partner.ID)

	assert.Equal(t, 2, p.Len())
}

func TestResolvePairing(t *testing.T) {
	tests := []struct {
		name  string
		outs  []int
		ins   []int
		pairs map[string]string // out id -> in id
	}{
		{
			name:  "single exact match",
			outs:  []int{10},
			ins:   []int{10},
			pairs: map[string]string{"out-0": "in-0"},
		},
		{
			name:  "no equal quantity",
			outs:  []int{9},
			ins:   []int{10},
			pairs: map[string]string{},
		},
		{
			name:  "ins are consumed once",
			outs:  []int{5, 5},
			ins:   []int{5},
			pairs: map[string]string{"out-0": "in-0"},
		},
		{
			name:  "later in matches when earlier differs",
			outs:  []int{7},
			ins:   []int{3, 7, 7},
			pairs: map[string]string{"out-0": "in-1"},
		},
		{
			name:  "crossed order",
			outs:  []int{3, 7},
			ins:   []int{7, 3},
			pairs: map[string]string{"out-0": "in-1", "out-1": "in-0"},
		},
		{
			name:  "nothing to pair",
			outs:  nil,
			ins:   []int{4},
			pairs: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := production.ResolvePairing(relabelItems(tt.outs, tt.ins))
			assert.Equal(t, len(tt.pairs), p.Len())
			for i := range tt.outs {
				id := production.LineItemID(fmt.Sprintf("out-%d", i))
				partner, ok := p.PartnerOf(id)
				want, paired := tt.pairs[string(id)]
				assert.Equal(t, paired, ok, id)
				if paired {
					assert.Equal(t, production.LineItemID(want), partner.ID)
				}
			}
		})
	}
}

func TestResolvePairing_QuantityOnly_NoProductCheck(t *testing.T) {
	// Two unrelated relabels moving the same quantity are paired purely by
	// submission order, even when the products do not correspond.
	items := []production.LineItem{
		{ID: "o1", ProductID: "SemiX", Quantity: 10, Category: production.CategoryRelabelOut, TargetProductID: "FinY"},
		{ID: "o2", ProductID: "SemiZ", Quantity: 10, Category: production.CategoryRelabelOut, TargetProductID: "FinW"},
		{ID: "i1", ProductID: "FinW", Quantity: 10, Category: production.CategoryRelabelIn},
		{ID: "i2", ProductID: "FinY", Quantity: 10, Category: production.CategoryRelabelIn},
	}

	p := production.ResolvePairing(items)

	partner, _ := p.PartnerOf("o1")
	assert.Equal(t, production.ProductID("FinW"), partner.ProductID)
	partner, _ = p.PartnerOf("o2")
	assert.Equal(t, production.ProductID("FinY"), partner.ProductID)
}

func TestResolvePairing_IgnoresNonRelabelItems(t *testing.T) {
	items := []production.LineItem{
		{ID: "f", ProductID: "A", Quantity: 10, Category: production.CategoryFinished},
		{ID: "s", ProductID: "SemiX", Quantity: 10, Category: production.CategorySemiFinished},
		{ID: "o", ProductID: "SemiX", Quantity: 10, Category: production.CategoryRelabelOut, TargetProductID: "FinY"},
	}
	p := production.ResolvePairing(items)
	assert.Equal(t, 0, p.Len())
	_, ok := p.PartnerOf("f")
	assert.False(t, ok)
}
