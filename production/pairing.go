/*
pairing.go - Relabel pairing for audit remarks

PURPOSE:
  A relabel consumes semi-finished stock (relabel_out) and records it as a
  finished product (relabel_in). The batch carries both halves as separate
  line items with no explicit link. Pairing re-associates them so each
  ledger entry's remark can name the other side.

ALGORITHM:
  1. Partition items into outs and ins, keeping submission order
  2. Each out takes the first unconsumed in with exactly the same quantity
  3. Outs and ins left over stay unpaired and get a generic remark

LIMITATION:
  Matching is by quantity only. There is no product-identity check, so two
  unrelated relabels moving the same quantity can have their remarks
  cross-attributed. Historical remarks were generated this way; keep it.

Pairing only shapes remark text. It never decides which entries exist or
their quantities.
*/
package production

// Pairing maps each paired relabel item to its counterpart.
type Pairing struct {
	partners map[LineItemID]LineItem
}

// ResolvePairing matches relabel_out items to relabel_in items.
func ResolvePairing(items []LineItem) Pairing {
	var outs, ins []LineItem
	for _, it := range items {
		switch it.Category {
		case CategoryRelabelOut:
			outs = append(outs, it)
		case CategoryRelabelIn:
			ins = append(ins, it)
		case CategoryFinished, CategorySemiFinished:
		}
	}

	p := Pairing{partners: make(map[LineItemID]LineItem)}
	consumed := make([]bool, len(ins))
	for _, out := range outs {
		for i, in := range ins {
			if consumed[i] || in.Quantity != out.Quantity {
				continue
			}
			consumed[i] = true
			p.partners[out.ID] = in
			p.partners[in.ID] = out
			break
		}
	}
	return p
}

// PartnerOf returns the counterpart of a relabel item, if it was paired.
func (p Pairing) PartnerOf(id LineItemID) (LineItem, bool) {
	it, ok := p.partners[id]
	return it, ok
}

// Len returns the number of pairs.
func (p Pairing) Len() int { return len(p.partners) / 2 }
