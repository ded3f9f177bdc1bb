package production

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// SUBMISSION INTAKE
// =============================================================================
//
// Intake is deliberately thin. It guarantees two things the rest of the core
// relies on: every stored item has quantity > 0, and every relabel_out names
// a target product. Items with a non-positive quantity are dropped as long
// as at least one positive item remains.

var validate = validator.New()

// ItemInput is one submitted line. ID is only meaningful on resubmission,
// where it marks an edit of an existing item.
type ItemInput struct {
	ID              LineItemID
	ProductID       ProductID `validate:"required"`
	Quantity        int
	Category        Category  `validate:"required,oneof=finished semi_finished relabel_in relabel_out"`
	TargetProductID ProductID `validate:"required_if=Category relabel_out"`
}

// SubmitInput is what a submitter sends to create a batch.
type SubmitInput struct {
	ProductionDate Date
	SubmittedBy    ActorID     `validate:"required"`
	Remark         string      `validate:"max=500"`
	Items          []ItemInput `validate:"required,min=1,dive"`
}

// ResubmitInput edits a rejected batch's items.
type ResubmitInput struct {
	Actor ActorID     `validate:"required"`
	Items []ItemInput `validate:"required,min=1,dive"`
}

// ValidateSubmission checks a new submission and returns its normalized
// items (without ids).
func ValidateSubmission(in SubmitInput) ([]LineItem, error) {
	if err := validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	if in.ProductionDate.IsZero() {
		return nil, &ValidationError{
			Message:  "production date is required",
			Problems: []FieldProblem{{Field: "ProductionDate", Rule: "required"}},
		}
	}
	return normalizeItems(in.Items)
}

// ValidateResubmission checks edited items against the batch being resubmitted.
// Items carrying an id must refer to an existing item of that batch.
func ValidateResubmission(b *Batch, in ResubmitInput) ([]LineItem, error) {
	if err := validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	var problems []FieldProblem
	seen := make(map[LineItemID]bool)
	for _, it := range in.Items {
		if it.ID == "" {
			continue
		}
		if _, ok := b.Item(it.ID); !ok {
			problems = append(problems, FieldProblem{Field: "Items." + string(it.ID), Rule: "unknown line item"})
		}
		if seen[it.ID] {
			problems = append(problems, FieldProblem{Field: "Items." + string(it.ID), Rule: "duplicate line item"})
		}
		seen[it.ID] = true
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Message: "line items do not belong to this batch", Problems: problems}
	}
	return normalizeItems(in.Items)
}

func normalizeItems(inputs []ItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity <= 0 {
			continue
		}
		it := LineItem{
			ID:        in.ID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Category:  in.Category,
		}
		if in.Category == CategoryRelabelOut {
			it.TargetProductID = in.TargetProductID
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, &ValidationError{Message: "at least one line item must have a positive quantity"}
	}
	return items, nil
}

func toValidationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &ValidationError{Message: err.Error()}
	}
	problems := make([]FieldProblem, 0, len(ves))
	for _, fe := range ves {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		problems = append(problems, FieldProblem{Field: field, Rule: rule})
	}
	return &ValidationError{Message: "invalid submission", Problems: problems}
}
