package fees

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/school-portal/portal/internal/shared"
)

// Receipt is the data of one batch as printed on a multi-line receipt.
type Receipt struct {
	BatchID              string          `json:"batch_id"`
	Student              StudentProfile  `json:"student"`
	PaymentDate          Date            `json:"payment_date"`
	PaymentMode          PaymentMode     `json:"payment_mode,omitempty"`
	TransactionReference *string         `json:"transaction_reference,omitempty"`
	Remarks              *string         `json:"remarks,omitempty"`
	Lines                []Payment       `json:"lines"`
	Total                decimal.Decimal `json:"total"`
}

// Receipt collects the lines of a batch.
func (s *Service) Receipt(ctx context.Context, batchID string) (Receipt, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Receipt{}, shared.NewValidationError("batch_id", "is required")
	}
	lines, err := s.repo.ListBatchPayments(ctx, batchID)
	if err != nil {
		return Receipt{}, err
	}
	if len(lines) == 0 {
		return Receipt{}, notFound("batch", batchID)
	}
	sortPaymentsAsc(lines)
	record, err := s.repo.GetStudent(ctx, lines[0].StudentID)
	if err != nil {
		return Receipt{}, err
	}
	first := lines[0]
	receipt := Receipt{
		BatchID:              batchID,
		Student:              record.Profile,
		PaymentDate:          first.PaymentDate,
		PaymentMode:          first.PaymentMode,
		TransactionReference: first.TransactionReference,
		Remarks:              first.Remarks,
		Lines:                lines,
		Total:                decimal.Zero,
	}
	for _, line := range lines {
		receipt.Total = receipt.Total.Add(line.AmountPaid)
	}
	return receipt, nil
}
