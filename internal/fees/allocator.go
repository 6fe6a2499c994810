package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/school-portal/portal/internal/shared"
)

const idempotencyModule = "fees.collect"

// CollectItem asks to collect against one fee structure. A missing, zero or
// negative RequestedAmount settles the full remaining balance.
type CollectItem struct {
	FeeStructureID  int64            `json:"fee_structure_id" validate:"required,gt=0"`
	RequestedAmount *decimal.Decimal `json:"requested_amount,omitempty"`
}

// CollectRequest is one operator collection action.
type CollectRequest struct {
	StudentID            int64         `json:"student_id" validate:"required,gt=0"`
	Items                []CollectItem `json:"items" validate:"required,min=1,max=50,dive"`
	PaymentMode          string        `json:"payment_mode" validate:"required"`
	TransactionReference string        `json:"transaction_reference,omitempty" validate:"max=100"`
	Remarks              string        `json:"remarks,omitempty" validate:"max=500"`

	IdempotencyKey string `json:"-"`
	CollectedBy    int64  `json:"-"`
}

// CollectResult is the batch recorded by a collection.
type CollectResult struct {
	BatchID        string          `json:"batch_id"`
	PaymentDate    Date            `json:"payment_date"`
	PaymentMode    PaymentMode     `json:"payment_mode"`
	Payments       []Payment       `json:"payments"`
	Skipped        []SkippedItem   `json:"skipped"`
	TotalCollected decimal.Decimal `json:"total_collected"`
}

// Collect records capped payments for the submitted items as one batch. Items
// naming unknown, inapplicable or settled rules are skipped; if nothing is
// recorded the call fails with *AllocationExhaustedError. The sum of payments
// per student and rule never exceeds the rule amount.
func (s *Service) Collect(ctx context.Context, req CollectRequest) (CollectResult, error) {
	mode, err := s.validateCollect(&req)
	if err != nil {
		return CollectResult{}, err
	}

	batchID := s.batchID()
	paymentDate := s.Today()
	reference := optionalString(req.TransactionReference)
	remarks := optionalString(req.Remarks)
	var collectedBy *int64
	if req.CollectedBy > 0 {
		collectedBy = &req.CollectedBy
	}

	var result CollectResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = CollectResult{
			BatchID:        batchID,
			PaymentDate:    paymentDate,
			PaymentMode:    mode,
			Payments:       []Payment{},
			Skipped:        []SkippedItem{},
			TotalCollected: decimal.Zero,
		}
		if req.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}

		student, err := tx.GetStudent(ctx, req.StudentID)
		if err != nil {
			return err
		}
		sc := student.Context()
		owed := map[int64]Obligation{}
		if sc.Enrolled() {
			rules, err := tx.ListRules(ctx, sc.ClassID, sc.AcademicYearID)
			if err != nil {
				return err
			}
			owed = indexObligations(Resolve(sc, rules))
		}

		for _, item := range req.Items {
			ob, ok := owed[item.FeeStructureID]
			if !ok {
				reason, err := s.unownedReason(ctx, tx, item.FeeStructureID)
				if err != nil {
					return err
				}
				result.Skipped = append(result.Skipped, SkippedItem{FeeStructureID: item.FeeStructureID, Reason: reason})
				continue
			}

			paid, err := tx.SumPaid(ctx, req.StudentID, item.FeeStructureID)
			if err != nil {
				return err
			}
			remaining := ob.Amount.Sub(paid)
			if !remaining.IsPositive() {
				result.Skipped = append(result.Skipped, SkippedItem{FeeStructureID: item.FeeStructureID, Reason: SkipAlreadyPaid})
				continue
			}

			amount := remaining
			if item.RequestedAmount != nil && item.RequestedAmount.IsPositive() {
				amount = decimal.Min(*item.RequestedAmount, remaining)
			}

			payment, err := tx.InsertPayment(ctx, NewPayment{
				StudentID:            req.StudentID,
				FeeStructureID:       item.FeeStructureID,
				AmountPaid:           amount,
				PaymentDate:          paymentDate,
				PaymentMode:          mode,
				BatchID:              batchID,
				TransactionReference: reference,
				Remarks:              remarks,
				CreatedBy:            collectedBy,
			})
			if err != nil {
				return err
			}
			payment.HeadName = ob.HeadName
			payment.DueDate = ob.DueDate
			result.Payments = append(result.Payments, payment)
			result.TotalCollected = result.TotalCollected.Add(amount)
		}

		if len(result.Payments) == 0 {
			return newAllocationExhausted(result.Skipped)
		}
		return nil
	})
	if err != nil {
		s.observeFailure(mode, err)
		return CollectResult{}, err
	}

	s.logger.Info("fees collected",
		slog.Int64("student_id", req.StudentID),
		slog.String("batch_id", batchID),
		slog.String("payment_mode", string(mode)),
		slog.String("amount", result.TotalCollected.StringFixed(2)),
		slog.Int("recorded", len(result.Payments)),
		slog.Int("skipped", len(result.Skipped)))
	if s.observer != nil {
		s.observer.ObserveCollect("recorded", string(mode), result.TotalCollected.InexactFloat64(), len(result.Payments), len(result.Skipped))
	}
	return result, nil
}

// unownedReason tells a rule that does not exist from one outside the
// student's resolved obligations.
func (s *Service) unownedReason(ctx context.Context, tx TxRepository, structureID int64) (SkipReason, error) {
	_, err := tx.GetStructure(ctx, structureID)
	switch {
	case err == nil:
		return SkipNotApplicable, nil
	case errors.Is(err, shared.ErrNotFound):
		return SkipNotFound, nil
	default:
		return "", err
	}
}

func (s *Service) validateCollect(req *CollectRequest) (PaymentMode, error) {
	req.TransactionReference = strings.TrimSpace(req.TransactionReference)
	req.Remarks = strings.TrimSpace(req.Remarks)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	verr := &shared.ValidationError{}
	validateStruct(s.validator, req, verr)
	mode, ok := ParsePaymentMode(req.PaymentMode)
	if !ok && req.PaymentMode != "" {
		verr.Add("payment_mode", "must be one of CASH, UPI, CHEQUE, ONLINE")
	}
	for i, item := range req.Items {
		if item.RequestedAmount == nil || !item.RequestedAmount.IsPositive() {
			continue
		}
		checkAmount(verr, fmt.Sprintf("items[%d].requested_amount", i), *item.RequestedAmount)
	}
	if len(req.IdempotencyKey) > shared.MaxRequestKeyLength {
		verr.Add("idempotency_key", fmt.Sprintf("must be at most %d characters", shared.MaxRequestKeyLength))
	}
	return mode, verr.OrNil()
}

func (s *Service) observeFailure(mode PaymentMode, err error) {
	var exhausted *AllocationExhaustedError
	outcome := "error"
	switch {
	case errors.As(err, &exhausted):
		outcome = exhausted.Reason
	case errors.Is(err, shared.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, shared.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, shared.ErrStoreUnavailable):
		outcome = "store_unavailable"
		s.logger.Error("collect failed", slog.String("payment_mode", string(mode)), slog.Any("error", err))
	default:
		s.logger.Error("collect failed", slog.String("payment_mode", string(mode)), slog.Any("error", err))
	}
	if s.observer != nil {
		s.observer.ObserveCollect(outcome, string(mode), 0, 0, 0)
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
