package fees

import (
	"context"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// LedgerLine is one obligation with its settlement state.
type LedgerLine struct {
	Obligation
	MonthLabel string           `json:"month_label,omitempty"`
	TotalPaid  decimal.Decimal  `json:"total_paid"`
	Balance    decimal.Decimal  `json:"balance"`
	Status     ObligationStatus `json:"status"`
}

// Totals sums a set of ledger lines.
type Totals struct {
	Demand  decimal.Decimal `json:"demand"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

// StudentLedger is the staff view of a student's fees.
type StudentLedger struct {
	Student     StudentProfile `json:"student"`
	Context     StudentContext `json:"context"`
	Obligations []LedgerLine   `json:"obligations"`
	History     []Payment      `json:"history"`
	Totals      Totals         `json:"totals"`
}

// BatchGroup is one collection action as seen by a guardian.
type BatchGroup struct {
	BatchID              string          `json:"batch_id"`
	PaymentDate          Date            `json:"payment_date"`
	PaymentMode          PaymentMode     `json:"payment_mode,omitempty"`
	TransactionReference *string         `json:"transaction_reference,omitempty"`
	Total                decimal.Decimal `json:"total"`
	Items                []Payment       `json:"items"`
}

// GuardianLedger is the guardian view: dues that have fallen due and
// payment history grouped by batch.
type GuardianLedger struct {
	Student     StudentProfile `json:"student"`
	AsOf        Date           `json:"as_of"`
	Obligations []LedgerLine   `json:"obligations"`
	History     []BatchGroup   `json:"history"`
	Totals      Totals         `json:"totals"`
}

// Ledger builds the staff ledger of a student.
func (s *Service) Ledger(ctx context.Context, studentID int64) (StudentLedger, error) {
	record, obligations, payments, err := s.loadLedger(ctx, studentID)
	if err != nil {
		return StudentLedger{}, err
	}
	lines := ledgerLines(obligations, payments)
	sortPaymentsAsc(payments)
	return StudentLedger{
		Student:     record.Profile,
		Context:     record.Context(),
		Obligations: lines,
		History:     payments,
		Totals:      sumLines(lines),
	}, nil
}

// GuardianLedger builds the guardian view of a student's fees. Obligations
// without a due date, or due after today, are hidden and excluded from totals.
func (s *Service) GuardianLedger(ctx context.Context, studentID int64) (GuardianLedger, error) {
	record, obligations, payments, err := s.loadLedger(ctx, studentID)
	if err != nil {
		return GuardianLedger{}, err
	}
	today := s.Today()
	visible := make([]Obligation, 0, len(obligations))
	for _, ob := range obligations {
		if ob.DueDate != nil && ob.DueDate.OnOrBefore(today) {
			visible = append(visible, ob)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if c := compareDue(visible[i].DueDate, visible[j].DueDate); c != 0 {
			return c < 0
		}
		return visible[i].HeadName < visible[j].HeadName
	})
	lines := ledgerLines(visible, payments)
	return GuardianLedger{
		Student:     record.Profile,
		AsOf:        today,
		Obligations: lines,
		History:     groupByBatch(payments),
		Totals:      sumLines(lines),
	}, nil
}

func (s *Service) loadLedger(ctx context.Context, studentID int64) (StudentRecord, []Obligation, []Payment, error) {
	record, err := s.StudentContext(ctx, studentID)
	if err != nil {
		return StudentRecord{}, nil, nil, err
	}
	var (
		obligations []Obligation
		payments    []Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		obligations, err = s.resolveFor(gctx, record.Context())
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.repo.ListStudentPayments(gctx, studentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return StudentRecord{}, nil, nil, err
	}
	if payments == nil {
		payments = []Payment{}
	}
	return record, obligations, payments, nil
}

func ledgerLines(obligations []Obligation, payments []Payment) []LedgerLine {
	paid := make(map[int64]decimal.Decimal)
	for _, p := range payments {
		paid[p.FeeStructureID] = paid[p.FeeStructureID].Add(p.AmountPaid)
	}
	lines := make([]LedgerLine, 0, len(obligations))
	for _, ob := range obligations {
		total := paid[ob.FeeStructureID]
		line := LedgerLine{
			Obligation: ob,
			TotalPaid:  total,
			Balance:    decimal.Max(decimal.Zero, ob.Amount.Sub(total)),
			Status:     statusOf(ob.Amount, total),
		}
		if ob.DueDate != nil {
			line.MonthLabel = ob.DueDate.Format("January 2006")
		}
		lines = append(lines, line)
	}
	return lines
}

func statusOf(amount, paid decimal.Decimal) ObligationStatus {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

func sumLines(lines []LedgerLine) Totals {
	totals := Totals{Demand: decimal.Zero, Paid: decimal.Zero, Balance: decimal.Zero}
	for _, line := range lines {
		totals.Demand = totals.Demand.Add(line.Amount)
		totals.Paid = totals.Paid.Add(line.TotalPaid)
		totals.Balance = totals.Balance.Add(line.Balance)
	}
	return totals
}

func sortPaymentsAsc(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		a, b := payments[i], payments[j]
		if !a.PaymentDate.Equal(b.PaymentDate.Time) {
			return a.PaymentDate.Before(b.PaymentDate.Time)
		}
		return a.ID < b.ID
	})
}

// batchKey groups payments lacking a batch id on their own.
func batchKey(p Payment) string {
	if p.BatchID != "" {
		return p.BatchID
	}
	return "single_" + strconv.FormatInt(p.ID, 10)
}

// groupByBatch folds payments into batches, most recent batch first.
func groupByBatch(payments []Payment) []BatchGroup {
	sorted := append([]Payment(nil), payments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.PaymentDate.Equal(b.PaymentDate.Time) {
			return a.PaymentDate.After(b.PaymentDate.Time)
		}
		return a.ID > b.ID
	})
	groups := make([]BatchGroup, 0)
	index := make(map[string]int)
	for _, p := range sorted {
		key := batchKey(p)
		i, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, BatchGroup{
				BatchID:              key,
				PaymentDate:          p.PaymentDate,
				PaymentMode:          p.PaymentMode,
				TransactionReference: p.TransactionReference,
				Total:                decimal.Zero,
			})
			i = len(groups) - 1
		}
		groups[i].Items = append(groups[i].Items, p)
		groups[i].Total = groups[i].Total.Add(p.AmountPaid)
	}
	for i := range groups {
		sortPaymentsAsc(groups[i].Items)
	}
	return groups
}
