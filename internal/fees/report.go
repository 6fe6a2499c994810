package fees

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/school-portal/portal/internal/shared"
)

// MaxSummaryDays bounds the range of a collection summary.
const MaxSummaryDays = 366

// ReportTransaction is a ledger entry with the student context a cashier needs.
type ReportTransaction struct {
	Payment
	StudentName string `json:"student_name"`
	AdmissionNo string `json:"admission_no"`
	ClassName   string `json:"class_name,omitempty"`
	SectionName string `json:"section_name,omitempty"`
}

// DailyReport is the cash reconciliation of one calendar date.
type DailyReport struct {
	Date            Date                            `json:"date"`
	TotalCollection decimal.Decimal                 `json:"total_collection"`
	ByMode          map[PaymentMode]decimal.Decimal `json:"by_mode"`
	Transactions    []ReportTransaction             `json:"transactions"`
}

// Reconciles reports whether the per-mode buckets, the total and the
// transactions agree.
func (r DailyReport) Reconciles() bool {
	byMode := decimal.Zero
	for _, v := range r.ByMode {
		byMode = byMode.Add(v)
	}
	txs := decimal.Zero
	for _, t := range r.Transactions {
		txs = txs.Add(t.AmountPaid)
	}
	return byMode.Equal(r.TotalCollection) && txs.Equal(r.TotalCollection)
}

// DailyReport aggregates the payments dated on date.
func (s *Service) DailyReport(ctx context.Context, date Date) (DailyReport, error) {
	txs, err := s.repo.ListPaymentsOn(ctx, date)
	if err != nil {
		return DailyReport{}, err
	}
	return buildDailyReport(date, txs), nil
}

func buildDailyReport(date Date, txs []ReportTransaction) DailyReport {
	report := DailyReport{
		Date:            date,
		TotalCollection: decimal.Zero,
		ByMode:          map[PaymentMode]decimal.Decimal{},
		Transactions:    make([]ReportTransaction, 0, len(txs)),
	}
	for _, tx := range txs {
		if !tx.PaymentDate.Equal(date.Time) {
			continue
		}
		key := tx.PaymentMode.ReportKey()
		report.ByMode[key] = report.ByMode[key].Add(tx.AmountPaid)
		report.TotalCollection = report.TotalCollection.Add(tx.AmountPaid)
		report.Transactions = append(report.Transactions, tx)
	}
	sort.SliceStable(report.Transactions, func(i, j int) bool {
		return report.Transactions[i].ID < report.Transactions[j].ID
	})
	return report
}

// DayModeTotal is the collection of one date and mode.
type DayModeTotal struct {
	Date  Date            `json:"date"`
	Mode  PaymentMode     `json:"payment_mode"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// DaySummary is the collection of one date.
type DaySummary struct {
	Date   Date                            `json:"date"`
	Total  decimal.Decimal                 `json:"total"`
	Count  int                             `json:"count"`
	ByMode map[PaymentMode]decimal.Decimal `json:"by_mode"`
}

// CollectionSummary is the collection over an inclusive date range.
type CollectionSummary struct {
	From   Date                            `json:"from"`
	To     Date                            `json:"to"`
	Total  decimal.Decimal                 `json:"total"`
	Count  int                             `json:"count"`
	ByMode map[PaymentMode]decimal.Decimal `json:"by_mode"`
	Days   []DaySummary                    `json:"days"`
}

// CollectionSummary totals collections per day and mode between from and to inclusive.
func (s *Service) CollectionSummary(ctx context.Context, from, to Date) (CollectionSummary, error) {
	if to.Before(from.Time) {
		return CollectionSummary{}, shared.NewValidationError("to", "must not be before from")
	}
	if to.Sub(from.Time).Hours()/24 >= MaxSummaryDays {
		return CollectionSummary{}, shared.NewValidationError("to", "range must not exceed 366 days")
	}
	rows, err := s.repo.SumCollections(ctx, from, to)
	if err != nil {
		return CollectionSummary{}, err
	}
	return buildSummary(from, to, rows), nil
}

func buildSummary(from, to Date, rows []DayModeTotal) CollectionSummary {
	summary := CollectionSummary{
		From:   from,
		To:     to,
		Total:  decimal.Zero,
		ByMode: map[PaymentMode]decimal.Decimal{},
		Days:   []DaySummary{},
	}
	days := map[string]int{}
	for _, row := range rows {
		if row.Date.Before(from.Time) || row.Date.After(to.Time) {
			continue
		}
		key := row.Mode.ReportKey()
		i, ok := days[row.Date.String()]
		if !ok {
			i = len(summary.Days)
			days[row.Date.String()] = i
			summary.Days = append(summary.Days, DaySummary{Date: row.Date, Total: decimal.Zero, ByMode: map[PaymentMode]decimal.Decimal{}})
		}
		day := &summary.Days[i]
		day.ByMode[key] = day.ByMode[key].Add(row.Total)
		day.Total = day.Total.Add(row.Total)
		day.Count += row.Count
		summary.ByMode[key] = summary.ByMode[key].Add(row.Total)
		summary.Total = summary.Total.Add(row.Total)
		summary.Count += row.Count
	}
	sort.SliceStable(summary.Days, func(i, j int) bool {
		return summary.Days[i].Date.Before(summary.Days[j].Date.Time)
	})
	return summary
}
