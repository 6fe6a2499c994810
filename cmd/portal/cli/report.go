// Package cli holds the operational subcommands of the portal binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/school-portal/portal/internal/fees"
)

// ReportSource produces collection reports.
type ReportSource interface {
	DailyReport(ctx context.Context, date fees.Date) (fees.DailyReport, error)
	Today() fees.Date
}

// ReportCLI prints collection reports for cashiers and accountants.
type ReportCLI struct {
	source  ReportSource
	printer *message.Printer
}

// NewReportCLI builds the helper over source.
func NewReportCLI(source ReportSource) (*ReportCLI, error) {
	if source == nil {
		return nil, errors.New("report cli: source is required")
	}
	return &ReportCLI{source: source, printer: message.NewPrinter(language.MustParse("en-IN"))}, nil
}

// DailyOptions defines the flags of the report daily command.
type DailyOptions struct {
	Date       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DailySummary is the JSON output of report daily.
type DailySummary struct {
	OK     bool             `json:"ok"`
	Report fees.DailyReport `json:"report"`
}

// DailyCommand prints the daily collection report. It returns 0 on success,
// 1 on failure and 10 when the report does not reconcile.
func (c *ReportCLI) DailyCommand(ctx context.Context, opts DailyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	date := c.source.Today()
	if raw := strings.TrimSpace(opts.Date); raw != "" {
		parsed, err := fees.ParseDate(raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "report daily: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
			return 1
		}
		date = parsed
	}
	report, err := c.source.DailyReport(ctx, date)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "report daily: %v\n", err)
		return 1
	}
	ok := report.Reconciles()
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(DailySummary{OK: ok, Report: report}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "report daily: encode json: %v\n", err)
			return 1
		}
	} else {
		c.renderDaily(opts.Stdout, report)
	}
	if !ok {
		_, _ = fmt.Fprintln(opts.Stderr, "report daily: totals do not reconcile")
		return 10
	}
	return 0
}

func (c *ReportCLI) renderDaily(out io.Writer, report fees.DailyReport) {
	_, _ = fmt.Fprintf(out, "Daily collection %s\n", report.Date)
	if len(report.Transactions) == 0 {
		_, _ = fmt.Fprintln(out, "No payments recorded.")
		return
	}
	modes := make([]string, 0, len(report.ByMode))
	for mode := range report.ByMode {
		modes = append(modes, string(mode))
	}
	sort.Strings(modes)
	for _, mode := range modes {
		_, _ = fmt.Fprintf(out, " %-8s %s\n", mode, c.amount(report.ByMode[fees.PaymentMode(mode)]))
	}
	_, _ = fmt.Fprintf(out, " %-8s %s\n", "TOTAL", c.amount(report.TotalCollection))
	_, _ = fmt.Fprintf(out, "%d payment(s):\n", len(report.Transactions))
	for _, tx := range report.Transactions {
		_, _ = fmt.Fprintf(out, " - #%d %s (%s) %s %s %s\n",
			tx.ID, tx.StudentName, tx.AdmissionNo, tx.HeadName, tx.PaymentMode.ReportKey(), c.amount(tx.AmountPaid))
	}
}

func (c *ReportCLI) amount(v decimal.Decimal) string {
	return c.printer.Sprintf("%.2f", v.InexactFloat64())
}
