// Package fees implements the fee ledger: rule administration, obligation
// resolution, capped payment collection, balances and collection reports.
package fees

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMode enumerates accepted tender types.
type PaymentMode string

const (
	ModeCash    PaymentMode = "CASH"
	ModeUPI     PaymentMode = "UPI"
	ModeCheque  PaymentMode = "CHEQUE"
	ModeOnline  PaymentMode = "ONLINE"
	ModeUnknown PaymentMode = "UNKNOWN"
)

// PaymentModes lists the modes a collection may use.
func PaymentModes() []PaymentMode {
	return []PaymentMode{ModeCash, ModeUPI, ModeCheque, ModeOnline}
}

// ParsePaymentMode normalises raw and reports whether it is an accepted mode.
func ParsePaymentMode(raw string) (PaymentMode, bool) {
	mode := PaymentMode(strings.ToUpper(strings.TrimSpace(raw)))
	for _, m := range PaymentModes() {
		if m == mode {
			return mode, true
		}
	}
	return mode, false
}

// ReportKey buckets unrecognised or missing modes under UNKNOWN.
func (m PaymentMode) ReportKey() PaymentMode {
	if _, ok := ParsePaymentMode(string(m)); ok {
		return PaymentMode(strings.ToUpper(strings.TrimSpace(string(m))))
	}
	return ModeUnknown
}

// ObligationStatus is the settlement state of one obligation.
type ObligationStatus string

const (
	StatusPaid    ObligationStatus = "PAID"
	StatusPartial ObligationStatus = "PARTIAL"
	StatusPending ObligationStatus = "PENDING"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time-of-day component.
type Date struct {
	time.Time
}

// NewDate builds a Date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

// OnOrBefore reports whether d is not after other.
func (d Date) OnOrBefore(other Date) bool {
	return !d.After(other.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FeeHead is a named category of charge.
type FeeHead struct {
	ID                int64     `json:"id"`
	Name              string    `json:"head_name"`
	NewAdmissionsOnly bool      `json:"new_admissions_only"`
	CreatedAt         time.Time `json:"created_at"`
}

// FeeStructure is a scoped rule stating the amount owed for a head. A nil
// Stream or SubjectCount matches every value of that dimension.
type FeeStructure struct {
	ID                int64           `json:"id"`
	ClassID           int64           `json:"class_id"`
	AcademicYearID    int64           `json:"academic_year_id"`
	FeeHeadID         int64           `json:"fee_head_id"`
	HeadName          string          `json:"head_name"`
	NewAdmissionsOnly bool            `json:"new_admissions_only"`
	Amount            decimal.Decimal `json:"amount"`
	DueDate           *Date           `json:"due_date,omitempty"`
	Stream            *string         `json:"stream,omitempty"`
	SubjectCount      *int            `json:"subject_count,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Rank is the specificity of the rule: one point per concrete dimension.
func (s FeeStructure) Rank() int {
	rank := 0
	if s.Stream != nil {
		rank++
	}
	if s.SubjectCount != nil {
		rank++
	}
	return rank
}

// Matches reports whether the rule applies to the student context.
func (s FeeStructure) Matches(sc StudentContext) bool {
	if !sc.Enrolled() || s.ClassID != sc.ClassID || s.AcademicYearID != sc.AcademicYearID {
		return false
	}
	if s.Stream != nil && (sc.Stream == nil || *s.Stream != *sc.Stream) {
		return false
	}
	if s.SubjectCount != nil && (sc.SubjectCount == nil || *s.SubjectCount != *sc.SubjectCount) {
		return false
	}
	return !s.NewAdmissionsOnly || sc.IsNewAdmission
}

// StudentProfile identifies a student on ledgers, receipts and reports.
type StudentProfile struct {
	ID          int64  `json:"id"`
	Name        string `json:"student_name"`
	AdmissionNo string `json:"admission_no"`
	ClassName   string `json:"class_name,omitempty"`
	SectionName string `json:"section_name,omitempty"`
	YearName    string `json:"year_name,omitempty"`
}

// StudentContext is the derived fee scope of a student for the active year.
// ClassID and AcademicYearID are zero when the student has no enrollment.
type StudentContext struct {
	StudentID      int64   `json:"student_id"`
	ClassID        int64   `json:"class_id,omitempty"`
	AcademicYearID int64   `json:"academic_year_id,omitempty"`
	Stream         *string `json:"stream,omitempty"`
	SubjectCount   *int    `json:"subject_count,omitempty"`
	IsNewAdmission bool    `json:"is_new_admission"`
}

// Enrolled reports whether the context carries a class and year.
func (sc StudentContext) Enrolled() bool {
	return sc.ClassID > 0 && sc.AcademicYearID > 0
}

// StudentRecord is what the store knows about a student for the active year.
type StudentRecord struct {
	Profile        StudentProfile
	ClassID        int64
	AcademicYearID int64
	Stream         *string
	SubjectCount   *int
	AdmissionDate  Date
	YearStart      *Date
	YearEnd        *Date
}

// Context derives the fee scope. A student is a new admission when the
// admission date falls within the enrolled academic year.
func (r StudentRecord) Context() StudentContext {
	sc := StudentContext{
		StudentID:      r.Profile.ID,
		ClassID:        r.ClassID,
		AcademicYearID: r.AcademicYearID,
		Stream:         r.Stream,
		SubjectCount:   r.SubjectCount,
	}
	if r.YearStart != nil && !r.AdmissionDate.Before(r.YearStart.Time) {
		sc.IsNewAdmission = r.YearEnd == nil || r.AdmissionDate.OnOrBefore(*r.YearEnd)
	}
	return sc
}

// Obligation is one charge owed by a student, chosen from the most specific rule for its head.
type Obligation struct {
	FeeStructureID int64           `json:"fee_structure_id"`
	FeeHeadID      int64           `json:"fee_head_id"`
	HeadName       string          `json:"head_name"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        *Date           `json:"due_date,omitempty"`
	Stream         *string         `json:"stream,omitempty"`
	SubjectCount   *int            `json:"subject_count,omitempty"`
}

// Payment is an immutable ledger entry.
type Payment struct {
	ID                   int64           `json:"id"`
	StudentID            int64           `json:"student_id"`
	FeeStructureID       int64           `json:"fee_structure_id"`
	HeadName             string          `json:"head_name,omitempty"`
	DueDate              *Date           `json:"due_date,omitempty"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
	PaymentDate          Date            `json:"payment_date"`
	PaymentMode          PaymentMode     `json:"payment_mode,omitempty"`
	BatchID              string          `json:"batch_id,omitempty"`
	TransactionReference *string         `json:"transaction_reference,omitempty"`
	Remarks              *string         `json:"remarks,omitempty"`
	CreatedBy            *int64          `json:"created_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

// NewPayment is a ledger row about to be appended.
type NewPayment struct {
	StudentID            int64
	FeeStructureID       int64
	AmountPaid           decimal.Decimal
	PaymentDate          Date
	PaymentMode          PaymentMode
	BatchID              string
	TransactionReference *string
	Remarks              *string
	CreatedBy            *int64
}

// CreateHeadInput carries a new fee head.
type CreateHeadInput struct {
	Name              string `json:"head_name" validate:"required,max=100"`
	NewAdmissionsOnly bool   `json:"new_admissions_only"`
}

// UpdateHeadInput carries fee head changes.
type UpdateHeadInput struct {
	Name              string `json:"head_name" validate:"required,max=100"`
	NewAdmissionsOnly bool   `json:"new_admissions_only"`
}

// CreateStructureInput carries a new fee rule.
type CreateStructureInput struct {
	ClassID        int64           `json:"class_id" validate:"required,gt=0"`
	AcademicYearID int64           `json:"academic_year_id" validate:"required,gt=0"`
	FeeHeadID      int64           `json:"fee_head_id" validate:"required,gt=0"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        *Date           `json:"due_date,omitempty"`
	Stream         *string         `json:"stream,omitempty" validate:"omitempty,max=50"`
	SubjectCount   *int            `json:"subject_count,omitempty" validate:"omitnil,gt=0"`
}

// UpdateStructureInput carries the mutable fields of a fee rule.
type UpdateStructureInput struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate *Date           `json:"due_date,omitempty"`
}

// StructureFilter narrows ListStructures; zero values match everything.
type StructureFilter struct {
	ClassID        int64
	AcademicYearID int64
}
