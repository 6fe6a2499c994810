package fees

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	testClassID = int64(5)
	testYearID  = int64(2025)
)

var testLocation = time.FixedZone("IST", 5*60*60+30*60)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func datePtr(y int, m time.Month, d int) *Date {
	out := NewDate(y, m, d)
	return &out
}

type fixture struct {
	repo *memoryRepo
	svc  *Service
	now  time.Time
}

// newFixture seeds an active 2025 academic year with student 1 (Science,
// admitted before the year started) and student 2 (admitted during the year).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		now:  time.Date(2025, time.June, 10, 10, 0, 0, 0, testLocation),
	}
	f.svc = NewService(f.repo, Options{
		Location: testLocation,
		Now:      func() time.Time { return f.now },
	})
	start, end := datePtr(2025, time.April, 1), datePtr(2026, time.March, 31)
	f.repo.addStudent(StudentRecord{
		Profile:        StudentProfile{ID: 1, Name: "Asha Verma", AdmissionNo: "ADM-001", ClassName: "Class 5"},
		ClassID:        testClassID,
		AcademicYearID: testYearID,
		Stream:         strPtr("Science"),
		AdmissionDate:  NewDate(2022, time.April, 4),
		YearStart:      start,
		YearEnd:        end,
	})
	f.repo.addStudent(StudentRecord{
		Profile:        StudentProfile{ID: 2, Name: "Ravi Kumar", AdmissionNo: "ADM-002", ClassName: "Class 5"},
		ClassID:        testClassID,
		AcademicYearID: testYearID,
		AdmissionDate:  NewDate(2025, time.April, 15),
		YearStart:      start,
		YearEnd:        end,
	})
	f.repo.addStudent(StudentRecord{
		Profile:       StudentProfile{ID: 3, Name: "Unenrolled", AdmissionNo: "ADM-003"},
		AdmissionDate: NewDate(2025, time.May, 1),
	})
	return f
}

func (f *fixture) structure(head FeeHead, amount string, due *Date) FeeStructure {
	return f.repo.addStructure(FeeStructure{
		ClassID:        testClassID,
		AcademicYearID: testYearID,
		FeeHeadID:      head.ID,
		Amount:         dec(amount),
		DueDate:        due,
	})
}
