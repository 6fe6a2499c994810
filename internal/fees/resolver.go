package fees

import (
	"context"
	"fmt"
	"sort"
)

// Resolve turns the rule table into the obligations owed under sc. For every
// fee head it keeps the matching rule of highest rank; equal ranks fall back
// to the lowest rule id. The result is ordered by head name, then due date.
func Resolve(sc StudentContext, rules []FeeStructure) []Obligation {
	if !sc.Enrolled() {
		return []Obligation{}
	}
	best := make(map[int64]FeeStructure)
	for _, rule := range rules {
		if !rule.Matches(sc) {
			continue
		}
		current, ok := best[rule.FeeHeadID]
		if !ok || outranks(rule, current) {
			best[rule.FeeHeadID] = rule
		}
	}
	out := make([]Obligation, 0, len(best))
	for _, rule := range best {
		out = append(out, Obligation{
			FeeStructureID: rule.ID,
			FeeHeadID:      rule.FeeHeadID,
			HeadName:       rule.HeadName,
			Amount:         rule.Amount,
			DueDate:        rule.DueDate,
			Stream:         rule.Stream,
			SubjectCount:   rule.SubjectCount,
		})
	}
	sortObligations(out)
	return out
}

func outranks(candidate, current FeeStructure) bool {
	if candidate.Rank() != current.Rank() {
		return candidate.Rank() > current.Rank()
	}
	return candidate.ID < current.ID
}

func sortObligations(obligations []Obligation) {
	sort.SliceStable(obligations, func(i, j int) bool {
		a, b := obligations[i], obligations[j]
		if a.HeadName != b.HeadName {
			return a.HeadName < b.HeadName
		}
		if c := compareDue(a.DueDate, b.DueDate); c != 0 {
			return c < 0
		}
		return a.FeeStructureID < b.FeeStructureID
	})
}

// compareDue orders due dates ascending with missing dates last.
func compareDue(a, b *Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(b.Time):
		return -1
	case a.After(b.Time):
		return 1
	default:
		return 0
	}
}

func indexObligations(obligations []Obligation) map[int64]Obligation {
	idx := make(map[int64]Obligation, len(obligations))
	for _, ob := range obligations {
		idx[ob.FeeStructureID] = ob
	}
	return idx
}

// StudentObligations is the resolved view of one student.
type StudentObligations struct {
	Student     StudentProfile `json:"student"`
	Context     StudentContext `json:"context"`
	Obligations []Obligation   `json:"obligations"`
}

// StudentContext derives the fee scope of a student from the store.
func (s *Service) StudentContext(ctx context.Context, studentID int64) (StudentRecord, error) {
	if studentID <= 0 {
		return StudentRecord{}, notFound("student", studentID)
	}
	return s.repo.GetStudent(ctx, studentID)
}

// Obligations resolves the charges currently owed by a student.
func (s *Service) Obligations(ctx context.Context, studentID int64) (StudentObligations, error) {
	record, err := s.StudentContext(ctx, studentID)
	if err != nil {
		return StudentObligations{}, err
	}
	sc := record.Context()
	obligations, err := s.resolveFor(ctx, sc)
	if err != nil {
		return StudentObligations{}, err
	}
	return StudentObligations{Student: record.Profile, Context: sc, Obligations: obligations}, nil
}

func (s *Service) resolveFor(ctx context.Context, sc StudentContext) ([]Obligation, error) {
	if !sc.Enrolled() {
		return []Obligation{}, nil
	}
	rules, err := s.rulesFor(ctx, sc.ClassID, sc.AcademicYearID)
	if err != nil {
		return nil, fmt.Errorf("fees: load rules: %w", err)
	}
	return Resolve(sc, rules), nil
}

func (s *Service) rulesFor(ctx context.Context, classID, yearID int64) ([]FeeStructure, error) {
	if s.cache == nil {
		return s.repo.ListRules(ctx, classID, yearID)
	}
	return s.cache.Rules(ctx, classID, yearID, func(ctx context.Context) ([]FeeStructure, error) {
		return s.repo.ListRules(ctx, classID, yearID)
	})
}
