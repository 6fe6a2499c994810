package fees

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/school-portal/portal/internal/shared"
)

// memoryRepo serialises transactions with a mutex and restores a snapshot
// when the transaction function fails.
type memoryRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	heads      map[int64]FeeHead
	structures map[int64]FeeStructure
	students   map[int64]StudentRecord
	payments   []Payment
	keys       map[string]string

	nextID      int64
	inserts     int
	failInsert  int
	failInsertE error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		heads:      make(map[int64]FeeHead),
		structures: make(map[int64]FeeStructure),
		students:   make(map[int64]StudentRecord),
		keys:       make(map[string]string),
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) addHead(name string, newOnly bool) FeeHead {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := FeeHead{ID: r.id(), Name: name, NewAdmissionsOnly: newOnly, CreatedAt: time.Now()}
	r.heads[h.ID] = h
	return h
}

func (r *memoryRepo) addStructure(st FeeStructure) FeeStructure {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.ID == 0 {
		st.ID = r.id()
	} else if st.ID > r.nextID {
		r.nextID = st.ID
	}
	head := r.heads[st.FeeHeadID]
	st.HeadName = head.Name
	st.NewAdmissionsOnly = head.NewAdmissionsOnly
	r.structures[st.ID] = st
	return st
}

func (r *memoryRepo) addStudent(rec StudentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[rec.Profile.ID] = rec
}

func (r *memoryRepo) addPayment(p Payment) Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	r.payments = append(r.payments, p)
	return p
}

func (r *memoryRepo) paidFor(studentID, structureID int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sumPaidLocked(studentID, structureID)
}

func (r *memoryRepo) sumPaidLocked(studentID, structureID int64) decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.payments {
		if p.StudentID == studentID && p.FeeStructureID == structureID {
			total = total.Add(p.AmountPaid)
		}
	}
	return total
}

func (r *memoryRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

type memorySnapshot struct {
	heads      map[int64]FeeHead
	structures map[int64]FeeStructure
	payments   []Payment
	keys       map[string]string
}

func (r *memoryRepo) snapshot() memorySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memorySnapshot{
		heads:      make(map[int64]FeeHead, len(r.heads)),
		structures: make(map[int64]FeeStructure, len(r.structures)),
		payments:   append([]Payment(nil), r.payments...),
		keys:       make(map[string]string, len(r.keys)),
	}
	for k, v := range r.heads {
		s.heads[k] = v
	}
	for k, v := range r.structures {
		s.structures[k] = v
	}
	for k, v := range r.keys {
		s.keys[k] = v
	}
	return s
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heads, r.structures, r.payments, r.keys = s.heads, s.structures, s.payments, s.keys
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) ListHeads(ctx context.Context) ([]FeeHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FeeHead, 0, len(r.heads))
	for _, h := range r.heads {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []FeeStructure{}
	for _, st := range r.structures {
		if filter.ClassID > 0 && st.ClassID != filter.ClassID {
			continue
		}
		if filter.AcademicYearID > 0 && st.AcademicYearID != filter.AcademicYearID {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error) {
	return r.ListStructures(ctx, StructureFilter{ClassID: classID, AcademicYearID: yearID})
}

func (r *memoryRepo) GetStudent(ctx context.Context, studentID int64) (StudentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.students[studentID]
	if !ok {
		return StudentRecord{}, notFound("student", studentID)
	}
	return rec, nil
}

func (r *memoryRepo) withHead(p Payment) Payment {
	if st, ok := r.structures[p.FeeStructureID]; ok {
		p.HeadName = st.HeadName
		p.DueDate = st.DueDate
	}
	return p
}

func (r *memoryRepo) ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Payment{}
	for _, p := range r.payments {
		if p.StudentID == studentID {
			out = append(out, r.withHead(p))
		}
	}
	return out, nil
}

func (r *memoryRepo) ListBatchPayments(ctx context.Context, batchID string) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Payment{}
	for _, p := range r.payments {
		if p.BatchID == batchID {
			out = append(out, r.withHead(p))
		}
	}
	return out, nil
}

func (r *memoryRepo) ListPaymentsOn(ctx context.Context, date Date) ([]ReportTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []ReportTransaction{}
	for _, p := range r.payments {
		if !p.PaymentDate.Equal(date.Time) {
			continue
		}
		student := r.students[p.StudentID]
		out = append(out, ReportTransaction{
			Payment:     r.withHead(p),
			StudentName: student.Profile.Name,
			AdmissionNo: student.Profile.AdmissionNo,
			ClassName:   student.Profile.ClassName,
		})
	}
	return out, nil
}

func (r *memoryRepo) SumCollections(ctx context.Context, from, to Date) ([]DayModeTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		day  string
		mode PaymentMode
	}
	totals := map[key]*DayModeTotal{}
	var order []key
	for _, p := range r.payments {
		if p.PaymentDate.Before(from.Time) || p.PaymentDate.After(to.Time) {
			continue
		}
		k := key{p.PaymentDate.String(), p.PaymentMode}
		row, ok := totals[k]
		if !ok {
			row = &DayModeTotal{Date: p.PaymentDate, Mode: p.PaymentMode, Total: decimal.Zero}
			totals[k] = row
			order = append(order, k)
		}
		row.Total = row.Total.Add(p.AmountPaid)
		row.Count++
	}
	out := make([]DayModeTotal, 0, len(order))
	for _, k := range order {
		out = append(out, *totals[k])
	}
	return out, nil
}

func (t *memoryTx) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	r.keys[key] = module
	return nil
}

func (t *memoryTx) GetStudent(ctx context.Context, studentID int64) (StudentRecord, error) {
	return t.repo.GetStudent(ctx, studentID)
}

func (t *memoryTx) ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error) {
	return t.repo.ListRules(ctx, classID, yearID)
}

func (t *memoryTx) GetStructure(ctx context.Context, id int64) (FeeStructure, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.structures[id]
	if !ok {
		return FeeStructure{}, notFound("fee structure", id)
	}
	return st, nil
}

func (t *memoryTx) SumPaid(ctx context.Context, studentID, structureID int64) (decimal.Decimal, error) {
	return t.repo.paidFor(studentID, structureID), nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, in NewPayment) (Payment, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if r.failInsert > 0 && r.inserts == r.failInsert {
		return Payment{}, r.failInsertE
	}
	p := Payment{
		ID:                   r.id(),
		StudentID:            in.StudentID,
		FeeStructureID:       in.FeeStructureID,
		AmountPaid:           in.AmountPaid,
		PaymentDate:          in.PaymentDate,
		PaymentMode:          in.PaymentMode,
		BatchID:              in.BatchID,
		TransactionReference: in.TransactionReference,
		Remarks:              in.Remarks,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            time.Now(),
	}
	r.payments = append(r.payments, p)
	return p, nil
}

func (t *memoryTx) GetHead(ctx context.Context, id int64) (FeeHead, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.heads[id]
	if !ok {
		return FeeHead{}, notFound("fee head", id)
	}
	return h, nil
}

func (t *memoryTx) CreateHead(ctx context.Context, in CreateHeadInput) (FeeHead, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.heads {
		if h.Name == in.Name {
			return FeeHead{}, conflict(fmt.Sprintf("fee head %q already exists", in.Name))
		}
	}
	h := FeeHead{ID: r.id(), Name: in.Name, NewAdmissionsOnly: in.NewAdmissionsOnly, CreatedAt: time.Now()}
	r.heads[h.ID] = h
	return h, nil
}

func (t *memoryTx) UpdateHead(ctx context.Context, id int64, in UpdateHeadInput) (FeeHead, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.heads[id]
	if !ok {
		return FeeHead{}, notFound("fee head", id)
	}
	h.Name, h.NewAdmissionsOnly = in.Name, in.NewAdmissionsOnly
	r.heads[id] = h
	return h, nil
}

func (t *memoryTx) DeleteHead(ctx context.Context, id int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.heads[id]; !ok {
		return notFound("fee head", id)
	}
	delete(r.heads, id)
	return nil
}

func (t *memoryTx) CountHeadStructures(ctx context.Context, headID int64) (int, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.structures {
		if st.FeeHeadID == headID {
			n++
		}
	}
	return n, nil
}

func scopeKey(classID, yearID, headID int64, stream *string, subjectCount *int) string {
	s, c := "ALL", 0
	if stream != nil {
		s = *stream
	}
	if subjectCount != nil {
		c = *subjectCount
	}
	return strings.Join([]string{fmt.Sprint(yearID), fmt.Sprint(classID), fmt.Sprint(headID), s, fmt.Sprint(c)}, "|")
}

func (t *memoryTx) CreateStructure(ctx context.Context, in CreateStructureInput) (FeeStructure, error) {
	r := t.repo
	r.mu.Lock()
	want := scopeKey(in.ClassID, in.AcademicYearID, in.FeeHeadID, in.Stream, in.SubjectCount)
	for _, st := range r.structures {
		if scopeKey(st.ClassID, st.AcademicYearID, st.FeeHeadID, st.Stream, st.SubjectCount) == want {
			r.mu.Unlock()
			return FeeStructure{}, conflict("a fee structure already exists for this class, year, head, stream and subject count")
		}
	}
	r.mu.Unlock()
	return r.addStructure(FeeStructure{
		ClassID:        in.ClassID,
		AcademicYearID: in.AcademicYearID,
		FeeHeadID:      in.FeeHeadID,
		Amount:         in.Amount,
		DueDate:        in.DueDate,
		Stream:         in.Stream,
		SubjectCount:   in.SubjectCount,
	}), nil
}

func (t *memoryTx) UpdateStructure(ctx context.Context, id int64, in UpdateStructureInput) (FeeStructure, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.structures[id]
	if !ok {
		return FeeStructure{}, notFound("fee structure", id)
	}
	st.Amount, st.DueDate = in.Amount, in.DueDate
	r.structures[id] = st
	return st, nil
}

func (t *memoryTx) DeleteStructure(ctx context.Context, id int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.structures[id]; !ok {
		return notFound("fee structure", id)
	}
	delete(r.structures, id)
	return nil
}

func (t *memoryTx) CountStructurePayments(ctx context.Context, structureID int64) (int, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payments {
		if p.FeeStructureID == structureID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) MaxStudentPaid(ctx context.Context, structureID int64) (decimal.Decimal, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	perStudent := map[int64]decimal.Decimal{}
	for _, p := range r.payments {
		if p.FeeStructureID == structureID {
			perStudent[p.StudentID] = perStudent[p.StudentID].Add(p.AmountPaid)
		}
	}
	top := decimal.Zero
	for _, v := range perStudent {
		top = decimal.Max(top, v)
	}
	return top, nil
}

var errStoreDown = fmt.Errorf("%w: connection reset", shared.ErrStoreUnavailable)
