package fees

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/school-portal/portal/internal/platform/db"
	"github.com/school-portal/portal/internal/shared"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

type pgTxRepository struct {
	tx pgx.Tx
}

// NewRepository builds a PostgreSQL repository. Write transactions are
// serializable and retried up to maxAttempts times on serialization failures.
func NewRepository(pool *pgxpool.Pool, maxAttempts int) Repository {
	return &pgRepository{pool: pool, maxAttempts: maxAttempts}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithSerializableRetry(ctx, r.pool, r.maxAttempts, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
	return classify(err)
}

// classify maps store failures onto the shared error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrAllocationExhausted),
		errors.Is(err, shared.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", shared.ErrConflict, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced record missing or still in use: %w", shared.ErrConflict, err)
	case db.IsUnavailable(err):
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	default:
		return err
	}
}

func rowErr(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(what, id)
	}
	return classify(err)
}

const headColumns = `id, head_name, applies_to_new_students_only, created_at`

const structureSelect = `
	SELECT fs.id, fs.class_id, fs.academic_year_id, fs.fee_head_id, fh.head_name,
	       fh.applies_to_new_students_only, fs.amount, fs.due_date, fs.stream,
	       fs.subject_count, fs.created_at, fs.updated_at
	FROM fee_structures fs
	JOIN fee_heads fh ON fh.id = fs.fee_head_id`

const paymentSelect = `
	SELECT p.id, p.student_id, p.fee_structure_id, COALESCE(fh.head_name, ''), fs.due_date,
	       p.amount_paid, p.payment_date, p.payment_mode, p.batch_id,
	       p.transaction_reference, p.remarks, p.created_by, p.created_at
	FROM student_fee_payments p
	LEFT JOIN fee_structures fs ON fs.id = p.fee_structure_id
	LEFT JOIN fee_heads fh ON fh.id = fs.fee_head_id`

// --- reads shared by pool and transaction ---

func getStudent(ctx context.Context, q querier, studentID int64) (StudentRecord, error) {
	const query = `
		SELECT s.id, s.student_name, s.admission_no, s.admission_date, s.stream, s.subject_count,
		       COALESCE(se.class_id, 0), COALESCE(se.academic_year_id, 0),
		       COALESCE(c.class_name, ''), COALESCE(sec.section_name, ''), COALESCE(ay.year_name, ''),
		       ay.start_date, ay.end_date
		FROM students s
		LEFT JOIN student_enrollments se ON se.student_id = s.id
		     AND se.academic_year_id = (SELECT id FROM academic_years WHERE is_active)
		LEFT JOIN academic_years ay ON ay.id = se.academic_year_id
		LEFT JOIN classes c ON c.id = se.class_id
		LEFT JOIN sections sec ON sec.id = se.section_id
		WHERE s.id = $1`
	var (
		rec          StudentRecord
		admission    pgtype.Date
		stream       pgtype.Text
		subjectCount pgtype.Int4
		start, end   pgtype.Date
	)
	err := q.QueryRow(ctx, query, studentID).Scan(
		&rec.Profile.ID, &rec.Profile.Name, &rec.Profile.AdmissionNo, &admission, &stream, &subjectCount,
		&rec.ClassID, &rec.AcademicYearID,
		&rec.Profile.ClassName, &rec.Profile.SectionName, &rec.Profile.YearName,
		&start, &end,
	)
	if err != nil {
		return StudentRecord{}, rowErr(err, "student", studentID)
	}
	if d := dateFromPG(admission); d != nil {
		rec.AdmissionDate = *d
	}
	rec.Stream = nonEmptyText(stream)
	rec.SubjectCount = positiveInt(subjectCount)
	rec.YearStart = dateFromPG(start)
	rec.YearEnd = dateFromPG(end)
	return rec, nil
}

func listStructures(ctx context.Context, q querier, where string, args ...any) ([]FeeStructure, error) {
	query := structureSelect + where + `
		ORDER BY fs.class_id, fh.head_name, fs.stream NULLS LAST, fs.subject_count NULLS LAST, fs.due_date NULLS LAST, fs.id`
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []FeeStructure{}
	for rows.Next() {
		st, err := scanStructure(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, st)
	}
	return out, classify(rows.Err())
}

func scanStructure(row pgx.Row) (FeeStructure, error) {
	var (
		st           FeeStructure
		amount       pgtype.Numeric
		due          pgtype.Date
		stream       pgtype.Text
		subjectCount pgtype.Int4
	)
	if err := row.Scan(&st.ID, &st.ClassID, &st.AcademicYearID, &st.FeeHeadID, &st.HeadName,
		&st.NewAdmissionsOnly, &amount, &due, &stream, &subjectCount, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return FeeStructure{}, err
	}
	st.Amount = numericToDecimal(amount)
	st.DueDate = dateFromPG(due)
	st.Stream = nonEmptyText(stream)
	st.SubjectCount = positiveInt(subjectCount)
	return st, nil
}

func getStructure(ctx context.Context, q querier, id int64) (FeeStructure, error) {
	st, err := scanStructure(q.QueryRow(ctx, structureSelect+` WHERE fs.id = $1`, id))
	if err != nil {
		return FeeStructure{}, rowErr(err, "fee structure", id)
	}
	return st, nil
}

func listPayments(ctx context.Context, q querier, where string, args ...any) ([]Payment, error) {
	rows, err := q.Query(ctx, paymentSelect+where+` ORDER BY p.payment_date, p.id`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}

func scanPayment(row pgx.Row, extra ...any) (Payment, error) {
	var (
		p         Payment
		due       pgtype.Date
		amount    pgtype.Numeric
		paidOn    pgtype.Date
		mode      pgtype.Text
		reference pgtype.Text
		remarks   pgtype.Text
		createdBy pgtype.Int8
	)
	dest := []any{&p.ID, &p.StudentID, &p.FeeStructureID, &p.HeadName, &due,
		&amount, &paidOn, &mode, &p.BatchID, &reference, &remarks, &createdBy, &p.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Payment{}, err
	}
	p.DueDate = dateFromPG(due)
	p.AmountPaid = numericToDecimal(amount)
	if d := dateFromPG(paidOn); d != nil {
		p.PaymentDate = *d
	}
	if mode.Valid {
		p.PaymentMode = PaymentMode(mode.String)
	}
	p.TransactionReference = nonEmptyText(reference)
	p.Remarks = nonEmptyText(remarks)
	if createdBy.Valid {
		p.CreatedBy = &createdBy.Int64
	}
	return p, nil
}

// --- pool repository ---

func (r *pgRepository) ListHeads(ctx context.Context) ([]FeeHead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+headColumns+` FROM fee_heads ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []FeeHead{}
	for rows.Next() {
		var h FeeHead
		if err := rows.Scan(&h.ID, &h.Name, &h.NewAdmissionsOnly, &h.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, h)
	}
	return out, classify(rows.Err())
}

func (r *pgRepository) ListStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ClassID > 0 {
		args = append(args, filter.ClassID)
		conds = append(conds, fmt.Sprintf("fs.class_id = $%d", len(args)))
	}
	if filter.AcademicYearID > 0 {
		args = append(args, filter.AcademicYearID)
		conds = append(conds, fmt.Sprintf("fs.academic_year_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return listStructures(ctx, r.pool, where, args...)
}

func (r *pgRepository) ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error) {
	return listStructures(ctx, r.pool, ` WHERE fs.class_id = $1 AND fs.academic_year_id = $2`, classID, yearID)
}

func (r *pgRepository) GetStudent(ctx context.Context, studentID int64) (StudentRecord, error) {
	return getStudent(ctx, r.pool, studentID)
}

func (r *pgRepository) ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, ` WHERE p.student_id = $1`, studentID)
}

func (r *pgRepository) ListBatchPayments(ctx context.Context, batchID string) ([]Payment, error) {
	return listPayments(ctx, r.pool, ` WHERE p.batch_id = $1`, batchID)
}

func (r *pgRepository) ListPaymentsOn(ctx context.Context, date Date) ([]ReportTransaction, error) {
	const query = `
		SELECT p.id, p.student_id, p.fee_structure_id, COALESCE(fh.head_name, ''), fs.due_date,
		       p.amount_paid, p.payment_date, p.payment_mode, p.batch_id,
		       p.transaction_reference, p.remarks, p.created_by, p.created_at,
		       s.student_name, s.admission_no, COALESCE(c.class_name, ''), COALESCE(sec.section_name, '')
		FROM student_fee_payments p
		JOIN students s ON s.id = p.student_id
		LEFT JOIN fee_structures fs ON fs.id = p.fee_structure_id
		LEFT JOIN fee_heads fh ON fh.id = fs.fee_head_id
		LEFT JOIN student_enrollments se ON se.student_id = p.student_id AND se.academic_year_id = fs.academic_year_id
		LEFT JOIN classes c ON c.id = se.class_id
		LEFT JOIN sections sec ON sec.id = se.section_id
		WHERE p.payment_date = $1
		ORDER BY p.id`
	rows, err := r.pool.Query(ctx, query, date.Time)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []ReportTransaction{}
	for rows.Next() {
		var t ReportTransaction
		p, err := scanPayment(rows, &t.StudentName, &t.AdmissionNo, &t.ClassName, &t.SectionName)
		if err != nil {
			return nil, classify(err)
		}
		t.Payment = p
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

func (r *pgRepository) SumCollections(ctx context.Context, from, to Date) ([]DayModeTotal, error) {
	const query = `
		SELECT payment_date, COALESCE(payment_mode, ''), SUM(amount_paid), COUNT(*)
		FROM student_fee_payments
		WHERE payment_date BETWEEN $1 AND $2
		GROUP BY payment_date, payment_mode
		ORDER BY payment_date, payment_mode`
	rows, err := r.pool.Query(ctx, query, from.Time, to.Time)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := []DayModeTotal{}
	for rows.Next() {
		var (
			row   DayModeTotal
			day   pgtype.Date
			mode  string
			total pgtype.Numeric
		)
		if err := rows.Scan(&day, &mode, &total, &row.Count); err != nil {
			return nil, classify(err)
		}
		if d := dateFromPG(day); d != nil {
			row.Date = *d
		}
		row.Mode = PaymentMode(mode)
		row.Total = numericToDecimal(total)
		out = append(out, row)
	}
	return out, classify(rows.Err())
}

// --- transaction repository ---

func (t *pgTxRepository) ClaimIdempotencyKey(ctx context.Context, key, scope string) error {
	return shared.NewRequestKeys(t.tx).Claim(ctx, scope, key)
}

func (t *pgTxRepository) GetStudent(ctx context.Context, studentID int64) (StudentRecord, error) {
	return getStudent(ctx, t.tx, studentID)
}

func (t *pgTxRepository) ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error) {
	return listStructures(ctx, t.tx, ` WHERE fs.class_id = $1 AND fs.academic_year_id = $2`, classID, yearID)
}

func (t *pgTxRepository) GetStructure(ctx context.Context, id int64) (FeeStructure, error) {
	return getStructure(ctx, t.tx, id)
}

func (t *pgTxRepository) SumPaid(ctx context.Context, studentID, structureID int64) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_paid), 0)
		FROM student_fee_payments
		WHERE student_id = $1 AND fee_structure_id = $2`, studentID, structureID).Scan(&total)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return numericToDecimal(total), nil
}

func (t *pgTxRepository) InsertPayment(ctx context.Context, in NewPayment) (Payment, error) {
	var mode *string
	if in.PaymentMode != "" {
		m := string(in.PaymentMode)
		mode = &m
	}
	p := Payment{
		StudentID:            in.StudentID,
		FeeStructureID:       in.FeeStructureID,
		AmountPaid:           in.AmountPaid,
		PaymentDate:          in.PaymentDate,
		PaymentMode:          in.PaymentMode,
		BatchID:              in.BatchID,
		TransactionReference: in.TransactionReference,
		Remarks:              in.Remarks,
		CreatedBy:            in.CreatedBy,
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO student_fee_payments (
			student_id, fee_structure_id, amount_paid, payment_date, payment_mode,
			batch_id, transaction_reference, remarks, created_by
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		in.StudentID, in.FeeStructureID, in.AmountPaid.StringFixed(2), in.PaymentDate.Time, mode,
		in.BatchID, in.TransactionReference, in.Remarks, in.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, classify(err)
	}
	return p, nil
}

func (t *pgTxRepository) GetHead(ctx context.Context, id int64) (FeeHead, error) {
	var h FeeHead
	err := t.tx.QueryRow(ctx, `SELECT `+headColumns+` FROM fee_heads WHERE id = $1`, id).
		Scan(&h.ID, &h.Name, &h.NewAdmissionsOnly, &h.CreatedAt)
	if err != nil {
		return FeeHead{}, rowErr(err, "fee head", id)
	}
	return h, nil
}

func (t *pgTxRepository) CreateHead(ctx context.Context, in CreateHeadInput) (FeeHead, error) {
	h := FeeHead{Name: in.Name, NewAdmissionsOnly: in.NewAdmissionsOnly}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO fee_heads (head_name, applies_to_new_students_only)
		VALUES ($1, $2)
		RETURNING id, created_at`, in.Name, in.NewAdmissionsOnly).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return FeeHead{}, conflict(fmt.Sprintf("fee head %q already exists", in.Name))
		}
		return FeeHead{}, classify(err)
	}
	return h, nil
}

func (t *pgTxRepository) UpdateHead(ctx context.Context, id int64, in UpdateHeadInput) (FeeHead, error) {
	var h FeeHead
	err := t.tx.QueryRow(ctx, `
		UPDATE fee_heads SET head_name = $2, applies_to_new_students_only = $3
		WHERE id = $1
		RETURNING `+headColumns, id, in.Name, in.NewAdmissionsOnly).
		Scan(&h.ID, &h.Name, &h.NewAdmissionsOnly, &h.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return FeeHead{}, conflict(fmt.Sprintf("fee head %q already exists", in.Name))
		}
		return FeeHead{}, rowErr(err, "fee head", id)
	}
	return h, nil
}

func (t *pgTxRepository) DeleteHead(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM fee_heads WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("fee head", id)
	}
	return nil
}

func (t *pgTxRepository) CountHeadStructures(ctx context.Context, headID int64) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM fee_structures WHERE fee_head_id = $1`, headID).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (t *pgTxRepository) CreateStructure(ctx context.Context, in CreateStructureInput) (FeeStructure, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO fee_structures (class_id, academic_year_id, fee_head_id, amount, due_date, stream, subject_count)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING id`,
		in.ClassID, in.AcademicYearID, in.FeeHeadID, in.Amount.StringFixed(2), dateParam(in.DueDate), in.Stream, in.SubjectCount,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return FeeStructure{}, conflict("a fee structure already exists for this class, year, head, stream and subject count")
		}
		return FeeStructure{}, classify(err)
	}
	return getStructure(ctx, t.tx, id)
}

func (t *pgTxRepository) UpdateStructure(ctx context.Context, id int64, in UpdateStructureInput) (FeeStructure, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fee_structures SET amount = $2::numeric, due_date = $3, updated_at = NOW()
		WHERE id = $1`, id, in.Amount.StringFixed(2), dateParam(in.DueDate))
	if err != nil {
		return FeeStructure{}, classify(err)
	}
	if tag.RowsAffected() == 0 {
		return FeeStructure{}, notFound("fee structure", id)
	}
	return getStructure(ctx, t.tx, id)
}

func (t *pgTxRepository) DeleteStructure(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM fee_structures WHERE id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("fee structure", id)
	}
	return nil
}

func (t *pgTxRepository) CountStructurePayments(ctx context.Context, structureID int64) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM student_fee_payments WHERE fee_structure_id = $1`, structureID).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (t *pgTxRepository) MaxStudentPaid(ctx context.Context, structureID int64) (decimal.Decimal, error) {
	var top pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(paid), 0) FROM (
			SELECT SUM(amount_paid) AS paid
			FROM student_fee_payments
			WHERE fee_structure_id = $1
			GROUP BY student_id
		) totals`, structureID).Scan(&top)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return numericToDecimal(top), nil
}

// --- conversions ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(n.Int), n.Exp)
}

func dateFromPG(d pgtype.Date) *Date {
	if !d.Valid {
		return nil
	}
	out := NewDate(d.Time.Year(), d.Time.Month(), d.Time.Day())
	return &out
}

func dateParam(d *Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func nonEmptyText(t pgtype.Text) *string {
	if !t.Valid || strings.TrimSpace(t.String) == "" {
		return nil
	}
	v := t.String
	return &v
}

func positiveInt(v pgtype.Int4) *int {
	if !v.Valid || v.Int32 <= 0 {
		return nil
	}
	n := int(v.Int32)
	return &n
}
