package fees

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/school-portal/portal/internal/shared"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveCollect(outcome, mode string, amount float64, recorded, skipped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestCollectCapsAtRemaining(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", datePtr(2025, time.April, 10))
	f.repo.addPayment(Payment{StudentID: 1, FeeStructureID: st.ID, AmountPaid: dec("700"), PaymentDate: NewDate(2025, time.April, 12), PaymentMode: ModeCash, BatchID: "earlier"})

	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:   1,
		Items:       []CollectItem{{FeeStructureID: st.ID, RequestedAmount: decPtr("500")}},
		PaymentMode: "cash",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 1)
	require.Empty(t, res.Skipped)
	require.True(t, res.Payments[0].AmountPaid.Equal(dec("300")))
	require.True(t, res.TotalCollected.Equal(dec("300")))
	require.Equal(t, ModeCash, res.PaymentMode)
	require.Equal(t, NewDate(2025, time.June, 10), res.PaymentDate)
	require.Equal(t, "Tuition", res.Payments[0].HeadName)

	ledger, err := f.svc.Ledger(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ledger.Obligations, 1)
	require.True(t, ledger.Obligations[0].Balance.IsZero())
	require.Equal(t, StatusPaid, ledger.Obligations[0].Status)
}

func TestCollectDefaultsToFullSettlement(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	transport := f.repo.addHead("Transport", false)
	a := f.structure(tuition, "1000", nil)
	b := f.structure(transport, "450.50", nil)

	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID: 1,
		Items: []CollectItem{
			{FeeStructureID: a.ID},
			{FeeStructureID: b.ID, RequestedAmount: decPtr("0")},
		},
		PaymentMode:          "UPI",
		TransactionReference: " UTR123 ",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 2)
	require.True(t, res.TotalCollected.Equal(dec("1450.50")))
	for _, p := range res.Payments {
		require.Equal(t, res.BatchID, p.BatchID)
		require.Equal(t, ModeUPI, p.PaymentMode)
		require.Equal(t, "UTR123", *p.TransactionReference)
	}
	require.NotEmpty(t, res.BatchID)
}

func TestCollectNegativeRequestSettlesRemaining(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)
	f.repo.addPayment(Payment{StudentID: 1, FeeStructureID: st.ID, AmountPaid: dec("250"), PaymentDate: NewDate(2025, time.May, 2), PaymentMode: ModeCash, BatchID: "earlier"})

	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:   1,
		Items:       []CollectItem{{FeeStructureID: st.ID, RequestedAmount: decPtr("-5")}},
		PaymentMode: "CASH",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 1)
	require.True(t, res.Payments[0].AmountPaid.Equal(dec("750")))
	require.True(t, res.TotalCollected.Equal(dec("750")))
}

func TestCollectFullyPaidIsExhausted(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	f.svc.observer = obs
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)
	f.repo.addPayment(Payment{StudentID: 1, FeeStructureID: st.ID, AmountPaid: dec("1000"), PaymentDate: NewDate(2025, time.May, 1), PaymentMode: ModeCash, BatchID: "b1"})
	before := f.repo.paymentCount()

	_, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:   1,
		Items:       []CollectItem{{FeeStructureID: st.ID, RequestedAmount: decPtr("10")}},
		PaymentMode: "CASH",
	})
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
	var exhausted *AllocationExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, ExhaustedAllPaid, exhausted.Reason)
	require.Equal(t, []SkippedItem{{FeeStructureID: st.ID, Reason: SkipAlreadyPaid}}, exhausted.Skipped)
	require.Equal(t, before, f.repo.paymentCount())
	require.Equal(t, []string{ExhaustedAllPaid}, obs.outcomes)
}

func TestCollectSkipReasons(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	paid := f.structure(tuition, "1000", nil)
	f.repo.addPayment(Payment{StudentID: 1, FeeStructureID: paid.ID, AmountPaid: dec("1000"), PaymentDate: NewDate(2025, time.May, 1), BatchID: "b1"})
	otherClass := f.repo.addStructure(FeeStructure{ClassID: 9, AcademicYearID: testYearID, FeeHeadID: tuition.ID, Amount: dec("800")})

	_, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID: 1,
		Items: []CollectItem{
			{FeeStructureID: paid.ID},
			{FeeStructureID: 999},
			{FeeStructureID: otherClass.ID},
		},
		PaymentMode: "CHEQUE",
	})
	var exhausted *AllocationExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, ExhaustedNoValidItems, exhausted.Reason)
	require.Equal(t, []SkippedItem{
		{FeeStructureID: paid.ID, Reason: SkipAlreadyPaid},
		{FeeStructureID: 999, Reason: SkipNotFound},
		{FeeStructureID: otherClass.ID, Reason: SkipNotApplicable},
	}, exhausted.Skipped)
	require.Contains(t, exhausted.Error(), "no valid items")
}

func TestCollectSkipsInsideSuccessfulBatch(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)

	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:   1,
		Items:       []CollectItem{{FeeStructureID: 404}, {FeeStructureID: st.ID, RequestedAmount: decPtr("250")}},
		PaymentMode: "ONLINE",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 1)
	require.Equal(t, []SkippedItem{{FeeStructureID: 404, Reason: SkipNotFound}}, res.Skipped)
}

func TestCollectRepeatedItemSeesOwnWrites(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)

	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID: 1,
		Items: []CollectItem{
			{FeeStructureID: st.ID, RequestedAmount: decPtr("800")},
			{FeeStructureID: st.ID, RequestedAmount: decPtr("800")},
			{FeeStructureID: st.ID},
		},
		PaymentMode: "CASH",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 2)
	require.True(t, res.Payments[1].AmountPaid.Equal(dec("200")))
	require.Equal(t, []SkippedItem{{FeeStructureID: st.ID, Reason: SkipAlreadyPaid}}, res.Skipped)
	require.True(t, f.repo.paidFor(1, st.ID).Equal(dec("1000")))
}

func TestCollectValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		req   CollectRequest
		field string
	}{
		{name: "no items", req: CollectRequest{StudentID: 1, PaymentMode: "CASH"}, field: "items"},
		{name: "no student", req: CollectRequest{Items: []CollectItem{{FeeStructureID: 1}}, PaymentMode: "CASH"}, field: "student_id"},
		{name: "bad mode", req: CollectRequest{StudentID: 1, Items: []CollectItem{{FeeStructureID: 1}}, PaymentMode: "BARTER"}, field: "payment_mode"},
		{name: "missing mode", req: CollectRequest{StudentID: 1, Items: []CollectItem{{FeeStructureID: 1}}}, field: "payment_mode"},
		{name: "sub-paisa amount", req: CollectRequest{StudentID: 1, Items: []CollectItem{{FeeStructureID: 1, RequestedAmount: decPtr("1.005")}}, PaymentMode: "CASH"}, field: "items[0].requested_amount"},
		{name: "bad structure id", req: CollectRequest{StudentID: 1, Items: []CollectItem{{FeeStructureID: 0}}, PaymentMode: "CASH"}, field: "items[0].fee_structure_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Collect(context.Background(), tc.req)
			require.ErrorIs(t, err, shared.ErrValidation)
			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, tc.field)
		})
	}
	require.Zero(t, f.repo.paymentCount())
}

func TestCollectUnknownStudent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:   77,
		Items:       []CollectItem{{FeeStructureID: 1}},
		PaymentMode: "CASH",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCollectIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	transport := f.repo.addHead("Transport", false)
	a := f.structure(tuition, "1000", nil)
	b := f.structure(transport, "600", nil)
	f.repo.failInsert = 2
	f.repo.failInsertE = errStoreDown

	_, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:      1,
		Items:          []CollectItem{{FeeStructureID: a.ID}, {FeeStructureID: b.ID}},
		PaymentMode:    "CASH",
		IdempotencyKey: "retry-me",
	})
	require.ErrorIs(t, err, shared.ErrStoreUnavailable)
	require.Zero(t, f.repo.paymentCount())

	f.repo.failInsert = 0
	res, err := f.svc.Collect(context.Background(), CollectRequest{
		StudentID:      1,
		Items:          []CollectItem{{FeeStructureID: a.ID}, {FeeStructureID: b.ID}},
		PaymentMode:    "CASH",
		IdempotencyKey: "retry-me",
	})
	require.NoError(t, err)
	require.Len(t, res.Payments, 2)
}

func TestCollectIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)
	req := CollectRequest{
		StudentID:      1,
		Items:          []CollectItem{{FeeStructureID: st.ID, RequestedAmount: decPtr("100")}},
		PaymentMode:    "CASH",
		IdempotencyKey: "counter-7-0001",
	}

	_, err := f.svc.Collect(context.Background(), req)
	require.NoError(t, err)
	_, err = f.svc.Collect(context.Background(), req)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, f.repo.paidFor(1, st.ID).Equal(dec("100")))
}

func TestCollectConcurrentNeverOverpays(t *testing.T) {
	f := newFixture(t)
	tuition := f.repo.addHead("Tuition", false)
	st := f.structure(tuition, "1000", nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Collect(context.Background(), CollectRequest{
				StudentID:   1,
				Items:       []CollectItem{{FeeStructureID: st.ID, RequestedAmount: decPtr("150")}},
				PaymentMode: "CASH",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, exhausted := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, shared.ErrAllocationExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 7, succeeded)
	require.Equal(t, 13, exhausted)
	require.True(t, f.repo.paidFor(1, st.ID).Equal(dec("1000")))
}
