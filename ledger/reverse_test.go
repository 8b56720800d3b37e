package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// =============================================================================
// PAYMENT REVERSAL TESTS
// =============================================================================

func TestReverse_DebtPayment_ReopensDebt(t *testing.T) {
	// GIVEN: A debt fully cleared by a single payment
	// WHEN: That payment is reversed
	// THEN: The debt is unpaid again and the payment row is gone

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	debt := seedDebt(t, st, student, group, "2024-02", "100000")

	alloc := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()
	res, err := alloc.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("100000"),
	})
	require.NoError(t, err)

	rev := ledger.NewReversalEngine(st)
	require.NoError(t, rev.ReversePayment(ctx, res.Payment.ID))

	after, err := st.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtUnpaid, after.Status)
	assert.False(t, after.IsPaid)
	assertMoney(t, "0", after.PaidAmount)

	_, err = st.GetPayment(ctx, res.Payment.ID)
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestReverse_SpanningPayment_SubtractsFromLinkedDebtOnly(t *testing.T) {
	// GIVEN: A 100000 payment that cleared January (100000) and also
	//        left February partial at 50000
	// WHEN: The payment is reversed
	// THEN: The full amount comes back off the linked January debt,
	//       clamped at zero; February keeps its partial state

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	jan := seedDebt(t, st, student, group, "2024-01", "50000")
	feb := seedDebt(t, st, student, group, "2024-02", "80000")

	alloc := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()
	res, err := alloc.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("100000"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Payment.DebtID)
	require.Equal(t, jan.ID, *res.Payment.DebtID)

	rev := ledger.NewReversalEngine(st)
	require.NoError(t, rev.ReversePayment(ctx, res.Payment.ID))

	janAfter, err := st.GetDebt(ctx, jan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtUnpaid, janAfter.Status)
	assertMoney(t, "0", janAfter.PaidAmount, "clamped, never negative")

	febAfter, err := st.GetDebt(ctx, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPartial, febAfter.Status)
	assertMoney(t, "50000", febAfter.PaidAmount, "only the linked debt is touched")
}

func TestReverse_BalancePayment_SubtractsDirectly(t *testing.T) {
	// GIVEN: A 40000 top-up that went straight to balance, of which the
	//        student has since spent 30000
	// WHEN: The top-up is reversed
	// THEN: The balance goes negative by the spent amount

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")

	alloc := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()
	res, err := alloc.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("40000"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentBalance, res.Payment.Type)

	spent, err := st.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	spent.Balance = ledger.MustMoney("10000")
	require.NoError(t, st.UpdateStudent(ctx, spent))

	rev := ledger.NewReversalEngine(st)
	require.NoError(t, rev.ReversePayment(ctx, res.Payment.ID))

	after, err := st.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assertMoney(t, "-30000", after.Balance, "reversal bypasses the withdraw gate")

	_, err = st.GetPayment(ctx, res.Payment.ID)
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestReverse_UnknownPayment(t *testing.T) {
	st := newTestStore(t)
	rev := ledger.NewReversalEngine(st)
	err := rev.ReversePayment(context.Background(), ledger.NewPaymentID())
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestReverse_ThenAllocateAgain_RoundTrips(t *testing.T) {
	// Reversing and re-paying a debt lands in the same state as paying
	// it once.

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	debt := seedDebt(t, st, student, group, "2024-02", "100000")

	alloc := ledger.NewAllocationEngine(st, testClock)
	rev := ledger.NewReversalEngine(st)
	ctx := context.Background()

	in := ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("100000"),
	}
	first, err := alloc.AllocatePayment(ctx, in)
	require.NoError(t, err)
	require.NoError(t, rev.ReversePayment(ctx, first.Payment.ID))

	second, err := alloc.AllocatePayment(ctx, in)
	require.NoError(t, err)

	after, err := st.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPaid, after.Status)
	assertMoney(t, "100000", after.PaidAmount)

	payments, err := st.ListPayments(ctx, ledger.PaymentFilter{StudentID: student.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, second.Payment.ID, payments[0].ID)
}
