package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
	lstore "github.com/XamidovNodirjon/Mini-lms/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testClock = ledger.FixedClock(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))

func newTestStore(t *testing.T) *lstore.TxMemory {
	t.Helper()
	return lstore.NewTxMemory()
}

// seedPair creates an enrolled (student, group) pair with the given balance
// and monthly fee.
func seedPair(t *testing.T, st ledger.TxStore, balance, fee string) (*ledger.Student, *ledger.Group) {
	t.Helper()
	ctx := context.Background()

	student := &ledger.Student{
		ID:       ledger.NewStudentID(),
		FullName: "Aziza Yusupova",
		Phone:    "+998901234567",
		Balance:  ledger.MustMoney(balance),
	}
	require.NoError(t, st.CreateStudent(ctx, student))

	group := &ledger.Group{
		ID:         ledger.NewGroupID(),
		Name:       "English B2",
		MonthlyFee: ledger.MustMoney(fee),
	}
	require.NoError(t, st.CreateGroup(ctx, group))
	require.NoError(t, st.Enroll(ctx, group.ID, student.ID))

	return student, group
}

// seedDebt creates a debt for the pair with the given month and amount.
func seedDebt(t *testing.T, st ledger.Store, student *ledger.Student, group *ledger.Group, month, amount string) *ledger.Debt {
	t.Helper()
	debt := &ledger.Debt{
		ID:        ledger.NewDebtID(),
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney(amount),
		Month:     ledger.Month(month),
	}
	debt.Sync()
	require.NoError(t, st.CreateDebt(context.Background(), debt))
	return debt
}

func assertMoney(t *testing.T, want string, got interface{ StringFixed(int32) string }, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, ledger.MustMoney(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestAllocate_NoOutstandingDebts_AllToBalance(t *testing.T) {
	// GIVEN: A student with no debts in the group
	// WHEN: Paying 40000
	// THEN: Everything lands on the balance, payment is balance-typed

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	engine := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()

	res, err := engine.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("40000"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentBalance, res.Payment.Type)
	assert.Nil(t, res.Payment.DebtID, "no debt was touched")
	assert.Empty(t, res.Applied)
	assertMoney(t, "40000", res.ToBalance, "full amount to balance")

	after, err := st.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assertMoney(t, "40000", after.Balance, "balance credited")
}

func TestAllocate_OldestDebtFirst_SpansTwoMonths(t *testing.T) {
	// GIVEN: Debts of 50000 (2024-01) and 80000 (2024-02)
	// WHEN: Paying 100000
	// THEN: January is fully paid, February takes the remaining 50000,
	//       and the payment links the January debt only

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	jan := seedDebt(t, st, student, group, "2024-01", "50000")
	feb := seedDebt(t, st, student, group, "2024-02", "80000")
	engine := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()

	res, err := engine.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("100000"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentDebt, res.Payment.Type)
	require.NotNil(t, res.Payment.DebtID)
	assert.Equal(t, jan.ID, *res.Payment.DebtID, "link goes to the earliest touched debt")

	require.Len(t, res.Applied, 2)
	assert.Equal(t, jan.ID, res.Applied[0].DebtID)
	assertMoney(t, "50000", res.Applied[0].Applied, "january cleared")
	assert.Equal(t, feb.ID, res.Applied[1].DebtID)
	assertMoney(t, "50000", res.Applied[1].Applied, "february takes the rest")
	assertMoney(t, "0", res.ToBalance, "nothing spills to balance")

	janAfter, err := st.GetDebt(ctx, jan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPaid, janAfter.Status)
	assert.True(t, janAfter.IsPaid)

	febAfter, err := st.GetDebt(ctx, feb.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPartial, febAfter.Status)
	assertMoney(t, "50000", febAfter.PaidAmount, "february partially covered")
}

func TestAllocate_PartialPaymentOnSingleDebt(t *testing.T) {
	// GIVEN: One debt of 100000
	// WHEN: Paying 60000
	// THEN: The debt goes partial and nothing reaches the balance

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	debt := seedDebt(t, st, student, group, "2024-03", "100000")
	engine := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()

	res, err := engine.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("60000"),
	})
	require.NoError(t, err)

	after, err := st.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPartial, after.Status)
	assertMoney(t, "60000", after.PaidAmount, "partial progress recorded")
	assertMoney(t, "40000", after.Due(), "remainder still due")
	assertMoney(t, "0", res.ToBalance, "debt absorbed everything")

	studentAfter, err := st.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assertMoney(t, "0", studentAfter.Balance, "balance untouched")
}

func TestAllocate_OverpaymentSpillsToBalance(t *testing.T) {
	// GIVEN: One debt of 50000
	// WHEN: Paying 80000
	// THEN: The debt is cleared and 30000 lands on the balance;
	//       the payment is still debt-typed because a debt was touched

	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	debt := seedDebt(t, st, student, group, "2024-03", "50000")
	engine := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()

	res, err := engine.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("80000"),
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentDebt, res.Payment.Type)
	require.NotNil(t, res.Payment.DebtID)
	assert.Equal(t, debt.ID, *res.Payment.DebtID)
	assertMoney(t, "30000", res.ToBalance, "overpayment spills over")

	studentAfter, err := st.GetStudent(ctx, student.ID)
	require.NoError(t, err)
	assertMoney(t, "30000", studentAfter.Balance)

	debtAfter, err := st.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DebtPaid, debtAfter.Status)
}

func TestAllocate_PaymentDateDefaultsToClock(t *testing.T) {
	st := newTestStore(t)
	student, group := seedPair(t, st, "0", "100000")
	engine := ledger.NewAllocationEngine(st, testClock)

	res, err := engine.AllocatePayment(context.Background(), ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("10000"),
	})
	require.NoError(t, err)
	assert.Equal(t, testClock.Now(), res.Payment.Date)
}

func TestAllocatePayment_Validation(t *testing.T) {
	// GIVEN: Missing IDs and a non-positive amount
	// WHEN: Submitting the payment
	// THEN: A single validation error names every bad field

	st := newTestStore(t)
	engine := ledger.NewAllocationEngine(st, testClock)

	_, err := engine.AllocatePayment(context.Background(), ledger.AllocationInput{
		Amount: ledger.MustMoney("0"),
	})
	require.Error(t, err)

	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "student_id")
	assert.Contains(t, vErr.Fields, "group_id")
	assert.Contains(t, vErr.Fields, "amount")
}

func TestAllocatePayment_UnknownStudent(t *testing.T) {
	st := newTestStore(t)
	_, group := seedPair(t, st, "0", "100000")
	engine := ledger.NewAllocationEngine(st, testClock)

	_, err := engine.AllocatePayment(context.Background(), ledger.AllocationInput{
		StudentID: "missing",
		GroupID:   group.ID,
		Amount:    ledger.MustMoney("10000"),
	})
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestAllocatePayment_RollsBackOnFailure(t *testing.T) {
	// GIVEN: An allocation that fails mid-transaction (group missing)
	// WHEN: The transaction rolls back
	// THEN: No payment row exists and the balance is untouched

	st := newTestStore(t)
	student, _ := seedPair(t, st, "0", "100000")
	engine := ledger.NewAllocationEngine(st, testClock)
	ctx := context.Background()

	_, err := engine.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: student.ID,
		GroupID:   "missing-group",
		Amount:    ledger.MustMoney("10000"),
	})
	require.Error(t, err)

	payments, err := st.ListPayments(ctx, ledger.PaymentFilter{StudentID: student.ID})
	require.NoError(t, err)
	assert.Empty(t, payments, "nothing persisted")
}
