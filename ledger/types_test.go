package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		paid string
		amt  string
		want ledger.DebtStatus
	}{
		{"nothing paid", "0", "100000", ledger.DebtUnpaid},
		{"partially paid", "40000", "100000", ledger.DebtPartial},
		{"exactly paid", "100000", "100000", ledger.DebtPaid},
		{"overpaid still paid", "120000", "100000", ledger.DebtPaid},
		{"negative counts as unpaid", "-5", "100000", ledger.DebtUnpaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ledger.DeriveStatus(ledger.MustMoney(tc.paid), ledger.MustMoney(tc.amt))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDebtSync_ClampsAndRecomputes(t *testing.T) {
	d := &ledger.Debt{Amount: ledger.MustMoney("100000")}

	d.PaidAmount = ledger.MustMoney("-30000")
	d.Sync()
	assertMoney(t, "0", d.PaidAmount, "negative paid clamps to zero")
	assert.Equal(t, ledger.DebtUnpaid, d.Status)
	assert.False(t, d.IsPaid)

	d.PaidAmount = ledger.MustMoney("150000")
	d.Sync()
	assertMoney(t, "100000", d.PaidAmount, "paid never exceeds amount")
	assert.Equal(t, ledger.DebtPaid, d.Status)
	assert.True(t, d.IsPaid)

	d.PaidAmount = ledger.MustMoney("60000")
	d.Sync()
	assert.Equal(t, ledger.DebtPartial, d.Status)
	assertMoney(t, "40000", d.Due())
}

func TestStudentWithdraw_GatesOnBalance(t *testing.T) {
	s := &ledger.Student{Balance: ledger.MustMoney("50000")}

	assert.False(t, s.Withdraw(ledger.MustMoney("50001")), "cannot overdraw")
	assertMoney(t, "50000", s.Balance, "failed withdraw leaves balance alone")

	assert.True(t, s.Withdraw(ledger.MustMoney("50000")), "exact amount allowed")
	assertMoney(t, "0", s.Balance)

	s.Deposit(ledger.MustMoney("25000"))
	assertMoney(t, "25000", s.Balance)
	assert.True(t, s.HasSufficientBalance(ledger.MustMoney("25000")))
	assert.False(t, s.HasSufficientBalance(ledger.MustMoney("25001")))
}

func TestMonthHelpers(t *testing.T) {
	assert.Equal(t, ledger.Month("2024-03"),
		ledger.MonthOf(time.Date(2024, time.March, 31, 23, 59, 0, 0, time.UTC)))

	m, err := ledger.ParseMonth("2024-12")
	require.NoError(t, err)
	assert.Equal(t, ledger.Month("2024-12"), m)
	assert.Equal(t, ledger.Month("2025-01"), m.Next(), "rolls over the year")

	_, err = ledger.ParseMonth("2024-13")
	assert.Error(t, err)
	_, err = ledger.ParseMonth("march 2024")
	assert.Error(t, err)

	assert.True(t, ledger.Month("2024-01").Before("2024-02"))
	assert.True(t, ledger.Month("2023-12").Before("2024-01"), "string order matches time order")
	assert.False(t, ledger.Month("2024-02").Before("2024-02"))
}

func TestMoneyFromString(t *testing.T) {
	m, err := ledger.MoneyFromString("100000.005")
	require.NoError(t, err)
	assert.Equal(t, "100000.01", m.StringFixed(2), "rounds to two places")

	_, err = ledger.MoneyFromString("not money")
	assert.Error(t, err)
}
