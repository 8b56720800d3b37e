/*
Package ledger provides the core tuition ledger engine.

PURPOSE:
  This package contains the entities and algorithms for tracking tuition
  money: student balances, monthly debts per group, and payments. The three
  engines (allocation, monthly generation, reversal) all operate on these
  primitives through a transactional Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student: owns a spendable balance; Deposit/Withdraw are the only
    mutation points
  - Group: a class with a monthly fee and an assigned teacher
  - Debt: one billing obligation for (student, group, month)
  - Payment: a recorded incoming amount, typed by where it landed

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal with 2 fractional digits, never float
  2. Derived state: Debt.Status is always computed from (paid, amount),
     never set independently
  3. Type safety: distinct ID types prevent mixing student/group/debt IDs

SEE ALSO:
  - allocate.go: applies a payment against outstanding debts
  - generate.go: creates the month's debts and auto-settles from balance
  - reverse.go: undoes a deleted payment's ledger effect
  - store.go: persistence interface
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID string
type TeacherID string
type GroupID string
type DebtID string
type PaymentID string

func NewStudentID() StudentID { return StudentID(uuid.NewString()) }
func NewTeacherID() TeacherID { return TeacherID(uuid.NewString()) }
func NewGroupID() GroupID     { return GroupID(uuid.NewString()) }
func NewDebtID() DebtID       { return DebtID(uuid.NewString()) }
func NewPaymentID() PaymentID { return PaymentID(uuid.NewString()) }

// =============================================================================
// MONEY
// =============================================================================

// Money values are decimal with 2 fractional digits. These helpers exist so
// call sites never reach for float64.

func MoneyFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}

func MustMoney(s string) decimal.Decimal {
	d, err := MoneyFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// STUDENT - Balance primitives
// =============================================================================

// Student is the owner of debts, payments and a spendable balance.
// Balance is non-debt-earmarked credit, usable against any future debt.
type Student struct {
	ID        StudentID
	FullName  string
	Phone     string // unique
	BirthDate time.Time
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Deposit adds to the balance. Mutates in memory only; the caller persists
// the student inside its transaction.
func (s *Student) Deposit(amount decimal.Decimal) {
	s.Balance = s.Balance.Add(amount)
}

// Withdraw subtracts from the balance if and only if it covers the amount.
// This is the single authorization gate for spending from balance; nothing
// else may subtract unchecked.
func (s *Student) Withdraw(amount decimal.Decimal) bool {
	if !s.HasSufficientBalance(amount) {
		return false
	}
	s.Balance = s.Balance.Sub(amount)
	return true
}

// HasSufficientBalance reports whether the balance covers amount.
func (s *Student) HasSufficientBalance(amount decimal.Decimal) bool {
	return s.Balance.GreaterThanOrEqual(amount)
}

// =============================================================================
// TEACHER / GROUP
// =============================================================================

type Teacher struct {
	ID        TeacherID
	FullName  string
	Phone     string
	CreatedAt time.Time
}

// Group is a class that bills each enrolled student MonthlyFee per month.
// The fee is copied into Debt.Amount at creation; changing it later never
// rewrites past debts.
type Group struct {
	ID         GroupID
	Name       string
	MonthlyFee decimal.Decimal // > 0
	TeacherID  TeacherID
	StartDate  time.Time
	LessonTime string
	CreatedAt  time.Time
}

// =============================================================================
// DEBT - Status is derived, never free text
// =============================================================================

type DebtStatus string

const (
	DebtUnpaid  DebtStatus = "unpaid"
	DebtPartial DebtStatus = "partial"
	DebtPaid    DebtStatus = "paid"
)

// DeriveStatus is the single mapping from (paid, amount) to status:
// paid == 0 -> unpaid; 0 < paid < amount -> partial; paid >= amount -> paid.
func DeriveStatus(paid, amount decimal.Decimal) DebtStatus {
	switch {
	case !paid.IsPositive():
		return DebtUnpaid
	case paid.LessThan(amount):
		return DebtPartial
	default:
		return DebtPaid
	}
}

// Debt is one billing obligation for (student, group, month).
// At most one Debt exists per triple; the store enforces it.
type Debt struct {
	ID         DebtID
	StudentID  StudentID
	GroupID    GroupID
	Amount     decimal.Decimal // fixed at creation
	PaidAmount decimal.Decimal // 0 <= PaidAmount <= Amount
	Month      Month
	Status     DebtStatus
	IsPaid     bool // redundant with Status == DebtPaid
	CreatedAt  time.Time
}

// Due returns the unpaid remainder.
func (d *Debt) Due() decimal.Decimal {
	return d.Amount.Sub(d.PaidAmount)
}

// Sync clamps PaidAmount into [0, Amount] and recomputes Status/IsPaid.
// Every mutation of PaidAmount must be followed by Sync.
func (d *Debt) Sync() {
	if d.PaidAmount.IsNegative() {
		d.PaidAmount = decimal.Zero
	}
	if d.PaidAmount.GreaterThan(d.Amount) {
		d.PaidAmount = d.Amount
	}
	d.Status = DeriveStatus(d.PaidAmount, d.Amount)
	d.IsPaid = d.Status == DebtPaid
}

// applyToDebt pays min(due, available) into the debt and syncs its status.
// Both the allocation engine and the monthly generator settle debts through
// this one helper so the two call sites cannot drift.
func applyToDebt(d *Debt, available decimal.Decimal) decimal.Decimal {
	due := d.Due()
	pay := decimal.Min(due, available)
	if !pay.IsPositive() {
		return decimal.Zero
	}
	d.PaidAmount = d.PaidAmount.Add(pay)
	d.Sync()
	return pay
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentType string

const (
	PaymentDebt    PaymentType = "debt"    // touched at least one debt
	PaymentBalance PaymentType = "balance" // went entirely to balance
)

// Payment records one incoming amount. DebtID links the first (earliest
// month) debt the payment touched, or nil when nothing was touched. A
// payment spanning several debts still records a single link; reversal of
// such a payment is documented as lossy.
type Payment struct {
	ID        PaymentID
	StudentID StudentID
	GroupID   GroupID
	Amount    decimal.Decimal // > 0
	Date      time.Time
	Note      string
	Type      PaymentType
	DebtID    *DebtID
	CreatedAt time.Time
}
