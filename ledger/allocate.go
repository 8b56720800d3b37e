/*
allocate.go - Debt allocation engine

PURPOSE:
  Applies an incoming payment amount against a student's outstanding debts
  for one group, oldest month first, spilling any remainder into the
  student's balance, and records exactly one Payment row for the whole
  amount.

ALGORITHM:
  1. Load outstanding debts for (student, group), month ascending.
  2. Pay each debt's due in order; persist every debt mutation immediately.
  3. Remainder (if any) is deposited into the balance, uncapped.
  4. One Payment row: typed "debt" iff any debt was touched, linked to the
     first (earliest-month) touched debt.

The whole sequence runs inside one transaction; any failure rolls back all
of it.
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// AllocationInput describes one incoming payment.
type AllocationInput struct {
	StudentID StudentID
	GroupID   GroupID
	Amount    decimal.Decimal // > 0
	Date      time.Time       // zero value = engine clock's today
	Note      string
}

// AppliedDebt records how much of the payment landed on one debt.
type AppliedDebt struct {
	DebtID  DebtID
	Month   Month
	Applied decimal.Decimal
	Status  DebtStatus // status after application
}

// AllocationResult reports where the money went. Applied is in allocation
// order (earliest month first). The persisted Payment still links only the
// first touched debt; the full breakdown lives in the result only.
type AllocationResult struct {
	Payment   *Payment
	Applied   []AppliedDebt
	ToBalance decimal.Decimal
}

// AllocationEngine allocates payments. Store owns persistence; Clock
// supplies the payment date when the input leaves it zero.
type AllocationEngine struct {
	Store TxStore
	Clock Clock
	Log   *slog.Logger
}

func NewAllocationEngine(store TxStore, clock Clock) *AllocationEngine {
	return &AllocationEngine{Store: store, Clock: clock, Log: slog.Default()}
}

// AllocatePayment validates the input, opens one transaction and allocates
// inside it. Use Allocate directly when the caller already owns a
// transaction handle.
func (e *AllocationEngine) AllocatePayment(ctx context.Context, in AllocationInput) (*AllocationResult, error) {
	if err := e.validate(in); err != nil {
		return nil, err
	}

	var result *AllocationResult
	err := e.Store.WithTx(ctx, func(tx Store) error {
		var err error
		result, err = e.Allocate(ctx, tx, in)
		return err
	})
	if err != nil {
		if _, ok := err.(*ValidationError); ok || IsNotFound(err) {
			return nil, err
		}
		return nil, &TransactionError{Op: "allocate payment", Err: err}
	}
	return result, nil
}

// Allocate runs the allocation against an already-active transaction
// handle. It never commits; the caller owns the boundary.
func (e *AllocationEngine) Allocate(ctx context.Context, tx Store, in AllocationInput) (*AllocationResult, error) {
	student, err := tx.GetStudent(ctx, in.StudentID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetGroup(ctx, in.GroupID); err != nil {
		return nil, err
	}

	debts, err := tx.OutstandingDebts(ctx, in.StudentID, in.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load outstanding debts: %w", err)
	}

	remaining := in.Amount
	paymentType := PaymentBalance
	var firstDebt *DebtID
	var applied []AppliedDebt

	for i := range debts {
		if !remaining.IsPositive() {
			break
		}
		debt := &debts[i]

		pay := applyToDebt(debt, remaining)
		if !pay.IsPositive() {
			continue
		}
		remaining = remaining.Sub(pay)

		// Per-debt persist: partial progress must be visible within the
		// same transaction.
		if err := tx.UpdateDebt(ctx, debt); err != nil {
			return nil, fmt.Errorf("update debt %s: %w", debt.ID, err)
		}

		paymentType = PaymentDebt
		if firstDebt == nil {
			id := debt.ID
			firstDebt = &id
		}
		applied = append(applied, AppliedDebt{
			DebtID:  debt.ID,
			Month:   debt.Month,
			Applied: pay,
			Status:  debt.Status,
		})
	}

	if remaining.IsPositive() {
		student.Deposit(remaining)
		if err := tx.UpdateStudent(ctx, student); err != nil {
			return nil, fmt.Errorf("update balance: %w", err)
		}
	}

	date := in.Date
	if date.IsZero() {
		date = e.Clock.Now()
	}

	payment := &Payment{
		ID:        NewPaymentID(),
		StudentID: in.StudentID,
		GroupID:   in.GroupID,
		Amount:    in.Amount,
		Date:      date,
		Note:      in.Note,
		Type:      paymentType,
		DebtID:    firstDebt,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	e.log().InfoContext(ctx, "payment allocated",
		"student", in.StudentID,
		"group", in.GroupID,
		"amount", in.Amount,
		"debts_touched", len(applied),
		"to_balance", remaining,
		"type", paymentType,
	)

	return &AllocationResult{
		Payment:   payment,
		Applied:   applied,
		ToBalance: remaining,
	}, nil
}

func (e *AllocationEngine) validate(in AllocationInput) error {
	v := NewValidationError()
	if in.StudentID == "" {
		v.Add("student_id", "required")
	}
	if in.GroupID == "" {
		v.Add("group_id", "required")
	}
	if !in.Amount.IsPositive() {
		v.Add("amount", "must be greater than zero")
	}
	return v.Err()
}

func (e *AllocationEngine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
