/*
reverse.go - Payment reversal engine

PURPOSE:
  Undoes a payment's ledger effect before deleting the payment row, inside
  one transaction.

RULES:
  - type=debt with a linked debt: paid_amount -= payment.amount, clamped at
    zero. Reversal only ever lands on unpaid or partial; a paid debt had
    paid_amount == amount, so subtracting a positive payment always drops
    below it.
  - type=balance: the amount is subtracted from the balance directly, with
    no floor check. The balance can go negative here; this mirrors the
    documented behavior and is not silently "fixed".
  - The payment row is deleted last, after ledger effects are persisted.

A payment that spanned several debts carries only one debt link, so its
reversal restores only that debt. This is the documented lossy case.
*/
package ledger

import (
	"context"
	"log/slog"
)

// ReversalEngine undoes deleted payments.
type ReversalEngine struct {
	Store TxStore
	Log   *slog.Logger
}

func NewReversalEngine(store TxStore) *ReversalEngine {
	return &ReversalEngine{Store: store, Log: slog.Default()}
}

// ReversePayment opens one transaction, reverses the payment's ledger
// effect and deletes the row. On any failure the payment remains.
func (e *ReversalEngine) ReversePayment(ctx context.Context, id PaymentID) error {
	err := e.Store.WithTx(ctx, func(tx Store) error {
		return e.Reverse(ctx, tx, id)
	})
	if err != nil {
		if IsNotFound(err) {
			return err
		}
		return &TransactionError{Op: "reverse payment", Err: err}
	}
	return nil
}

// Reverse runs against an already-active transaction handle.
func (e *ReversalEngine) Reverse(ctx context.Context, tx Store, id PaymentID) error {
	payment, err := tx.GetPayment(ctx, id)
	if err != nil {
		return err
	}

	switch payment.Type {
	case PaymentDebt:
		if payment.DebtID != nil {
			if err := e.reverseDebt(ctx, tx, payment); err != nil {
				return err
			}
		}
	case PaymentBalance:
		student, err := tx.GetStudent(ctx, payment.StudentID)
		if err != nil {
			return err
		}
		// Direct subtraction, not Withdraw: reversal bypasses the balance
		// gate and may drive the balance negative.
		student.Balance = student.Balance.Sub(payment.Amount)
		if err := tx.UpdateStudent(ctx, student); err != nil {
			return err
		}
	}

	// Delete last, after ledger effects are persisted.
	if err := tx.DeletePayment(ctx, payment.ID); err != nil {
		return err
	}

	e.log().InfoContext(ctx, "payment reversed",
		"payment", payment.ID,
		"student", payment.StudentID,
		"amount", payment.Amount,
		"type", payment.Type,
	)
	return nil
}

func (e *ReversalEngine) reverseDebt(ctx context.Context, tx Store, payment *Payment) error {
	debt, err := tx.GetDebt(ctx, *payment.DebtID)
	if err != nil {
		if IsNotFound(err) {
			// Linked debt is gone; nothing to restore.
			e.log().WarnContext(ctx, "linked debt missing during reversal",
				"payment", payment.ID, "debt", *payment.DebtID)
			return nil
		}
		return err
	}

	debt.PaidAmount = debt.PaidAmount.Sub(payment.Amount)
	debt.Sync() // clamps below zero and recomputes unpaid/partial
	return tx.UpdateDebt(ctx, debt)
}

func (e *ReversalEngine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
