/*
generate.go - Monthly debt generator

PURPOSE:
  Once per billing month, creates a Debt for every (group, enrolled student)
  pair and immediately tries to settle it from the student's existing
  balance via the Withdraw primitive.

RE-RUN SAFETY:
  A pair that already has a debt for the current month is skipped and
  logged, so the whole pass can be re-run after a crash: already-processed
  pairs produce no duplicates.

ISOLATION:
  Each pair gets its own transaction. One student's failure is logged and
  the run continues; the outer loop itself is not transactional.
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// RunReport accumulates the counts of one generator pass.
type RunReport struct {
	Month       Month
	Generated   int // new debts created
	AutoPaid    int // fully settled from balance
	AutoPartial int // partially settled from balance
	Skipped     int // debt already existed for the pair
	Failed      int // pair transactions rolled back
}

// Generator creates the month's debts. Store owns persistence; Clock
// determines the billing period.
type Generator struct {
	Store TxStore
	Clock Clock
	Log   *slog.Logger
}

func NewGenerator(store TxStore, clock Clock) *Generator {
	return &Generator{Store: store, Clock: clock, Log: slog.Default()}
}

// Run performs one pass over every group and enrolled student. It only
// returns an error when the group/student listing itself fails; per-pair
// failures are counted in the report and logged.
func (g *Generator) Run(ctx context.Context) (*RunReport, error) {
	month := MonthOf(g.Clock.Now())
	report := &RunReport{Month: month}
	log := g.log().With("month", month)

	log.InfoContext(ctx, "monthly debt generation started")

	groups, err := g.Store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	for i := range groups {
		group := &groups[i]

		students, err := g.Store.GroupStudents(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("list students of group %s: %w", group.ID, err)
		}

		for j := range students {
			student := &students[j]

			existing, err := g.Store.DebtByMonth(ctx, student.ID, group.ID, month)
			if err != nil {
				log.ErrorContext(ctx, "existence check failed",
					"student", student.ID, "group", group.ID, "error", err)
				report.Failed++
				continue
			}
			if existing != nil {
				log.WarnContext(ctx, "debt already exists, skipping",
					"student", student.ID, "group", group.ID)
				report.Skipped++
				continue
			}

			// Per-pair transaction: a failure rolls back this pair only.
			var status DebtStatus
			err = g.Store.WithTx(ctx, func(tx Store) error {
				var txErr error
				status, txErr = g.generatePair(ctx, tx, group, student.ID, month)
				return txErr
			})
			if err != nil {
				// The unique (student, group, month) index can still fire
				// under a concurrent run; treat it like the probe above.
				if IsConflict(err) {
					report.Skipped++
					continue
				}
				log.ErrorContext(ctx, "debt generation failed",
					"student", student.ID, "group", group.ID, "error", err)
				report.Failed++
				continue
			}

			report.Generated++
			switch status {
			case DebtPaid:
				report.AutoPaid++
			case DebtPartial:
				report.AutoPartial++
			}
		}
	}

	log.InfoContext(ctx, "monthly debt generation finished",
		"generated", report.Generated,
		"auto_paid", report.AutoPaid,
		"auto_partial", report.AutoPartial,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// generatePair creates the debt for one (group, student) pair and
// auto-settles it from the balance. Runs inside the pair's transaction.
func (g *Generator) generatePair(ctx context.Context, tx Store, group *Group, studentID StudentID, month Month) (DebtStatus, error) {
	// Re-read inside the transaction for a current balance.
	student, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return "", err
	}

	debt := &Debt{
		ID:        NewDebtID(),
		StudentID: studentID,
		GroupID:   group.ID,
		Amount:    group.MonthlyFee,
		Month:     month,
		Status:    DebtUnpaid,
	}

	var fromBalance = debt.PaidAmount // zero
	if student.Balance.IsPositive() {
		if student.HasSufficientBalance(debt.Amount) {
			fromBalance = debt.Amount
		} else {
			fromBalance = student.Balance
		}
		if !student.Withdraw(fromBalance) {
			return "", ErrInsufficientBalance
		}
		applyToDebt(debt, fromBalance)
		if err := tx.UpdateStudent(ctx, student); err != nil {
			return "", fmt.Errorf("update balance: %w", err)
		}
	}

	if err := tx.CreateDebt(ctx, debt); err != nil {
		return "", err
	}

	if fromBalance.IsPositive() {
		payment := &Payment{
			ID:        NewPaymentID(),
			StudentID: studentID,
			GroupID:   group.ID,
			Amount:    fromBalance,
			Date:      g.Clock.Now(),
			Note:      "automatic payment from balance for monthly debt",
			Type:      PaymentDebt,
			DebtID:    &debt.ID,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return "", fmt.Errorf("record auto payment: %w", err)
		}
	}

	return debt.Status, nil
}

func (g *Generator) log() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}
