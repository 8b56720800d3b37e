/*
seed.go - Demo dataset loader for testing and demonstrations

PURPOSE:

	Populates the database with a realistic tuition center: a few teachers,
	groups with monthly fees, enrolled students with varied balances, and a
	generator run so that fresh debts, auto-settlements and partial payments
	all show up immediately.

WHAT GETS CREATED:
 1. Two teachers
 2. Two groups (different monthly fees)
 3. Four students: broke, flush, partially funded, multi-group
 4. Enrollments across the groups
 5. One generator run for the current month
 6. One manual payment to demonstrate allocation

USAGE VIA API:

	POST /api/scenarios/seed

NOTE:

	Seeding does not reset existing data; run it on a fresh database.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Error mapping helpers
  - ledger/generate.go: The generator exercised here
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// SeedDemoData loads the demo dataset.
// POST /api/scenarios/seed
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	if err := h.seed(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) seed(ctx context.Context) error {
	existing, err := h.Store.ListStudents(ctx, "")
	if err != nil {
		return fmt.Errorf("seed precheck: %w", err)
	}
	if len(existing) > 0 {
		// Already seeded; a second call is a no-op.
		return nil
	}

	aliya := &ledger.Teacher{ID: ledger.NewTeacherID(), FullName: "Aliya Karimova", Phone: "+998901112233"}
	bekzod := &ledger.Teacher{ID: ledger.NewTeacherID(), FullName: "Bekzod Rustamov", Phone: "+998904445566"}
	for _, t := range []*ledger.Teacher{aliya, bekzod} {
		if err := h.Store.CreateTeacher(ctx, t); err != nil {
			return fmt.Errorf("seed teacher: %w", err)
		}
	}

	english := &ledger.Group{
		ID:         ledger.NewGroupID(),
		Name:       "English B2",
		MonthlyFee: ledger.MustMoney("100000"),
		TeacherID:  aliya.ID,
		StartDate:  h.Clock.Now().AddDate(0, -3, 0),
		LessonTime: "Mon/Wed/Fri 18:00",
	}
	math := &ledger.Group{
		ID:         ledger.NewGroupID(),
		Name:       "Math Olympiad",
		MonthlyFee: ledger.MustMoney("150000"),
		TeacherID:  bekzod.ID,
		StartDate:  h.Clock.Now().AddDate(0, -1, 0),
		LessonTime: "Tue/Thu 16:00",
	}
	for _, g := range []*ledger.Group{english, math} {
		if err := h.Store.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("seed group: %w", err)
		}
	}

	students := []struct {
		s      *ledger.Student
		groups []ledger.GroupID
	}{
		{
			// No balance: generator leaves an unpaid debt.
			s: &ledger.Student{
				ID: ledger.NewStudentID(), FullName: "Diyor Umarov",
				Phone: "+998935550001", Balance: ledger.MustMoney("0"),
				BirthDate: time.Date(2008, 4, 12, 0, 0, 0, 0, time.UTC),
			},
			groups: []ledger.GroupID{english.ID},
		},
		{
			// Covers the fee with room to spare: auto-paid.
			s: &ledger.Student{
				ID: ledger.NewStudentID(), FullName: "Madina Tosheva",
				Phone: "+998935550002", Balance: ledger.MustMoney("250000"),
				BirthDate: time.Date(2007, 9, 3, 0, 0, 0, 0, time.UTC),
			},
			groups: []ledger.GroupID{english.ID},
		},
		{
			// Less than the fee: auto-partial, balance drained to zero.
			s: &ledger.Student{
				ID: ledger.NewStudentID(), FullName: "Sardor Aliev",
				Phone: "+998935550003", Balance: ledger.MustMoney("60000"),
				BirthDate: time.Date(2009, 1, 27, 0, 0, 0, 0, time.UTC),
			},
			groups: []ledger.GroupID{math.ID},
		},
		{
			// Two groups, one balance.
			s: &ledger.Student{
				ID: ledger.NewStudentID(), FullName: "Zilola Nazarova",
				Phone: "+998935550004", Balance: ledger.MustMoney("120000"),
				BirthDate: time.Date(2008, 11, 19, 0, 0, 0, 0, time.UTC),
			},
			groups: []ledger.GroupID{english.ID, math.ID},
		},
	}
	for _, entry := range students {
		if err := h.Store.CreateStudent(ctx, entry.s); err != nil {
			return fmt.Errorf("seed student: %w", err)
		}
		for _, gid := range entry.groups {
			if err := h.Store.Enroll(ctx, gid, entry.s.ID); err != nil {
				return fmt.Errorf("seed enrollment: %w", err)
			}
		}
	}

	// Bill the current month so the dashboard has debts on it.
	if _, err := h.Generator.Run(ctx); err != nil {
		return fmt.Errorf("seed generator run: %w", err)
	}

	// One walk-in payment to show allocation against the fresh debt.
	_, err = h.Allocator.AllocatePayment(ctx, ledger.AllocationInput{
		StudentID: students[0].s.ID,
		GroupID:   english.ID,
		Amount:    ledger.MustMoney("40000"),
		Note:      "cash at front desk",
	})
	if err != nil {
		return fmt.Errorf("seed payment: %w", err)
	}
	return nil
}
