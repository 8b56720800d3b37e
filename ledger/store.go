/*
store.go - Persistence interface for the tuition ledger

PURPOSE:
  Defines the interface between the engines and the database. The engines
  never open or commit transactions implicitly: each one runs against a
  Store handle that the caller has already placed inside a transaction via
  TxStore.WithTx, or opens and owns exactly one transaction at its own
  entry point.

IMPLEMENTATIONS:
  - store/sqlite:      production SQLite store
  - ledger/store:      in-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - CRUD + the engine queries
// =============================================================================

// Store is the persistence surface shared by the engines and the API layer.
// Methods that look up a single record return the matching sentinel error
// when the record is missing; DebtByMonth instead returns (nil, nil) so the
// generator's existence probe stays a plain nil check.
type Store interface {
	// Students
	CreateStudent(ctx context.Context, s *Student) error
	GetStudent(ctx context.Context, id StudentID) (*Student, error)
	UpdateStudent(ctx context.Context, s *Student) error
	DeleteStudent(ctx context.Context, id StudentID) error
	ListStudents(ctx context.Context, search string) ([]Student, error)

	// Teachers
	CreateTeacher(ctx context.Context, t *Teacher) error
	GetTeacher(ctx context.Context, id TeacherID) (*Teacher, error)
	UpdateTeacher(ctx context.Context, t *Teacher) error
	DeleteTeacher(ctx context.Context, id TeacherID) error
	ListTeachers(ctx context.Context) ([]Teacher, error)

	// Groups and enrollment
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id GroupID) (*Group, error)
	UpdateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id GroupID) error
	ListGroups(ctx context.Context) ([]Group, error)
	Enroll(ctx context.Context, groupID GroupID, studentID StudentID) error
	GroupStudents(ctx context.Context, groupID GroupID) ([]Student, error)

	// Debts
	CreateDebt(ctx context.Context, d *Debt) error
	GetDebt(ctx context.Context, id DebtID) (*Debt, error)
	UpdateDebt(ctx context.Context, d *Debt) error
	ListDebts(ctx context.Context, f DebtFilter) ([]Debt, error)

	// DebtByMonth returns the debt for the triple, or (nil, nil) if none.
	// This is the generator's idempotency probe.
	DebtByMonth(ctx context.Context, studentID StudentID, groupID GroupID, month Month) (*Debt, error)

	// OutstandingDebts returns debts with status != paid for the pair,
	// ordered by month ascending (oldest period first). This ordering is
	// the allocation tie-break rule.
	OutstandingDebts(ctx context.Context, studentID StudentID, groupID GroupID) ([]Debt, error)

	// OutstandingTotal sums amount - paid_amount over outstanding debts.
	OutstandingTotal(ctx context.Context, studentID StudentID, groupID GroupID) (decimal.Decimal, error)

	// Payments
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	DeletePayment(ctx context.Context, id PaymentID) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)

	// Dashboard aggregates for the operator view.
	Dashboard(ctx context.Context, today time.Time) (*DashboardStats, error)
}

// TxStore extends Store with an explicit transaction boundary.
type TxStore interface {
	Store

	// WithTx executes fn within one atomic transaction. fn's Store handle
	// is only valid until fn returns. Any error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS / AGGREGATES
// =============================================================================

// DebtFilter narrows ListDebts. Zero value lists everything.
type DebtFilter struct {
	Search    string // matches student name, group name, month or amount
	Status    DebtStatus
	StudentID StudentID
	GroupID   GroupID
}

// PaymentFilter narrows ListPayments. Zero value lists everything.
type PaymentFilter struct {
	Search    string // matches student name, group name, note or amount
	Type      PaymentType
	StudentID StudentID
}

// DashboardStats is the operator dashboard snapshot.
type DashboardStats struct {
	Students        int
	Teachers        int
	Groups          int
	TodayRevenue    decimal.Decimal
	OutstandingDebt decimal.Decimal
}
