/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All money fields travel as strings with two fractional digits
  ("150000.00"), never JSON numbers. Clients must not do float math on
  tuition amounts any more than the server does.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain entities these map from
*/
package api

import (
	"time"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// =============================================================================
// STUDENTS
// =============================================================================

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birth_date,omitempty"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"created_at,omitempty"`
}

// StudentRequest is the body for creating or updating a student.
// Balance is accepted on create for imports; it is ignored on update
// because balances only move through payments and reversals.
type StudentRequest struct {
	FullName  string `json:"full_name"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birth_date"`
	Balance   string `json:"balance"`
}

func toStudentDTO(s ledger.Student) StudentDTO {
	return StudentDTO{
		ID:        string(s.ID),
		FullName:  s.FullName,
		Phone:     s.Phone,
		BirthDate: fmtDate(s.BirthDate),
		Balance:   s.Balance.StringFixed(2),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// TEACHERS
// =============================================================================

type TeacherDTO struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type TeacherRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func toTeacherDTO(t ledger.Teacher) TeacherDTO {
	return TeacherDTO{
		ID:        string(t.ID),
		FullName:  t.FullName,
		Phone:     t.Phone,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// GROUPS
// =============================================================================

type GroupDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MonthlyFee string `json:"monthly_fee"`
	TeacherID  string `json:"teacher_id,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	LessonTime string `json:"lesson_time,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type GroupRequest struct {
	Name       string `json:"name"`
	MonthlyFee string `json:"monthly_fee"`
	TeacherID  string `json:"teacher_id"`
	StartDate  string `json:"start_date"`
	LessonTime string `json:"lesson_time"`
}

// EnrollRequest adds a student to a group.
type EnrollRequest struct {
	StudentID string `json:"student_id"`
}

func toGroupDTO(g ledger.Group) GroupDTO {
	return GroupDTO{
		ID:         string(g.ID),
		Name:       g.Name,
		MonthlyFee: g.MonthlyFee.StringFixed(2),
		TeacherID:  string(g.TeacherID),
		StartDate:  fmtDate(g.StartDate),
		LessonTime: g.LessonTime,
		CreatedAt:  g.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// DEBTS
// =============================================================================

type DebtDTO struct {
	ID         string `json:"id"`
	StudentID  string `json:"student_id"`
	GroupID    string `json:"group_id"`
	Amount     string `json:"amount"`
	PaidAmount string `json:"paid_amount"`
	Due        string `json:"due"`
	Month      string `json:"month"`
	Status     string `json:"status"`
	IsPaid     bool   `json:"is_paid"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func toDebtDTO(d ledger.Debt) DebtDTO {
	return DebtDTO{
		ID:         string(d.ID),
		StudentID:  string(d.StudentID),
		GroupID:    string(d.GroupID),
		Amount:     d.Amount.StringFixed(2),
		PaidAmount: d.PaidAmount.StringFixed(2),
		Due:        d.Due().StringFixed(2),
		Month:      d.Month.String(),
		Status:     string(d.Status),
		IsPaid:     d.IsPaid,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
}

// DebtSummaryDTO is the outstanding total for a (student, group) pair.
type DebtSummaryDTO struct {
	StudentID   string `json:"student_id"`
	GroupID     string `json:"group_id"`
	Outstanding string `json:"outstanding"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID        string  `json:"id"`
	StudentID string  `json:"student_id"`
	GroupID   string  `json:"group_id"`
	Amount    string  `json:"amount"`
	Date      string  `json:"date"`
	Note      string  `json:"note,omitempty"`
	Type      string  `json:"type"`
	DebtID    *string `json:"debt_id"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// CreatePaymentRequest submits money for a student in a group. The server
// decides where it lands; callers never pick a debt.
type CreatePaymentRequest struct {
	StudentID string `json:"student_id"`
	GroupID   string `json:"group_id"`
	Amount    string `json:"amount"`
	Date      string `json:"date"`
	Note      string `json:"note"`
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:        string(p.ID),
		StudentID: string(p.StudentID),
		GroupID:   string(p.GroupID),
		Amount:    p.Amount.StringFixed(2),
		Date:      p.Date.Format(time.RFC3339),
		Note:      p.Note,
		Type:      string(p.Type),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.DebtID != nil {
		id := string(*p.DebtID)
		dto.DebtID = &id
	}
	return dto
}

// AppliedDebtDTO is one debt touched by an allocation.
type AppliedDebtDTO struct {
	DebtID  string `json:"debt_id"`
	Month   string `json:"month"`
	Applied string `json:"applied"`
	Status  string `json:"status"`
}

// AllocationResultDTO is the response to POST /api/payments.
type AllocationResultDTO struct {
	Payment   PaymentDTO       `json:"payment"`
	Applied   []AppliedDebtDTO `json:"applied"`
	ToBalance string           `json:"to_balance"`
}

func toAllocationResultDTO(res *ledger.AllocationResult) AllocationResultDTO {
	applied := make([]AppliedDebtDTO, len(res.Applied))
	for i, a := range res.Applied {
		applied[i] = AppliedDebtDTO{
			DebtID:  string(a.DebtID),
			Month:   a.Month.String(),
			Applied: a.Applied.StringFixed(2),
			Status:  string(a.Status),
		}
	}
	return AllocationResultDTO{
		Payment:   toPaymentDTO(*res.Payment),
		Applied:   applied,
		ToBalance: res.ToBalance.StringFixed(2),
	}
}

// =============================================================================
// ADMIN / DASHBOARD
// =============================================================================

// RunReportDTO is the response to POST /api/admin/generate-debts.
type RunReportDTO struct {
	Month       string `json:"month"`
	Generated   int    `json:"generated"`
	AutoPaid    int    `json:"auto_paid"`
	AutoPartial int    `json:"auto_partial"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
}

func toRunReportDTO(r *ledger.RunReport) RunReportDTO {
	return RunReportDTO{
		Month:       r.Month.String(),
		Generated:   r.Generated,
		AutoPaid:    r.AutoPaid,
		AutoPartial: r.AutoPartial,
		Skipped:     r.Skipped,
		Failed:      r.Failed,
	}
}

// DashboardDTO is the operator dashboard snapshot.
type DashboardDTO struct {
	Students        int    `json:"students"`
	Teachers        int    `json:"teachers"`
	Groups          int    `json:"groups"`
	TodayRevenue    string `json:"today_revenue"`
	OutstandingDebt string `json:"outstanding_debt"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
