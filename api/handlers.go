/*
handlers.go - HTTP API handlers for the tuition ledger

PURPOSE:
  Exposes the tuition ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger engines.

ENDPOINTS:
  Students:
    GET    /api/students               List (search by name/phone)
    POST   /api/students               Create student
    GET    /api/students/{id}          Get student
    PUT    /api/students/{id}          Update student
    DELETE /api/students/{id}          Delete student
    GET    /api/students/{id}/debts    Debts for the student

  Teachers / Groups:
    Standard CRUD, plus group enrollment:
    POST   /api/groups/{id}/students   Enroll a student
    GET    /api/groups/{id}/students   List members

  Payments:
    GET    /api/payments               List (search/type filter)
    POST   /api/payments               Submit money -> allocation engine
    GET    /api/payments/{id}          Get payment
    DELETE /api/payments/{id}          Reverse and delete -> reversal engine

  Debts / Admin:
    GET    /api/debts                  List (search/status filter)
    GET    /api/debt-summary           Outstanding total for a pair
    POST   /api/admin/generate-debts   Run the monthly generator now
    GET    /api/dashboard              Operator totals
    POST   /api/scenarios/seed         Load the demo dataset (dev)

ARCHITECTURE:
  Handler holds the store and the three engines. Handlers parse and
  validate, call the engine or store, and serialize. Money arithmetic
  never happens here.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (field map included)
  - 404: Resource not found
  - 409: Conflict (duplicate phone, duplicate month)
  - 500: Transaction or internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo dataset loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     ledger.TxStore
	Allocator *ledger.AllocationEngine
	Reverser  *ledger.ReversalEngine
	Generator *ledger.Generator
	Clock     ledger.Clock
	Log       *slog.Logger
}

// NewHandler creates a handler with engines wired over the given store.
func NewHandler(store ledger.TxStore) *Handler {
	clock := ledger.SystemClock()
	return &Handler{
		Store:     store,
		Allocator: ledger.NewAllocationEngine(store, clock),
		Reverser:  ledger.NewReversalEngine(store),
		Generator: ledger.NewGenerator(store, clock),
		Clock:     clock,
		Log:       slog.Default(),
	}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students, optionally filtered by ?search=.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent creates a new student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := ledger.NewValidationError()
	if req.FullName == "" {
		v.Add("full_name", "required")
	}
	if req.Phone == "" {
		v.Add("phone", "required")
	}
	balance := ledger.MustMoney("0")
	if req.Balance != "" {
		b, err := ledger.MoneyFromString(req.Balance)
		if err != nil || b.IsNegative() {
			v.Add("balance", "must be a non-negative amount")
		} else {
			balance = b
		}
	}
	birthDate, ok := parseOptionalDate(req.BirthDate)
	if !ok {
		v.Add("birth_date", "must be YYYY-MM-DD")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	student := &ledger.Student{
		ID:        ledger.NewStudentID(),
		FullName:  req.FullName,
		Phone:     req.Phone,
		BirthDate: birthDate,
		Balance:   balance,
	}
	if err := h.Store.CreateStudent(r.Context(), student); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(*student))
}

// GetStudent returns a single student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))
	student, err := h.Store.GetStudent(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// UpdateStudent updates name, phone and birth date. Balance is not
// writable here: it only moves through payments and reversals.
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))

	var req StudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := ledger.NewValidationError()
	if req.FullName == "" {
		v.Add("full_name", "required")
	}
	if req.Phone == "" {
		v.Add("phone", "required")
	}
	birthDate, ok := parseOptionalDate(req.BirthDate)
	if !ok {
		v.Add("birth_date", "must be YYYY-MM-DD")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	student, err := h.Store.GetStudent(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	student.FullName = req.FullName
	student.Phone = req.Phone
	student.BirthDate = birthDate

	if err := h.Store.UpdateStudent(r.Context(), student); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*student))
}

// DeleteStudent removes a student.
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteStudent(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StudentDebts returns the student's debts, newest first.
func (h *Handler) StudentDebts(w http.ResponseWriter, r *http.Request) {
	id := ledger.StudentID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetStudent(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	debts, err := h.Store.ListDebts(r.Context(), ledger.DebtFilter{StudentID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debts", err)
		return
	}
	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TEACHER HANDLERS
// =============================================================================

func (h *Handler) ListTeachers(w http.ResponseWriter, r *http.Request) {
	teachers, err := h.Store.ListTeachers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list teachers", err)
		return
	}
	dtos := make([]TeacherDTO, len(teachers))
	for i, t := range teachers {
		dtos[i] = toTeacherDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req TeacherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	v := ledger.NewValidationError()
	if req.FullName == "" {
		v.Add("full_name", "required")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	teacher := &ledger.Teacher{
		ID:       ledger.NewTeacherID(),
		FullName: req.FullName,
		Phone:    req.Phone,
	}
	if err := h.Store.CreateTeacher(r.Context(), teacher); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTeacherDTO(*teacher))
}

func (h *Handler) GetTeacher(w http.ResponseWriter, r *http.Request) {
	id := ledger.TeacherID(chi.URLParam(r, "id"))
	teacher, err := h.Store.GetTeacher(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeacherDTO(*teacher))
}

func (h *Handler) UpdateTeacher(w http.ResponseWriter, r *http.Request) {
	id := ledger.TeacherID(chi.URLParam(r, "id"))

	var req TeacherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	v := ledger.NewValidationError()
	if req.FullName == "" {
		v.Add("full_name", "required")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	teacher, err := h.Store.GetTeacher(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	teacher.FullName = req.FullName
	teacher.Phone = req.Phone

	if err := h.Store.UpdateTeacher(r.Context(), teacher); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTeacherDTO(*teacher))
}

func (h *Handler) DeleteTeacher(w http.ResponseWriter, r *http.Request) {
	id := ledger.TeacherID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteTeacher(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups", err)
		return
	}
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := ledger.NewValidationError()
	if req.Name == "" {
		v.Add("name", "required")
	}
	fee, err := ledger.MoneyFromString(req.MonthlyFee)
	if err != nil || !fee.IsPositive() {
		v.Add("monthly_fee", "must be a positive amount")
	}
	startDate, ok := parseOptionalDate(req.StartDate)
	if !ok {
		v.Add("start_date", "must be YYYY-MM-DD")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if req.TeacherID != "" {
		if _, err := h.Store.GetTeacher(r.Context(), ledger.TeacherID(req.TeacherID)); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	group := &ledger.Group{
		ID:         ledger.NewGroupID(),
		Name:       req.Name,
		MonthlyFee: fee,
		TeacherID:  ledger.TeacherID(req.TeacherID),
		StartDate:  startDate,
		LessonTime: req.LessonTime,
	}
	if err := h.Store.CreateGroup(r.Context(), group); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(*group))
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	group, err := h.Store.GetGroup(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*group))
}

// UpdateGroup updates group details. A fee change only affects future
// debts; already-generated debts keep the amount they were billed at.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := ledger.NewValidationError()
	if req.Name == "" {
		v.Add("name", "required")
	}
	fee, err := ledger.MoneyFromString(req.MonthlyFee)
	if err != nil || !fee.IsPositive() {
		v.Add("monthly_fee", "must be a positive amount")
	}
	startDate, ok := parseOptionalDate(req.StartDate)
	if !ok {
		v.Add("start_date", "must be YYYY-MM-DD")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	group, err := h.Store.GetGroup(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	group.Name = req.Name
	group.MonthlyFee = fee
	group.TeacherID = ledger.TeacherID(req.TeacherID)
	group.StartDate = startDate
	group.LessonTime = req.LessonTime

	if err := h.Store.UpdateGroup(r.Context(), group); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*group))
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteGroup(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnrollStudent adds a student to a group. Enrolling twice is a no-op.
func (h *Handler) EnrollStudent(w http.ResponseWriter, r *http.Request) {
	groupID := ledger.GroupID(chi.URLParam(r, "id"))

	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StudentID == "" {
		v := ledger.NewValidationError()
		v.Add("student_id", "required")
		h.writeDomainError(w, v.Err())
		return
	}

	if err := h.Store.Enroll(r.Context(), groupID, ledger.StudentID(req.StudentID)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupStudents lists the group's members.
func (h *Handler) GroupStudents(w http.ResponseWriter, r *http.Request) {
	groupID := ledger.GroupID(chi.URLParam(r, "id"))
	students, err := h.Store.GroupStudents(r.Context(), groupID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// ListDebts lists debts with optional ?search=, ?status=, ?student_id=,
// ?group_id= filters.
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.DebtFilter{
		Search:    q.Get("search"),
		Status:    ledger.DebtStatus(q.Get("status")),
		StudentID: ledger.StudentID(q.Get("student_id")),
		GroupID:   ledger.GroupID(q.Get("group_id")),
	}

	debts, err := h.Store.ListDebts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debts", err)
		return
	}
	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DebtSummary returns the outstanding total for ?student_id=&group_id=.
func (h *Handler) DebtSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	studentID := ledger.StudentID(q.Get("student_id"))
	groupID := ledger.GroupID(q.Get("group_id"))

	v := ledger.NewValidationError()
	if studentID == "" {
		v.Add("student_id", "required")
	}
	if groupID == "" {
		v.Add("group_id", "required")
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	total, err := h.Store.OutstandingTotal(r.Context(), studentID, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute outstanding total", err)
		return
	}
	writeJSON(w, http.StatusOK, DebtSummaryDTO{
		StudentID:   string(studentID),
		GroupID:     string(groupID),
		Outstanding: total.StringFixed(2),
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments lists payments with optional ?search=, ?type=, ?student_id=.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.PaymentFilter{
		Search:    q.Get("search"),
		Type:      ledger.PaymentType(q.Get("type")),
		StudentID: ledger.StudentID(q.Get("student_id")),
	}

	payments, err := h.Store.ListPayments(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayment submits money and lets the allocation engine place it.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	v := ledger.NewValidationError()
	amount, err := ledger.MoneyFromString(req.Amount)
	if req.Amount == "" || err != nil {
		v.Add("amount", "must be a decimal amount")
		amount = ledger.MustMoney("0")
	}
	var date time.Time
	if req.Date != "" {
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			v.Add("date", "must be YYYY-MM-DD")
		}
	}
	if err := v.Err(); err != nil {
		h.writeDomainError(w, err)
		return
	}

	result, err := h.Allocator.AllocatePayment(r.Context(), ledger.AllocationInput{
		StudentID: ledger.StudentID(req.StudentID),
		GroupID:   ledger.GroupID(req.GroupID),
		Amount:    amount,
		Date:      date,
		Note:      req.Note,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationResultDTO(result))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	payment, err := h.Store.GetPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// DeletePayment reverses the payment's ledger effect and deletes it.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	if err := h.Reverser.ReversePayment(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN / DASHBOARD HANDLERS
// =============================================================================

// GenerateDebts runs the monthly generator for the current month.
// POST /api/admin/generate-debts
func (h *Handler) GenerateDebts(w http.ResponseWriter, r *http.Request) {
	report, err := h.Generator.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Debt generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunReportDTO(report))
}

// Dashboard returns operator totals.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Dashboard(r.Context(), h.Clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		Students:        stats.Students,
		Teachers:        stats.Teachers,
		Groups:          stats.Groups,
		TodayRevenue:    stats.TodayRevenue.StringFixed(2),
		OutstandingDebt: stats.OutstandingDebt.StringFixed(2),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps ledger errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *ledger.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: vErr.Fields,
		})
		return
	}
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.Log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// parseOptionalDate parses YYYY-MM-DD; empty is fine.
func parseOptionalDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
