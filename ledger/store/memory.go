// Package store provides an in-memory ledger.Store implementation for
// tests and development. The production store lives in store/sqlite.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory is a mutex-guarded in-memory Store. All operations are implemented
// unlocked on core; Memory adds locking and the transactional view reuses
// core while WithTx holds the mutex.
type Memory struct {
	mu sync.RWMutex
	core
}

type core struct {
	students    map[ledger.StudentID]ledger.Student
	teachers    map[ledger.TeacherID]ledger.Teacher
	groups      map[ledger.GroupID]ledger.Group
	enrollments map[ledger.GroupID][]ledger.StudentID
	debts       map[ledger.DebtID]ledger.Debt
	payments    map[ledger.PaymentID]ledger.Payment
}

func newCore() core {
	return core{
		students:    make(map[ledger.StudentID]ledger.Student),
		teachers:    make(map[ledger.TeacherID]ledger.Teacher),
		groups:      make(map[ledger.GroupID]ledger.Group),
		enrollments: make(map[ledger.GroupID][]ledger.StudentID),
		debts:       make(map[ledger.DebtID]ledger.Debt),
		payments:    make(map[ledger.PaymentID]ledger.Payment),
	}
}

func NewMemory() *Memory {
	return &Memory{core: newCore()}
}

// -----------------------------------------------------------------------------
// Students
// -----------------------------------------------------------------------------

func (c *core) createStudent(s *ledger.Student) error {
	for _, other := range c.students {
		if other.Phone == s.Phone {
			return ledger.ErrPhoneTaken
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	c.students[s.ID] = *s
	return nil
}

func (c *core) getStudent(id ledger.StudentID) (*ledger.Student, error) {
	s, ok := c.students[id]
	if !ok {
		return nil, ledger.ErrStudentNotFound
	}
	return &s, nil
}

func (c *core) updateStudent(s *ledger.Student) error {
	if _, ok := c.students[s.ID]; !ok {
		return ledger.ErrStudentNotFound
	}
	c.students[s.ID] = *s
	return nil
}

func (c *core) deleteStudent(id ledger.StudentID) error {
	if _, ok := c.students[id]; !ok {
		return ledger.ErrStudentNotFound
	}
	delete(c.students, id)
	return nil
}

func (c *core) listStudents(search string) ([]ledger.Student, error) {
	q := strings.ToLower(search)
	var out []ledger.Student
	for _, s := range c.students {
		if q != "" &&
			!strings.Contains(strings.ToLower(s.FullName), q) &&
			!strings.Contains(s.Phone, q) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// -----------------------------------------------------------------------------
// Teachers
// -----------------------------------------------------------------------------

func (c *core) createTeacher(t *ledger.Teacher) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	c.teachers[t.ID] = *t
	return nil
}

func (c *core) getTeacher(id ledger.TeacherID) (*ledger.Teacher, error) {
	t, ok := c.teachers[id]
	if !ok {
		return nil, ledger.ErrTeacherNotFound
	}
	return &t, nil
}

func (c *core) updateTeacher(t *ledger.Teacher) error {
	if _, ok := c.teachers[t.ID]; !ok {
		return ledger.ErrTeacherNotFound
	}
	c.teachers[t.ID] = *t
	return nil
}

func (c *core) deleteTeacher(id ledger.TeacherID) error {
	if _, ok := c.teachers[id]; !ok {
		return ledger.ErrTeacherNotFound
	}
	delete(c.teachers, id)
	return nil
}

func (c *core) listTeachers() ([]ledger.Teacher, error) {
	out := make([]ledger.Teacher, 0, len(c.teachers))
	for _, t := range c.teachers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// -----------------------------------------------------------------------------
// Groups and enrollment
// -----------------------------------------------------------------------------

func (c *core) createGroup(g *ledger.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	c.groups[g.ID] = *g
	return nil
}

func (c *core) getGroup(id ledger.GroupID) (*ledger.Group, error) {
	g, ok := c.groups[id]
	if !ok {
		return nil, ledger.ErrGroupNotFound
	}
	return &g, nil
}

func (c *core) updateGroup(g *ledger.Group) error {
	if _, ok := c.groups[g.ID]; !ok {
		return ledger.ErrGroupNotFound
	}
	c.groups[g.ID] = *g
	return nil
}

func (c *core) deleteGroup(id ledger.GroupID) error {
	if _, ok := c.groups[id]; !ok {
		return ledger.ErrGroupNotFound
	}
	delete(c.groups, id)
	delete(c.enrollments, id)
	return nil
}

func (c *core) listGroups() ([]ledger.Group, error) {
	out := make([]ledger.Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *core) enroll(groupID ledger.GroupID, studentID ledger.StudentID) error {
	if _, ok := c.groups[groupID]; !ok {
		return ledger.ErrGroupNotFound
	}
	if _, ok := c.students[studentID]; !ok {
		return ledger.ErrStudentNotFound
	}
	for _, id := range c.enrollments[groupID] {
		if id == studentID {
			return nil // already enrolled
		}
	}
	c.enrollments[groupID] = append(c.enrollments[groupID], studentID)
	return nil
}

func (c *core) groupStudents(groupID ledger.GroupID) ([]ledger.Student, error) {
	if _, ok := c.groups[groupID]; !ok {
		return nil, ledger.ErrGroupNotFound
	}
	var out []ledger.Student
	for _, id := range c.enrollments[groupID] {
		if s, ok := c.students[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// -----------------------------------------------------------------------------
// Debts
// -----------------------------------------------------------------------------

func (c *core) createDebt(d *ledger.Debt) error {
	for _, other := range c.debts {
		if other.StudentID == d.StudentID && other.GroupID == d.GroupID && other.Month == d.Month {
			return ledger.ErrDebtExists
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	c.debts[d.ID] = *d
	return nil
}

func (c *core) getDebt(id ledger.DebtID) (*ledger.Debt, error) {
	d, ok := c.debts[id]
	if !ok {
		return nil, ledger.ErrDebtNotFound
	}
	return &d, nil
}

func (c *core) updateDebt(d *ledger.Debt) error {
	if _, ok := c.debts[d.ID]; !ok {
		return ledger.ErrDebtNotFound
	}
	c.debts[d.ID] = *d
	return nil
}

func (c *core) debtByMonth(studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	for _, d := range c.debts {
		if d.StudentID == studentID && d.GroupID == groupID && d.Month == month {
			out := d
			return &out, nil
		}
	}
	return nil, nil
}

func (c *core) outstandingDebts(studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	var out []ledger.Debt
	for _, d := range c.debts {
		if d.StudentID == studentID && d.GroupID == groupID && d.Status != ledger.DebtPaid {
			out = append(out, d)
		}
	}
	// Oldest period first: the allocation tie-break rule.
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (c *core) outstandingTotal(studentID ledger.StudentID, groupID ledger.GroupID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, d := range c.debts {
		if d.StudentID == studentID && d.GroupID == groupID && d.Status != ledger.DebtPaid {
			total = total.Add(d.Due())
		}
	}
	return total, nil
}

func (c *core) listDebts(f ledger.DebtFilter) ([]ledger.Debt, error) {
	q := strings.ToLower(f.Search)
	var out []ledger.Debt
	for _, d := range c.debts {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.StudentID != "" && d.StudentID != f.StudentID {
			continue
		}
		if f.GroupID != "" && d.GroupID != f.GroupID {
			continue
		}
		if q != "" && !c.debtMatches(d, q) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c *core) debtMatches(d ledger.Debt, q string) bool {
	if strings.Contains(string(d.Month), q) || strings.Contains(d.Amount.String(), q) {
		return true
	}
	if s, ok := c.students[d.StudentID]; ok && strings.Contains(strings.ToLower(s.FullName), q) {
		return true
	}
	if g, ok := c.groups[d.GroupID]; ok && strings.Contains(strings.ToLower(g.Name), q) {
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

func (c *core) createPayment(p *ledger.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	c.payments[p.ID] = *p
	return nil
}

func (c *core) getPayment(id ledger.PaymentID) (*ledger.Payment, error) {
	p, ok := c.payments[id]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	return &p, nil
}

func (c *core) deletePayment(id ledger.PaymentID) error {
	if _, ok := c.payments[id]; !ok {
		return ledger.ErrPaymentNotFound
	}
	delete(c.payments, id)
	return nil
}

func (c *core) listPayments(f ledger.PaymentFilter) ([]ledger.Payment, error) {
	q := strings.ToLower(f.Search)
	var out []ledger.Payment
	for _, p := range c.payments {
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		if f.StudentID != "" && p.StudentID != f.StudentID {
			continue
		}
		if q != "" && !c.paymentMatches(p, q) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (c *core) paymentMatches(p ledger.Payment, q string) bool {
	if strings.Contains(strings.ToLower(p.Note), q) || strings.Contains(p.Amount.String(), q) {
		return true
	}
	if s, ok := c.students[p.StudentID]; ok && strings.Contains(strings.ToLower(s.FullName), q) {
		return true
	}
	if g, ok := c.groups[p.GroupID]; ok && strings.Contains(strings.ToLower(g.Name), q) {
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Dashboard
// -----------------------------------------------------------------------------

func (c *core) dashboard(today time.Time) (*ledger.DashboardStats, error) {
	stats := &ledger.DashboardStats{
		Students:        len(c.students),
		Teachers:        len(c.teachers),
		Groups:          len(c.groups),
		TodayRevenue:    decimal.Zero,
		OutstandingDebt: decimal.Zero,
	}
	y, mo, d := today.Date()
	for _, p := range c.payments {
		py, pmo, pd := p.Date.Date()
		if py == y && pmo == mo && pd == d {
			stats.TodayRevenue = stats.TodayRevenue.Add(p.Amount)
		}
	}
	for _, debt := range c.debts {
		if debt.Status != ledger.DebtPaid {
			stats.OutstandingDebt = stats.OutstandingDebt.Add(debt.Due())
		}
	}
	return stats, nil
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) CreateStudent(_ context.Context, s *ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createStudent(s)
}

func (m *Memory) GetStudent(_ context.Context, id ledger.StudentID) (*ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStudent(id)
}

func (m *Memory) UpdateStudent(_ context.Context, s *ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStudent(s)
}

func (m *Memory) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteStudent(id)
}

func (m *Memory) ListStudents(_ context.Context, search string) ([]ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStudents(search)
}

func (m *Memory) CreateTeacher(_ context.Context, t *ledger.Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTeacher(t)
}

func (m *Memory) GetTeacher(_ context.Context, id ledger.TeacherID) (*ledger.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTeacher(id)
}

func (m *Memory) UpdateTeacher(_ context.Context, t *ledger.Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTeacher(t)
}

func (m *Memory) DeleteTeacher(_ context.Context, id ledger.TeacherID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTeacher(id)
}

func (m *Memory) ListTeachers(_ context.Context) ([]ledger.Teacher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTeachers()
}

func (m *Memory) CreateGroup(_ context.Context, g *ledger.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createGroup(g)
}

func (m *Memory) GetGroup(_ context.Context, id ledger.GroupID) (*ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getGroup(id)
}

func (m *Memory) UpdateGroup(_ context.Context, g *ledger.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateGroup(g)
}

func (m *Memory) DeleteGroup(_ context.Context, id ledger.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteGroup(id)
}

func (m *Memory) ListGroups(_ context.Context) ([]ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listGroups()
}

func (m *Memory) Enroll(_ context.Context, groupID ledger.GroupID, studentID ledger.StudentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enroll(groupID, studentID)
}

func (m *Memory) GroupStudents(_ context.Context, groupID ledger.GroupID) ([]ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groupStudents(groupID)
}

func (m *Memory) CreateDebt(_ context.Context, d *ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createDebt(d)
}

func (m *Memory) GetDebt(_ context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDebt(id)
}

func (m *Memory) UpdateDebt(_ context.Context, d *ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateDebt(d)
}

func (m *Memory) DebtByMonth(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.debtByMonth(studentID, groupID, month)
}

func (m *Memory) OutstandingDebts(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outstandingDebts(studentID, groupID)
}

func (m *Memory) OutstandingTotal(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outstandingTotal(studentID, groupID)
}

func (m *Memory) ListDebts(_ context.Context, f ledger.DebtFilter) ([]ledger.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDebts(f)
}

func (m *Memory) CreatePayment(_ context.Context, p *ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPayment(p)
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayment(id)
}

func (m *Memory) DeletePayment(_ context.Context, id ledger.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePayment(id)
}

func (m *Memory) ListPayments(_ context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayments(f)
}

func (m *Memory) Dashboard(_ context.Context, today time.Time) (*ledger.DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dashboard(today)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot of the tables that is restored when fn fails.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.core.snapshot()
	if err := fn(&txMemoryView{core: &tm.core}); err != nil {
		tm.core = snapshot
		return err
	}
	return nil
}

func (c *core) snapshot() core {
	cp := newCore()
	for k, v := range c.students {
		cp.students[k] = v
	}
	for k, v := range c.teachers {
		cp.teachers[k] = v
	}
	for k, v := range c.groups {
		cp.groups[k] = v
	}
	for k, v := range c.enrollments {
		cp.enrollments[k] = append([]ledger.StudentID{}, v...)
	}
	for k, v := range c.debts {
		cp.debts[k] = v
	}
	for k, v := range c.payments {
		cp.payments[k] = v
	}
	return cp
}

// txMemoryView exposes core as a ledger.Store without re-locking; the
// surrounding WithTx already holds the mutex.
type txMemoryView struct {
	core *core
}

func (v *txMemoryView) CreateStudent(_ context.Context, s *ledger.Student) error {
	return v.core.createStudent(s)
}

func (v *txMemoryView) GetStudent(_ context.Context, id ledger.StudentID) (*ledger.Student, error) {
	return v.core.getStudent(id)
}

func (v *txMemoryView) UpdateStudent(_ context.Context, s *ledger.Student) error {
	return v.core.updateStudent(s)
}

func (v *txMemoryView) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	return v.core.deleteStudent(id)
}

func (v *txMemoryView) ListStudents(_ context.Context, search string) ([]ledger.Student, error) {
	return v.core.listStudents(search)
}

func (v *txMemoryView) CreateTeacher(_ context.Context, t *ledger.Teacher) error {
	return v.core.createTeacher(t)
}

func (v *txMemoryView) GetTeacher(_ context.Context, id ledger.TeacherID) (*ledger.Teacher, error) {
	return v.core.getTeacher(id)
}

func (v *txMemoryView) UpdateTeacher(_ context.Context, t *ledger.Teacher) error {
	return v.core.updateTeacher(t)
}

func (v *txMemoryView) DeleteTeacher(_ context.Context, id ledger.TeacherID) error {
	return v.core.deleteTeacher(id)
}

func (v *txMemoryView) ListTeachers(_ context.Context) ([]ledger.Teacher, error) {
	return v.core.listTeachers()
}

func (v *txMemoryView) CreateGroup(_ context.Context, g *ledger.Group) error {
	return v.core.createGroup(g)
}

func (v *txMemoryView) GetGroup(_ context.Context, id ledger.GroupID) (*ledger.Group, error) {
	return v.core.getGroup(id)
}

func (v *txMemoryView) UpdateGroup(_ context.Context, g *ledger.Group) error {
	return v.core.updateGroup(g)
}

func (v *txMemoryView) DeleteGroup(_ context.Context, id ledger.GroupID) error {
	return v.core.deleteGroup(id)
}

func (v *txMemoryView) ListGroups(_ context.Context) ([]ledger.Group, error) {
	return v.core.listGroups()
}

func (v *txMemoryView) Enroll(_ context.Context, groupID ledger.GroupID, studentID ledger.StudentID) error {
	return v.core.enroll(groupID, studentID)
}

func (v *txMemoryView) GroupStudents(_ context.Context, groupID ledger.GroupID) ([]ledger.Student, error) {
	return v.core.groupStudents(groupID)
}

func (v *txMemoryView) CreateDebt(_ context.Context, d *ledger.Debt) error {
	return v.core.createDebt(d)
}

func (v *txMemoryView) GetDebt(_ context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	return v.core.getDebt(id)
}

func (v *txMemoryView) UpdateDebt(_ context.Context, d *ledger.Debt) error {
	return v.core.updateDebt(d)
}

func (v *txMemoryView) DebtByMonth(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	return v.core.debtByMonth(studentID, groupID, month)
}

func (v *txMemoryView) OutstandingDebts(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	return v.core.outstandingDebts(studentID, groupID)
}

func (v *txMemoryView) OutstandingTotal(_ context.Context, studentID ledger.StudentID, groupID ledger.GroupID) (decimal.Decimal, error) {
	return v.core.outstandingTotal(studentID, groupID)
}

func (v *txMemoryView) ListDebts(_ context.Context, f ledger.DebtFilter) ([]ledger.Debt, error) {
	return v.core.listDebts(f)
}

func (v *txMemoryView) CreatePayment(_ context.Context, p *ledger.Payment) error {
	return v.core.createPayment(p)
}

func (v *txMemoryView) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return v.core.getPayment(id)
}

func (v *txMemoryView) DeletePayment(_ context.Context, id ledger.PaymentID) error {
	return v.core.deletePayment(id)
}

func (v *txMemoryView) ListPayments(_ context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	return v.core.listPayments(f)
}

func (v *txMemoryView) Dashboard(_ context.Context, today time.Time) (*ledger.DashboardStats, error) {
	return v.core.dashboard(today)
}
