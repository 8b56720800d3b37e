/*
Package sqlite provides the SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements ledger.Store and ledger.TxStore on SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  students:       balance owners (phone is unique)
  teachers:       group leads
  groups:         classes with a monthly fee
  group_students: enrollment links
  debts:          one billing obligation per (student, group, month)
  payments:       recorded incoming amounts

INDEXES:
  - idx_debts_student_group_month: UNIQUE, the one-debt-per-triple rule.
    The monthly generator leans on this under concurrency: a second insert
    for the same triple fails here and is reported as ledger.ErrDebtExists.
  - idx_debts_outstanding: allocation hot path (outstanding debts by pair)
  - idx_payments_student: payment history lookups

MONEY:
  Stored as decimal strings (TEXT), parsed with shopspring/decimal.
  Never REAL: float money drifts.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
)

const (
	dateLayout = "2006-01-02"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need. Every query
// below runs against it, so the same code serves both the plain store and
// the transactional view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		birth_date TEXT,
		balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teachers (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		monthly_fee TEXT NOT NULL,
		teacher_id TEXT REFERENCES teachers(id),
		start_date TEXT,
		lesson_time TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_students (
		group_id TEXT NOT NULL REFERENCES groups(id),
		student_id TEXT NOT NULL REFERENCES students(id),
		PRIMARY KEY (group_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS debts (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		group_id TEXT NOT NULL REFERENCES groups(id),
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		month TEXT NOT NULL,
		status TEXT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one debt per (student, group, month). The monthly generator
	-- relies on this index to stay idempotent under concurrent runs.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_debts_student_group_month
		ON debts(student_id, group_id, month);

	-- Allocation hot path: outstanding debts for a pair, oldest month first
	CREATE INDEX IF NOT EXISTS idx_debts_outstanding
		ON debts(student_id, group_id, month) WHERE status != 'paid';

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		group_id TEXT NOT NULL REFERENCES groups(id),
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		note TEXT,
		type TEXT NOT NULL,
		debt_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_student
		ON payments(student_id, date DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STUDENTS
// =============================================================================

func (s *Store) CreateStudent(ctx context.Context, st *ledger.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createStudent(ctx, s.db, st)
}

func createStudent(ctx context.Context, q dbtx, st *ledger.Student) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO students (id, full_name, phone, birth_date, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.FullName, st.Phone, fmtDate(st.BirthDate),
		st.Balance.String(), st.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrPhoneTaken
		}
		return fmt.Errorf("failed to insert student: %w", err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStudent(ctx, s.db, id)
}

func getStudent(ctx context.Context, q dbtx, id ledger.StudentID) (*ledger.Student, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, full_name, phone, birth_date, balance, created_at
		FROM students WHERE id = ?`, id)
	st, err := scanStudent(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrStudentNotFound
	}
	return st, err
}

func (s *Store) UpdateStudent(ctx context.Context, st *ledger.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateStudent(ctx, s.db, st)
}

func updateStudent(ctx context.Context, q dbtx, st *ledger.Student) error {
	res, err := q.ExecContext(ctx, `
		UPDATE students SET full_name = ?, phone = ?, birth_date = ?, balance = ?
		WHERE id = ?`,
		st.FullName, st.Phone, fmtDate(st.BirthDate), st.Balance.String(), st.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrPhoneTaken
		}
		return fmt.Errorf("failed to update student: %w", err)
	}
	return requireRow(res, ledger.ErrStudentNotFound)
}

func (s *Store) DeleteStudent(ctx context.Context, id ledger.StudentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	return requireRow(res, ledger.ErrStudentNotFound)
}

func (s *Store) ListStudents(ctx context.Context, search string) ([]ledger.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStudents(ctx, s.db, search)
}

func listStudents(ctx context.Context, q dbtx, search string) ([]ledger.Student, error) {
	query := `
		SELECT id, full_name, phone, birth_date, balance, created_at
		FROM students`
	var args []any
	if search != "" {
		query += ` WHERE full_name LIKE ? OR phone LIKE ?`
		like := "%" + search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY full_name ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []ledger.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (*ledger.Student, error) {
	var (
		st        ledger.Student
		birthDate sql.NullString
		balance   string
		createdAt string
	)
	if err := row.Scan(&st.ID, &st.FullName, &st.Phone, &birthDate, &balance, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan student: %w", err)
	}
	st.BirthDate = parseDate(birthDate.String)
	var err error
	if st.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance %q: %w", balance, err)
	}
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

// =============================================================================
// TEACHERS
// =============================================================================

func (s *Store) CreateTeacher(ctx context.Context, t *ledger.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createTeacher(ctx, s.db, t)
}

func createTeacher(ctx context.Context, q dbtx, t *ledger.Teacher) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO teachers (id, full_name, phone, created_at)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.FullName, t.Phone, t.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert teacher: %w", err)
	}
	return nil
}

func (s *Store) GetTeacher(ctx context.Context, id ledger.TeacherID) (*ledger.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTeacher(ctx, s.db, id)
}

func getTeacher(ctx context.Context, q dbtx, id ledger.TeacherID) (*ledger.Teacher, error) {
	var (
		t         ledger.Teacher
		phone     sql.NullString
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, full_name, phone, created_at FROM teachers WHERE id = ?`, id,
	).Scan(&t.ID, &t.FullName, &phone, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrTeacherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan teacher: %w", err)
	}
	t.Phone = phone.String
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *Store) UpdateTeacher(ctx context.Context, t *ledger.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE teachers SET full_name = ?, phone = ? WHERE id = ?`,
		t.FullName, t.Phone, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update teacher: %w", err)
	}
	return requireRow(res, ledger.ErrTeacherNotFound)
}

func (s *Store) DeleteTeacher(ctx context.Context, id ledger.TeacherID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM teachers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete teacher: %w", err)
	}
	return requireRow(res, ledger.ErrTeacherNotFound)
}

func (s *Store) ListTeachers(ctx context.Context) ([]ledger.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTeachers(ctx, s.db)
}

func listTeachers(ctx context.Context, q dbtx) ([]ledger.Teacher, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, full_name, phone, created_at FROM teachers ORDER BY full_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query teachers: %w", err)
	}
	defer rows.Close()

	var out []ledger.Teacher
	for rows.Next() {
		var (
			t         ledger.Teacher
			phone     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.FullName, &phone, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan teacher: %w", err)
		}
		t.Phone = phone.String
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// GROUPS AND ENROLLMENT
// =============================================================================

func (s *Store) CreateGroup(ctx context.Context, g *ledger.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createGroup(ctx, s.db, g)
}

func createGroup(ctx context.Context, q dbtx, g *ledger.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO groups (id, name, monthly_fee, teacher_id, start_date, lesson_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.MonthlyFee.String(), nullString(string(g.TeacherID)),
		fmtDate(g.StartDate), g.LessonTime, g.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id ledger.GroupID) (*ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGroup(ctx, s.db, id)
}

func getGroup(ctx context.Context, q dbtx, id ledger.GroupID) (*ledger.Group, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, monthly_fee, teacher_id, start_date, lesson_time, created_at
		FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrGroupNotFound
	}
	return g, err
}

func (s *Store) UpdateGroup(ctx context.Context, g *ledger.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = ?, monthly_fee = ?, teacher_id = ?, start_date = ?, lesson_time = ?
		WHERE id = ?`,
		g.Name, g.MonthlyFee.String(), nullString(string(g.TeacherID)),
		fmtDate(g.StartDate), g.LessonTime, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return requireRow(res, ledger.ErrGroupNotFound)
}

func (s *Store) DeleteGroup(ctx context.Context, id ledger.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM group_students WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete enrollments: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return requireRow(res, ledger.ErrGroupNotFound)
}

func (s *Store) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(ctx, s.db)
}

func listGroups(ctx context.Context, q dbtx) ([]ledger.Group, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, monthly_fee, teacher_id, start_date, lesson_time, created_at
		FROM groups ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var out []ledger.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGroup(row scanner) (*ledger.Group, error) {
	var (
		g          ledger.Group
		fee        string
		teacherID  sql.NullString
		startDate  sql.NullString
		lessonTime sql.NullString
		createdAt  string
	)
	if err := row.Scan(&g.ID, &g.Name, &fee, &teacherID, &startDate, &lessonTime, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}
	var err error
	if g.MonthlyFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("bad monthly fee %q: %w", fee, err)
	}
	g.TeacherID = ledger.TeacherID(teacherID.String)
	g.StartDate = parseDate(startDate.String)
	g.LessonTime = lessonTime.String
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}

func (s *Store) Enroll(ctx context.Context, groupID ledger.GroupID, studentID ledger.StudentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getGroup(ctx, s.db, groupID); err != nil {
		return err
	}
	if _, err := getStudent(ctx, s.db, studentID); err != nil {
		return err
	}
	// Re-enrolling is a no-op, not an error.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_students (group_id, student_id) VALUES (?, ?)`,
		groupID, studentID,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll student: %w", err)
	}
	return nil
}

func (s *Store) GroupStudents(ctx context.Context, groupID ledger.GroupID) ([]ledger.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return groupStudents(ctx, s.db, groupID)
}

func groupStudents(ctx context.Context, q dbtx, groupID ledger.GroupID) ([]ledger.Student, error) {
	if _, err := getGroup(ctx, q, groupID); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT s.id, s.full_name, s.phone, s.birth_date, s.balance, s.created_at
		FROM students s
		JOIN group_students gs ON gs.student_id = s.id
		WHERE gs.group_id = ?
		ORDER BY s.full_name ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group students: %w", err)
	}
	defer rows.Close()

	var out []ledger.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// =============================================================================
// DEBTS
// =============================================================================

func (s *Store) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createDebt(ctx, s.db, d)
}

func createDebt(ctx context.Context, q dbtx, d *ledger.Debt) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO debts (id, student_id, group_id, amount, paid_amount, month, status, is_paid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.StudentID, d.GroupID, d.Amount.String(), d.PaidAmount.String(),
		d.Month, d.Status, d.IsPaid, d.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDebtExists
		}
		return fmt.Errorf("failed to insert debt: %w", err)
	}
	return nil
}

func (s *Store) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDebt(ctx, s.db, id)
}

func getDebt(ctx context.Context, q dbtx, id ledger.DebtID) (*ledger.Debt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, student_id, group_id, amount, paid_amount, month, status, is_paid, created_at
		FROM debts WHERE id = ?`, id)
	d, err := scanDebt(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrDebtNotFound
	}
	return d, err
}

func (s *Store) UpdateDebt(ctx context.Context, d *ledger.Debt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateDebt(ctx, s.db, d)
}

func updateDebt(ctx context.Context, q dbtx, d *ledger.Debt) error {
	res, err := q.ExecContext(ctx, `
		UPDATE debts SET paid_amount = ?, status = ?, is_paid = ? WHERE id = ?`,
		d.PaidAmount.String(), d.Status, d.IsPaid, d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update debt: %w", err)
	}
	return requireRow(res, ledger.ErrDebtNotFound)
}

func (s *Store) DebtByMonth(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return debtByMonth(ctx, s.db, studentID, groupID, month)
}

func debtByMonth(ctx context.Context, q dbtx, studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, student_id, group_id, amount, paid_amount, month, status, is_paid, created_at
		FROM debts WHERE student_id = ? AND group_id = ? AND month = ?`,
		studentID, groupID, month)
	d, err := scanDebt(row)
	if err == sql.ErrNoRows {
		return nil, nil // absence is a normal answer here
	}
	return d, err
}

func (s *Store) OutstandingDebts(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return outstandingDebts(ctx, s.db, studentID, groupID)
}

func outstandingDebts(ctx context.Context, q dbtx, studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	// Month ascending: the allocation engine pays the oldest period first.
	rows, err := q.QueryContext(ctx, `
		SELECT id, student_id, group_id, amount, paid_amount, month, status, is_paid, created_at
		FROM debts
		WHERE student_id = ? AND group_id = ? AND status != 'paid'
		ORDER BY month ASC`,
		studentID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outstanding debts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) OutstandingTotal(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Sum in Go: amounts are decimal strings, SQL SUM would coerce to float.
	debts, err := outstandingDebts(ctx, s.db, studentID, groupID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range debts {
		total = total.Add(d.Due())
	}
	return total, nil
}

func (s *Store) ListDebts(ctx context.Context, f ledger.DebtFilter) ([]ledger.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDebts(ctx, s.db, f)
}

func listDebts(ctx context.Context, q dbtx, f ledger.DebtFilter) ([]ledger.Debt, error) {
	query := `
		SELECT d.id, d.student_id, d.group_id, d.amount, d.paid_amount, d.month, d.status, d.is_paid, d.created_at
		FROM debts d
		JOIN students s ON s.id = d.student_id
		JOIN groups g ON g.id = d.group_id
		WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND d.status = ?`
		args = append(args, f.Status)
	}
	if f.StudentID != "" {
		query += ` AND d.student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.GroupID != "" {
		query += ` AND d.group_id = ?`
		args = append(args, f.GroupID)
	}
	if f.Search != "" {
		query += ` AND (s.full_name LIKE ? OR g.name LIKE ? OR d.month LIKE ? OR d.amount LIKE ?)`
		like := "%" + f.Search + "%"
		args = append(args, like, like, like, like)
	}
	query += ` ORDER BY d.created_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDebt(row scanner) (*ledger.Debt, error) {
	var (
		d          ledger.Debt
		amount     string
		paidAmount string
		month      string
		createdAt  string
	)
	if err := row.Scan(&d.ID, &d.StudentID, &d.GroupID, &amount, &paidAmount,
		&month, &d.Status, &d.IsPaid, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan debt: %w", err)
	}
	var err error
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad debt amount %q: %w", amount, err)
	}
	if d.PaidAmount, err = decimal.NewFromString(paidAmount); err != nil {
		return nil, fmt.Errorf("bad paid amount %q: %w", paidAmount, err)
	}
	d.Month = ledger.Month(month)
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPayment(ctx, s.db, p)
}

func createPayment(ctx context.Context, q dbtx, p *ledger.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var debtID sql.NullString
	if p.DebtID != nil {
		debtID = sql.NullString{String: string(*p.DebtID), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, student_id, group_id, amount, date, note, type, debt_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StudentID, p.GroupID, p.Amount.String(), p.Date.Format(time.RFC3339),
		p.Note, p.Type, debtID, p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q dbtx, id ledger.PaymentID) (*ledger.Payment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, student_id, group_id, amount, date, note, type, debt_id, created_at
		FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrPaymentNotFound
	}
	return p, err
}

func (s *Store) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePayment(ctx, s.db, id)
}

func deletePayment(ctx context.Context, q dbtx, id ledger.PaymentID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return requireRow(res, ledger.ErrPaymentNotFound)
}

func (s *Store) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, f)
}

func listPayments(ctx context.Context, q dbtx, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	query := `
		SELECT p.id, p.student_id, p.group_id, p.amount, p.date, p.note, p.type, p.debt_id, p.created_at
		FROM payments p
		JOIN students s ON s.id = p.student_id
		JOIN groups g ON g.id = p.group_id
		WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += ` AND p.type = ?`
		args = append(args, f.Type)
	}
	if f.StudentID != "" {
		query += ` AND p.student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Search != "" {
		query += ` AND (s.full_name LIKE ? OR g.name LIKE ? OR p.note LIKE ? OR p.amount LIKE ?)`
		like := "%" + f.Search + "%"
		args = append(args, like, like, like, like)
	}
	query += ` ORDER BY p.date DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row scanner) (*ledger.Payment, error) {
	var (
		p         ledger.Payment
		amount    string
		date      string
		note      sql.NullString
		debtID    sql.NullString
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.StudentID, &p.GroupID, &amount, &date,
		&note, &p.Type, &debtID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad payment amount %q: %w", amount, err)
	}
	p.Date = parseTime(date)
	p.Note = note.String
	if debtID.Valid {
		id := ledger.DebtID(debtID.String)
		p.DebtID = &id
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

func (s *Store) Dashboard(ctx context.Context, today time.Time) (*ledger.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dashboard(ctx, s.db, today)
}

func dashboard(ctx context.Context, q dbtx, today time.Time) (*ledger.DashboardStats, error) {
	stats := &ledger.DashboardStats{
		TodayRevenue:    decimal.Zero,
		OutstandingDebt: decimal.Zero,
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM students`, &stats.Students},
		{`SELECT COUNT(*) FROM teachers`, &stats.Teachers},
		{`SELECT COUNT(*) FROM groups`, &stats.Groups},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	day := today.Format(dateLayout)
	rows, err := q.QueryContext(ctx, `
		SELECT amount FROM payments WHERE date(date) = ?`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query today's payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad payment amount %q: %w", amount, err)
		}
		stats.TodayRevenue = stats.TodayRevenue.Add(a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	debtRows, err := q.QueryContext(ctx, `
		SELECT amount, paid_amount FROM debts WHERE status != 'paid'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query outstanding debts: %w", err)
	}
	defer debtRows.Close()
	for debtRows.Next() {
		var amount, paid string
		if err := debtRows.Scan(&amount, &paid); err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		a, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad debt amount %q: %w", amount, err)
		}
		p, err := decimal.NewFromString(paid)
		if err != nil {
			return nil, fmt.Errorf("bad paid amount %q: %w", paid, err)
		}
		stats.OutstandingDebt = stats.OutstandingDebt.Add(a.Sub(p))
	}
	return stats, debtRows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txView routes Store calls through the open transaction. The engines only
// touch students, debts and payments inside a transaction, but the full
// interface is served for completeness.
type txView struct {
	tx *sql.Tx
}

func (v *txView) CreateStudent(ctx context.Context, st *ledger.Student) error {
	return createStudent(ctx, v.tx, st)
}

func (v *txView) GetStudent(ctx context.Context, id ledger.StudentID) (*ledger.Student, error) {
	return getStudent(ctx, v.tx, id)
}

func (v *txView) UpdateStudent(ctx context.Context, st *ledger.Student) error {
	return updateStudent(ctx, v.tx, st)
}

func (v *txView) DeleteStudent(ctx context.Context, id ledger.StudentID) error {
	res, err := v.tx.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	return requireRow(res, ledger.ErrStudentNotFound)
}

func (v *txView) ListStudents(ctx context.Context, search string) ([]ledger.Student, error) {
	return listStudents(ctx, v.tx, search)
}

func (v *txView) CreateTeacher(ctx context.Context, t *ledger.Teacher) error {
	return createTeacher(ctx, v.tx, t)
}

func (v *txView) GetTeacher(ctx context.Context, id ledger.TeacherID) (*ledger.Teacher, error) {
	return getTeacher(ctx, v.tx, id)
}

func (v *txView) UpdateTeacher(ctx context.Context, t *ledger.Teacher) error {
	res, err := v.tx.ExecContext(ctx, `
		UPDATE teachers SET full_name = ?, phone = ? WHERE id = ?`,
		t.FullName, t.Phone, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update teacher: %w", err)
	}
	return requireRow(res, ledger.ErrTeacherNotFound)
}

func (v *txView) DeleteTeacher(ctx context.Context, id ledger.TeacherID) error {
	res, err := v.tx.ExecContext(ctx, `DELETE FROM teachers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete teacher: %w", err)
	}
	return requireRow(res, ledger.ErrTeacherNotFound)
}

func (v *txView) ListTeachers(ctx context.Context) ([]ledger.Teacher, error) {
	return listTeachers(ctx, v.tx)
}

func (v *txView) CreateGroup(ctx context.Context, g *ledger.Group) error {
	return createGroup(ctx, v.tx, g)
}

func (v *txView) GetGroup(ctx context.Context, id ledger.GroupID) (*ledger.Group, error) {
	return getGroup(ctx, v.tx, id)
}

func (v *txView) UpdateGroup(ctx context.Context, g *ledger.Group) error {
	res, err := v.tx.ExecContext(ctx, `
		UPDATE groups SET name = ?, monthly_fee = ?, teacher_id = ?, start_date = ?, lesson_time = ?
		WHERE id = ?`,
		g.Name, g.MonthlyFee.String(), nullString(string(g.TeacherID)),
		fmtDate(g.StartDate), g.LessonTime, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	return requireRow(res, ledger.ErrGroupNotFound)
}

func (v *txView) DeleteGroup(ctx context.Context, id ledger.GroupID) error {
	if _, err := v.tx.ExecContext(ctx, `DELETE FROM group_students WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete enrollments: %w", err)
	}
	res, err := v.tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return requireRow(res, ledger.ErrGroupNotFound)
}

func (v *txView) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	return listGroups(ctx, v.tx)
}

func (v *txView) Enroll(ctx context.Context, groupID ledger.GroupID, studentID ledger.StudentID) error {
	if _, err := getGroup(ctx, v.tx, groupID); err != nil {
		return err
	}
	if _, err := getStudent(ctx, v.tx, studentID); err != nil {
		return err
	}
	_, err := v.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_students (group_id, student_id) VALUES (?, ?)`,
		groupID, studentID,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll student: %w", err)
	}
	return nil
}

func (v *txView) GroupStudents(ctx context.Context, groupID ledger.GroupID) ([]ledger.Student, error) {
	return groupStudents(ctx, v.tx, groupID)
}

func (v *txView) CreateDebt(ctx context.Context, d *ledger.Debt) error {
	return createDebt(ctx, v.tx, d)
}

func (v *txView) GetDebt(ctx context.Context, id ledger.DebtID) (*ledger.Debt, error) {
	return getDebt(ctx, v.tx, id)
}

func (v *txView) UpdateDebt(ctx context.Context, d *ledger.Debt) error {
	return updateDebt(ctx, v.tx, d)
}

func (v *txView) DebtByMonth(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID, month ledger.Month) (*ledger.Debt, error) {
	return debtByMonth(ctx, v.tx, studentID, groupID, month)
}

func (v *txView) OutstandingDebts(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID) ([]ledger.Debt, error) {
	return outstandingDebts(ctx, v.tx, studentID, groupID)
}

func (v *txView) OutstandingTotal(ctx context.Context, studentID ledger.StudentID, groupID ledger.GroupID) (decimal.Decimal, error) {
	debts, err := outstandingDebts(ctx, v.tx, studentID, groupID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range debts {
		total = total.Add(d.Due())
	}
	return total, nil
}

func (v *txView) ListDebts(ctx context.Context, f ledger.DebtFilter) ([]ledger.Debt, error) {
	return listDebts(ctx, v.tx, f)
}

func (v *txView) CreatePayment(ctx context.Context, p *ledger.Payment) error {
	return createPayment(ctx, v.tx, p)
}

func (v *txView) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return getPayment(ctx, v.tx, id)
}

func (v *txView) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	return deletePayment(ctx, v.tx, id)
}

func (v *txView) ListPayments(ctx context.Context, f ledger.PaymentFilter) ([]ledger.Payment, error) {
	return listPayments(ctx, v.tx, f)
}

func (v *txView) Dashboard(ctx context.Context, today time.Time) (*ledger.DashboardStats, error) {
	return dashboard(ctx, v.tx, today)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fmtDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// requireRow maps an UPDATE/DELETE that touched nothing to notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
