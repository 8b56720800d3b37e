/*
handlers_test.go - HTTP-level tests for the API

Tests run the full chi router over a :memory: sqlite store with a fixed
clock, so the billed month and payment dates are deterministic.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/XamidovNodirjon/Mini-lms/ledger"
	"github.com/XamidovNodirjon/Mini-lms/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store)
	clock := ledger.FixedClock(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))
	h.Clock = clock
	h.Allocator.Clock = clock
	h.Generator.Clock = clock

	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, out.Bytes()
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to decode %s: %v", data, err)
	}
}

func createStudent(t *testing.T, srv *httptest.Server, name, phone, balance string) StudentDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/students", StudentRequest{
		FullName: name,
		Phone:    phone,
		Balance:  balance,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create student: got %d, body %s", resp.StatusCode, body)
	}
	var dto StudentDTO
	decodeInto(t, body, &dto)
	return dto
}

func createGroup(t *testing.T, srv *httptest.Server, name, fee string) GroupDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/groups", GroupRequest{
		Name:       name,
		MonthlyFee: fee,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create group: got %d, body %s", resp.StatusCode, body)
	}
	var dto GroupDTO
	decodeInto(t, body, &dto)
	return dto
}

func enroll(t *testing.T, srv *httptest.Server, groupID, studentID string) {
	t.Helper()
	url := fmt.Sprintf("%s/api/groups/%s/students", srv.URL, groupID)
	resp, body := doJSON(t, http.MethodPost, url, EnrollRequest{StudentID: studentID})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Enroll: got %d, body %s", resp.StatusCode, body)
	}
}

func generateDebts(t *testing.T, srv *httptest.Server) RunReportDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/admin/generate-debts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Generate debts: got %d, body %s", resp.StatusCode, body)
	}
	var report RunReportDTO
	decodeInto(t, body, &report)
	return report
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestCreateStudent_Success(t *testing.T) {
	srv := newTestServer(t)

	dto := createStudent(t, srv, "Aziza Yusupova", "+998901234567", "50000")
	if dto.ID == "" {
		t.Fatal("Expected a generated id")
	}
	if dto.Balance != "50000.00" {
		t.Errorf("Balance = %q, want 50000.00", dto.Balance)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/students/"+dto.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get student: got %d, body %s", resp.StatusCode, body)
	}
	var got StudentDTO
	decodeInto(t, body, &got)
	if got.FullName != "Aziza Yusupova" {
		t.Errorf("FullName = %q", got.FullName)
	}
}

func TestCreateStudent_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/students", StudentRequest{
		Balance:   "-100",
		BirthDate: "not a date",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400; body %s", resp.StatusCode, body)
	}
	var er ErrorResponse
	decodeInto(t, body, &er)
	for _, field := range []string{"full_name", "phone", "balance", "birth_date"} {
		if _, ok := er.Fields[field]; !ok {
			t.Errorf("Expected a validation message for %q, fields: %v", field, er.Fields)
		}
	}
}

func TestCreateStudent_DuplicatePhone(t *testing.T) {
	srv := newTestServer(t)

	createStudent(t, srv, "Aziza Yusupova", "+998901234567", "")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/students", StudentRequest{
		FullName: "Someone Else",
		Phone:    "+998901234567",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("got %d, want 409; body %s", resp.StatusCode, body)
	}
}

func TestUpdateStudent_BalanceNotWritable(t *testing.T) {
	srv := newTestServer(t)

	dto := createStudent(t, srv, "Aziza Yusupova", "+998901234567", "50000")
	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/students/"+dto.ID, StudentRequest{
		FullName: "Aziza Yusupova",
		Phone:    "+998901234567",
		Balance:  "999999",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Update: got %d, body %s", resp.StatusCode, body)
	}
	var got StudentDTO
	decodeInto(t, body, &got)
	if got.Balance != "50000.00" {
		t.Errorf("Balance = %q; balances only move through payments and reversals", got.Balance)
	}
}

func TestGetStudent_NotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/students/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}
}

// =============================================================================
// GROUPS
// =============================================================================

func TestCreateGroup_FeeMustBePositive(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/groups", GroupRequest{
		Name:       "Free Club",
		MonthlyFee: "0",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400; body %s", resp.StatusCode, body)
	}
}

func TestEnrollAndListGroupStudents(t *testing.T) {
	srv := newTestServer(t)

	student := createStudent(t, srv, "Aziza Yusupova", "+998901234567", "")
	group := createGroup(t, srv, "English B2", "100000")
	enroll(t, srv, group.ID, student.ID)

	url := fmt.Sprintf("%s/api/groups/%s/students", srv.URL, group.ID)
	resp, body := doJSON(t, http.MethodGet, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, body %s", resp.StatusCode, body)
	}
	var members []StudentDTO
	decodeInto(t, body, &members)
	if len(members) != 1 || members[0].ID != student.ID {
		t.Fatalf("members = %+v", members)
	}
}

// =============================================================================
// PAYMENT FLOW
// =============================================================================

func TestPaymentFlow_GenerateAllocateReverse(t *testing.T) {
	srv := newTestServer(t)

	student := createStudent(t, srv, "Diyor Umarov", "+998901234567", "")
	group := createGroup(t, srv, "English B2", "100000")
	enroll(t, srv, group.ID, student.ID)

	report := generateDebts(t, srv)
	if report.Month != "2024-03" || report.Generated != 1 {
		t.Fatalf("report = %+v", report)
	}

	// Pay more than the debt; the rest must land on balance.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payments", CreatePaymentRequest{
		StudentID: student.ID,
		GroupID:   group.ID,
		Amount:    "120000",
		Note:      "cash at front desk",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create payment: got %d, body %s", resp.StatusCode, body)
	}
	var res AllocationResultDTO
	decodeInto(t, body, &res)
	if res.Payment.Type != "debt" {
		t.Errorf("Type = %q, want debt", res.Payment.Type)
	}
	if res.ToBalance != "20000.00" {
		t.Errorf("ToBalance = %q, want 20000.00", res.ToBalance)
	}
	if len(res.Applied) != 1 || res.Applied[0].Applied != "100000.00" || res.Applied[0].Status != "paid" {
		t.Errorf("Applied = %+v", res.Applied)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/students/"+student.ID+"/debts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Student debts: got %d", resp.StatusCode)
	}
	var debts []DebtDTO
	decodeInto(t, body, &debts)
	if len(debts) != 1 || debts[0].Status != "paid" {
		t.Fatalf("debts = %+v", debts)
	}

	// Deleting the payment reverses it: the debt reopens.
	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/payments/"+res.Payment.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Delete payment: got %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/students/"+student.ID+"/debts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Student debts: got %d", resp.StatusCode)
	}
	decodeInto(t, body, &debts)
	if len(debts) != 1 || debts[0].Status != "unpaid" {
		t.Fatalf("debts after reversal = %+v", debts)
	}
}

func TestCreatePayment_ValidationAndNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payments", CreatePaymentRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400; body %s", resp.StatusCode, body)
	}

	group := createGroup(t, srv, "English B2", "100000")
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/payments", CreatePaymentRequest{
		StudentID: "no-such-student",
		GroupID:   group.ID,
		Amount:    "1000",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404; body %s", resp.StatusCode, body)
	}
}

// =============================================================================
// DEBT SUMMARY AND DASHBOARD
// =============================================================================

func TestDebtSummary(t *testing.T) {
	srv := newTestServer(t)

	student := createStudent(t, srv, "Sardor Aliev", "+998901234567", "")
	group := createGroup(t, srv, "English B2", "100000")
	enroll(t, srv, group.ID, student.ID)
	generateDebts(t, srv)

	url := fmt.Sprintf("%s/api/debt-summary?student_id=%s&group_id=%s", srv.URL, student.ID, group.ID)
	resp, body := doJSON(t, http.MethodGet, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, body %s", resp.StatusCode, body)
	}
	var sum DebtSummaryDTO
	decodeInto(t, body, &sum)
	if sum.Outstanding != "100000.00" {
		t.Errorf("Outstanding = %q", sum.Outstanding)
	}

	// Both query params are required.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/debt-summary?student_id="+student.ID, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", resp.StatusCode)
	}
}

func TestDashboard(t *testing.T) {
	srv := newTestServer(t)

	student := createStudent(t, srv, "Madina Tosheva", "+998901234567", "")
	group := createGroup(t, srv, "English B2", "100000")
	enroll(t, srv, group.ID, student.ID)
	generateDebts(t, srv)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, body %s", resp.StatusCode, body)
	}
	var dash DashboardDTO
	decodeInto(t, body, &dash)
	if dash.Students != 1 || dash.Groups != 1 {
		t.Errorf("counts = %+v", dash)
	}
	if dash.OutstandingDebt != "100000.00" {
		t.Errorf("OutstandingDebt = %q", dash.OutstandingDebt)
	}
}

// =============================================================================
// SEED
// =============================================================================

func TestSeedDemoData(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/seed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Seed: got %d, body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/students", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("List students: got %d", resp.StatusCode)
	}
	var students []StudentDTO
	decodeInto(t, body, &students)
	if len(students) != 4 {
		t.Fatalf("Expected 4 seeded students, got %d", len(students))
	}

	// A second seed call is a no-op, not a duplicate-phone failure.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/seed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Second seed: got %d, body %s", resp.StatusCode, body)
	}
}
