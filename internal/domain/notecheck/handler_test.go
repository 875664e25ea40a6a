package notecheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// -- Mock Trigger --

type scanCall struct {
	force       bool
	triggeredBy string
}

type mockTrigger struct {
	scans  []scanCall
	checks []enqueueCall
	err    error
}

func (m *mockTrigger) EnqueueScan(_ context.Context, force bool, triggeredBy string) error {
	if m.err != nil {
		return m.err
	}
	m.scans = append(m.scans, scanCall{force: force, triggeredBy: triggeredBy})
	return nil
}

func (m *mockTrigger) EnqueueCheck(_ context.Context, encounterID, _ string, _ bool, delay time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.checks = append(m.checks, enqueueCall{encounterID: encounterID, delay: delay})
	return nil
}

func newHandlerTest(repo *mockRepo) (*echo.Echo, *mockTrigger) {
	svc := newTestService(repo, &mockGateway{}, &mockAnalyzer{}, 0)
	trigger := &mockTrigger{}
	e := echo.New()
	NewHandler(svc, trigger).RegisterRoutes(e.Group("/api/v1"))
	return e, trigger
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTriggerScan(t *testing.T) {
	e, trigger := newHandlerTest(newMockRepo())

	rec := doJSON(e, http.MethodPost, "/api/v1/scan/trigger", `{"force":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(trigger.scans) != 1 || !trigger.scans[0].force {
		t.Errorf("scan not enqueued with force: %+v", trigger.scans)
	}
}

func TestGetCheckNotFound(t *testing.T) {
	e, _ := newHandlerTest(newMockRepo())

	rec := doJSON(e, http.MethodGet, "/api/v1/checks/e-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetCheckReturnsRecordAndMarks(t *testing.T) {
	repo := newMockRepo()
	checkID := uuid.New()
	repo.checks["e1"] = &NoteCheckRecord{
		ID:          checkID,
		EncounterID: "e1",
		PatientID:   "p1",
		Status:      CheckStatusCompleted,
		IssuesFound: true,
	}
	repo.marks = append(repo.marks, &IssueMark{
		EncounterID: "e1",
		CheckID:     checkID,
		IssueIndex:  0,
		Kind:        MarkResolved,
		MarkedBy:    "dr-a",
	})
	e, _ := newHandlerTest(repo)

	rec := doJSON(e, http.MethodGet, "/api/v1/checks/e1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Check NoteCheckRecord `json:"check"`
		Marks []IssueMark     `json:"marks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Check.EncounterID != "e1" || !body.Check.IssuesFound {
		t.Errorf("unexpected check: %+v", body.Check)
	}
	if len(body.Marks) != 1 || body.Marks[0].Kind != MarkResolved {
		t.Errorf("unexpected marks: %+v", body.Marks)
	}
}

func TestRecheckRequiresPatientID(t *testing.T) {
	e, trigger := newHandlerTest(newMockRepo())

	rec := doJSON(e, http.MethodPost, "/api/v1/checks/e1/recheck", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(trigger.checks) != 0 {
		t.Error("nothing should be enqueued without a patient id")
	}
}

func TestRecheckEnqueuesImmediately(t *testing.T) {
	e, trigger := newHandlerTest(newMockRepo())

	rec := doJSON(e, http.MethodPost, "/api/v1/checks/e1/recheck", `{"patientId":"p1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(trigger.checks) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(trigger.checks))
	}
	if trigger.checks[0].encounterID != "e1" || trigger.checks[0].delay != 0 {
		t.Errorf("unexpected enqueue: %+v", trigger.checks[0])
	}
}

func TestRecheckBulkSkipsInvalidItems(t *testing.T) {
	e, trigger := newHandlerTest(newMockRepo())

	body := `{"encounters":[
		{"encounterId":"e1","patientId":"p1"},
		{"encounterId":"","patientId":"p2"},
		{"encounterId":"e3","patientId":""},
		{"encounterId":"e4","patientId":"p4"}
	]}`
	rec := doJSON(e, http.MethodPost, "/api/v1/checks/recheck-bulk", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Enqueued int `json:"enqueued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Enqueued != 2 || len(trigger.checks) != 2 {
		t.Errorf("enqueued = %d (calls %d), want 2", resp.Enqueued, len(trigger.checks))
	}
}

func TestRecheckBulkRejectsEmptyList(t *testing.T) {
	e, _ := newHandlerTest(newMockRepo())

	rec := doJSON(e, http.MethodPost, "/api/v1/checks/recheck-bulk", `{"encounters":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMarkIssueEndpoints(t *testing.T) {
	repo := newMockRepo()
	result, _ := json.Marshal(map[string]interface{}{
		"issuesFound": true,
		"issues": []map[string]string{
			{"title": "assessment lists psoriasis, plan omits treatment"},
			{"title": "chief complaint not addressed"},
		},
	})
	repo.checks["e1"] = &NoteCheckRecord{
		ID:             uuid.New(),
		EncounterID:    "e1",
		PatientID:      "p1",
		Status:         CheckStatusCompleted,
		IssuesFound:    true,
		AnalysisResult: result,
	}
	e, _ := newHandlerTest(repo)

	rec := doJSON(e, http.MethodPost, "/api/v1/checks/e1/issues/1/invalid", `{"reason":"documented elsewhere"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark invalid: status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(e, http.MethodPost, "/api/v1/checks/e1/issues/0/resolved", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark resolved: status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(repo.marks))
	}

	// Non-integer index never reaches the service.
	rec = doJSON(e, http.MethodPost, "/api/v1/checks/e1/issues/first/invalid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-integer index: status = %d, want 400", rec.Code)
	}
	// Out-of-range index is a client error.
	rec = doJSON(e, http.MethodPost, "/api/v1/checks/e1/issues/9/resolved", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range index: status = %d, want 400", rec.Code)
	}
}

func TestOperatorHeaderIsRecorded(t *testing.T) {
	repo := newMockRepo()
	result, _ := json.Marshal(map[string]interface{}{
		"issuesFound": true,
		"issues":       []map[string]string{{"title": "plan missing"}},
	})
	repo.checks["e1"] = &NoteCheckRecord{
		ID:             uuid.New(),
		EncounterID:    "e1",
		PatientID:      "p1",
		AnalysisResult: result,
	}
	e, _ := newHandlerTest(repo)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checks/e1/issues/0/resolved", nil)
	req.Header.Set("X-Operator", "dr-b")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.marks) != 1 || repo.marks[0].MarkedBy != "dr-b" {
		t.Errorf("operator not recorded: %+v", repo.marks)
	}
}
