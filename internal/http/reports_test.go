package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"

	"github.com/mailpress/newsletter-gateway/internal/model"
)

type fakeCHDeliveries struct {
	rows []model.DeliveryOutcome

	gotIssue  string
	gotLimit  int
	gotOffset int
}

func (f *fakeCHDeliveries) InsertOutcome(ctx context.Context, out model.DeliveryOutcome) error {
	return nil
}

func (f *fakeCHDeliveries) ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]model.DeliveryOutcome, error) {
	f.gotIssue = issueID
	f.gotLimit = limit
	f.gotOffset = offset
	return f.rows, nil
}

func newReportCtx(t *testing.T, query string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/admin/reports/deliveries"+query, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestListDeliveriesRequiresIssueID(t *testing.T) {
	c, rec := newReportCtx(t, "")
	if err := listDeliveriesHandler(&fakeCHDeliveries{})(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListDeliveriesDefaults(t *testing.T) {
	repo := &fakeCHDeliveries{rows: []model.DeliveryOutcome{
		{IssueID: "01H", RecipientEmail: "a@example.com", Result: "sent", Attempts: 1},
	}}
	c, rec := newReportCtx(t, "?issue_id=01H")

	if err := listDeliveriesHandler(repo)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if repo.gotIssue != "01H" || repo.gotLimit != 50 || repo.gotOffset != 0 {
		t.Fatalf("query = issue=%q limit=%d offset=%d", repo.gotIssue, repo.gotLimit, repo.gotOffset)
	}

	var out struct {
		Count   int                     `json:"count"`
		Results []model.DeliveryOutcome `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("body: %v", err)
	}
	if out.Count != 1 || len(out.Results) != 1 {
		t.Fatalf("body = %+v", out)
	}
}

func TestListDeliveriesClampsPaging(t *testing.T) {
	repo := &fakeCHDeliveries{}
	c, _ := newReportCtx(t, "?issue_id=01H&limit=5000&offset=-3")

	if err := listDeliveriesHandler(repo)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if repo.gotLimit != 50 || repo.gotOffset != 0 {
		t.Fatalf("limit=%d offset=%d, want clamped defaults", repo.gotLimit, repo.gotOffset)
	}

	c2, _ := newReportCtx(t, "?issue_id=01H&limit=10&offset=20")
	if err := listDeliveriesHandler(repo)(c2); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if repo.gotLimit != 10 || repo.gotOffset != 20 {
		t.Fatalf("limit=%d offset=%d", repo.gotLimit, repo.gotOffset)
	}
}
