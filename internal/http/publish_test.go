package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v4"

	"github.com/mailpress/newsletter-gateway/internal/model"
	"github.com/mailpress/newsletter-gateway/internal/service/publish"
)

type fakePublisher struct {
	resp     model.StoredResponse
	replayed bool
	err      error

	gotActor int64
	gotKey   string
	gotInput publish.Input
}

func (f *fakePublisher) Publish(ctx context.Context, actorID int64, key string, in publish.Input) (model.StoredResponse, bool, error) {
	f.gotActor = actorID
	f.gotKey = key
	f.gotInput = in
	return f.resp, f.replayed, f.err
}

func storedOK() model.StoredResponse {
	return model.StoredResponse{
		Status:  http.StatusAccepted,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"published":true,"issue_id":"01H","recipients":3}`),
	}
}

func newPublishCtx(t *testing.T, body string, header map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestPublishHandlerRequiresAuth(t *testing.T) {
	pub := &fakePublisher{resp: storedOK()}
	c, rec := newPublishCtx(t, `{"title":"t","text":"x","html":"h","idempotency_key":"k"}`, nil)

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if pub.gotKey != "" {
		t.Fatal("coordinator reached without auth")
	}
}

func TestPublishHandlerAccepted(t *testing.T) {
	pub := &fakePublisher{resp: storedOK()}
	c, rec := newPublishCtx(t, `{"title":"Issue","text":"plain","html":"<p>h</p>","idempotency_key":"k1"}`, nil)
	c.Set("admin_id", int64(7))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if pub.gotActor != 7 || pub.gotKey != "k1" {
		t.Fatalf("coordinator got actor=%d key=%q", pub.gotActor, pub.gotKey)
	}
	if pub.gotInput.Title != "Issue" || pub.gotInput.TextContent != "plain" || pub.gotInput.HTMLContent != "<p>h</p>" {
		t.Fatalf("coordinator got input %+v", pub.gotInput)
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("body: %v", err)
	}
	if out["published"] != true || out["issue_id"] != "01H" {
		t.Fatalf("body = %v", out)
	}
}

func TestPublishHandlerHeaderKeyFallback(t *testing.T) {
	pub := &fakePublisher{resp: storedOK()}
	c, _ := newPublishCtx(t, `{"title":"t","text":"x","html":"h"}`, map[string]string{
		HeaderIdempotencyKey: "header-key",
	})
	c.Set("admin_id", int64(1))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if pub.gotKey != "header-key" {
		t.Fatalf("key = %q, want header fallback", pub.gotKey)
	}
}

func TestPublishHandlerBodyKeyWinsOverHeader(t *testing.T) {
	pub := &fakePublisher{resp: storedOK()}
	c, _ := newPublishCtx(t, `{"title":"t","text":"x","html":"h","idempotency_key":"body-key"}`, map[string]string{
		HeaderIdempotencyKey: "header-key",
	})
	c.Set("admin_id", int64(1))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if pub.gotKey != "body-key" {
		t.Fatalf("key = %q, want body field", pub.gotKey)
	}
}

func TestPublishHandlerInvalidInput(t *testing.T) {
	pub := &fakePublisher{err: publish.ErrInvalidInput}
	c, rec := newPublishCtx(t, `{"title":"","text":"","html":"","idempotency_key":"k"}`, nil)
	c.Set("admin_id", int64(1))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublishHandlerInternalError(t *testing.T) {
	pub := &fakePublisher{err: context.DeadlineExceeded}
	c, rec := newPublishCtx(t, `{"title":"t","text":"x","html":"h","idempotency_key":"k"}`, nil)
	c.Set("admin_id", int64(1))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestPublishHandlerReplaysStoredResponseVerbatim(t *testing.T) {
	stored := model.StoredResponse{
		Status: http.StatusAccepted,
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"X-Request-Echo": "original",
		},
		Body: []byte(`{"published":true,"issue_id":"01H","recipients":9}`),
	}
	pub := &fakePublisher{resp: stored, replayed: true}
	c, rec := newPublishCtx(t, `{"title":"t","text":"x","html":"h","idempotency_key":"k"}`, nil)
	c.Set("admin_id", int64(1))

	if err := publishNewsletterHandler(pub)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := rec.Body.String(); got != string(stored.Body) {
		t.Fatalf("body = %q, want the stored bytes", got)
	}
	if rec.Header().Get("X-Request-Echo") != "original" {
		t.Fatal("stored header not replayed")
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		t.Fatalf("content type = %q", ct)
	}
}
