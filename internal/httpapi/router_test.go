package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tulparexpress/autopost-bot/internal/payment"
	"github.com/tulparexpress/autopost-bot/internal/scheduler"
)

func newTestGateway() *payment.Gateway {
	return payment.NewGateway("", "test-sid", "test-password", "1.0", true, time.Second)
}

func signedBody(password string, bodyWithoutHash string) string {
	mac := hmac.New(md5.New, []byte(password))
	mac.Write([]byte(bodyWithoutHash))
	hash := hex.EncodeToString(mac.Sum(nil))
	return strings.TrimSuffix(bodyWithoutHash, "}") + `,"hash":"` + hash + `"}`
}

type fakeScheduler struct {
	triggered    bool
	triggerOK    bool
	lastCategory string
}

func (f *fakeScheduler) TriggerManual(ctx context.Context, categoryHint string) bool {
	f.triggered = true
	f.lastCategory = categoryHint
	return f.triggerOK
}

func (f *fakeScheduler) State() scheduler.State {
	return scheduler.State{PostingTime: "09:00", Timezone: "Asia/Bishkek"}
}

func newTestRouter(dbErr error, sched PipelineTrigger, adminToken string) http.Handler {
	health := func() error { return dbErr }
	return New(newTestGateway(), nil, nil, nil, false, sched, health, adminToken, nil)
}

func TestHealthReportsHealthyWhenDBReachable(t *testing.T) {
	r := newTestRouter(nil, &fakeScheduler{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealthReportsDegradedWhenDBUnreachable(t *testing.T) {
	r := newTestRouter(errors.New("connection refused"), &fakeScheduler{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestPaymentWebhookRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(nil, &fakeScheduler{}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhookRejectsInvalidSignature(t *testing.T) {
	r := newTestRouter(nil, &fakeScheduler{}, "")
	body := `{"invoice_id":"inv1","status_pay":1,"hash":"deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentWebhookAcknowledgesNonPaidStatusWithoutTouchingInvoices(t *testing.T) {
	r := newTestRouter(nil, &fakeScheduler{}, "")
	body := signedBody("test-password", `{"invoice_id":"inv1","status_pay":-1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"acknowledged":true`)
}

func TestAdminTriggerRequiresTokenWhenConfigured(t *testing.T) {
	sched := &fakeScheduler{triggerOK: true}
	r := newTestRouter(nil, sched, "secret-token")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/pipeline/trigger", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, sched.triggered)
}

func TestAdminTriggerSucceedsWithValidToken(t *testing.T) {
	sched := &fakeScheduler{triggerOK: true}
	r := newTestRouter(nil, sched, "secret-token")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/pipeline/trigger", strings.NewReader(`{"category_hint":"electronics"}`))
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, sched.triggered)
	assert.Equal(t, "electronics", sched.lastCategory)
}

func TestAdminTriggerReportsConflictWhenAlreadyRunning(t *testing.T) {
	sched := &fakeScheduler{triggerOK: false}
	r := newTestRouter(nil, sched, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/pipeline/trigger", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
