package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestGateway(url string) *Gateway {
	return NewGateway(url, "test-sid", "test-password", "1.0", true, 5*time.Second)
}

func TestGenerateHashDeterministic(t *testing.T) {
	g := newTestGateway("")
	payload := params{{"cmd", "createInvoice"}, {"sid", "abc"}}
	h1, err1 := g.GenerateHash(payload)
	h2, err2 := g.GenerateHash(payload)
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)
}

func TestGenerateHashChangesWithPayload(t *testing.T) {
	g := newTestGateway("")
	h1, _ := g.GenerateHash(params{{"cmd", "createInvoice"}})
	h2, _ := g.GenerateHash(params{{"cmd", "statusPayment"}})
	assert.NotEqual(t, h1, h2)
}

func TestGenerateHashRespectsFieldOrder(t *testing.T) {
	g := newTestGateway("")
	h1, _ := g.GenerateHash(params{{"cmd", "createInvoice"}, {"sid", "abc"}})
	h2, _ := g.GenerateHash(params{{"sid", "abc"}, {"cmd", "createInvoice"}})
	assert.NotEqual(t, h1, h2, "O-Dengi's HMAC covers the exact byte sequence, so field order must not be normalized away")
}

func TestBuildRequestProducesFixedFieldOrder(t *testing.T) {
	g := newTestGateway("")
	body, err := g.buildRequest("createInvoice", params{{"order_id", "o1"}})
	assert.NoError(t, err)
	s := string(body)
	assert.True(t, strings.HasPrefix(s, `{"cmd":"createInvoice","version":"1.0","lang":"ru","sid":"test-sid","mktime":`))
	assert.Contains(t, s, `"data":{"order_id":"o1"}`)
	assert.True(t, strings.HasSuffix(s, `}`))
}

func TestDecodeStatusPrefersNumericStatusPay(t *testing.T) {
	status, str := decodeStatus(map[string]interface{}{"status_pay": float64(1), "status": "pending"})
	assert.Equal(t, StatusPaid, status)
	assert.Equal(t, "", str)
}

func TestDecodeStatusFallsBackToStringStatus(t *testing.T) {
	status, str := decodeStatus(map[string]interface{}{"status": "approved"})
	assert.Equal(t, StatusPaid, status)
	assert.Equal(t, "approved", str)
}

func TestDecodeStatusUnknownStringDefaultsToPending(t *testing.T) {
	status, str := decodeStatus(map[string]interface{}{"status": "weird_value"})
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, "weird_value", str)
}

func TestCreateInvoiceExtractsQRFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"invoice_id":"inv1","qr":"00020101...","qr_url":"https://pay.example/qr1"}}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	result, err := g.CreateInvoice(nil, InvoiceRequest{OrderID: "order1", AmountSom: 1500, Description: "Delivery"})
	assert.NoError(t, err)
	assert.Equal(t, "inv1", result.InvoiceID)
	assert.Equal(t, "00020101...", result.QRData)
	assert.Equal(t, "https://pay.example/qr1", result.QRImageURL)
}

func TestCreateInvoiceSurfacesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"error":5,"desc":"insufficient sid balance"}}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	_, err := g.CreateInvoice(nil, InvoiceRequest{OrderID: "order1", AmountSom: 1500, Description: "Delivery"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient sid balance")
}

func TestCheckStatusUnpacksPaymentsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"payments":[{"invoice_id":"inv1","status_pay":1,"trans":"tx1"}]}}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)
	result, err := g.CheckStatus(nil, "inv1", "")
	assert.NoError(t, err)
	assert.Equal(t, StatusPaid, result.Status)
	assert.Equal(t, "tx1", result.TransID)
}

func TestCheckStatusRequiresAnIdentifier(t *testing.T) {
	g := newTestGateway("")
	_, err := g.CheckStatus(nil, "", "")
	assert.Error(t, err)
}

func TestGatewayNotConfiguredRejectsCalls(t *testing.T) {
	g := NewGateway("https://example.com", "", "", "1.0", false, time.Second)
	_, err := g.CreateInvoice(nil, InvoiceRequest{OrderID: "x", AmountSom: 100})
	assert.Error(t, err)
}
