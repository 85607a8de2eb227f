// Package payment implements the Payment Invoice Lifecycle (§5, §9):
// an O-Dengi (dengi.kg) QR-invoice client and its webhook signature
// verification, grounded on original_source's payment.py. No O-Dengi
// or generic Kyrgyzstani payment-gateway SDK exists anywhere in the
// retrieved corpus, so this is a direct resty+gobreaker client against
// the documented JSON-RPC-shaped HTTP surface, following the same
// transport pattern as internal/marketplace.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

const (
	cmdCreateInvoice     = "createInvoice"
	cmdStatusPayment     = "statusPayment"
	cmdInvoiceCancel     = "invoiceCancel"
	cmdVoidPayment       = "voidPayment"
	cmdRefundToEWallet   = "refundPaymentToEwallet"
)

// Status is the domain-level decoded payment status, mirroring
// original_source's PaymentStatus IntEnum.
type Status int

const (
	StatusPending       Status = 0
	StatusPaid          Status = 1
	StatusCancelled     Status = -1
	StatusExpired       Status = -2
	StatusProcessing    Status = 2
	StatusPartialRefund Status = 3
	StatusFullRefund    Status = 4
)

func (s Status) ToInvoiceStatus() models.InvoiceStatus {
	switch s {
	case StatusPaid:
		return models.InvoicePaid
	case StatusCancelled:
		return models.InvoiceCancelled
	case StatusExpired:
		return models.InvoiceExpired
	case StatusProcessing:
		return models.InvoiceProcessing
	case StatusPartialRefund:
		return models.InvoicePartialRefund
	case StatusFullRefund:
		return models.InvoiceFullRefund
	default:
		return models.InvoicePending
	}
}

var statusStringMap = map[string]Status{
	"approved":   StatusPaid,
	"paid":       StatusPaid,
	"pending":    StatusPending,
	"cancelled":  StatusCancelled,
	"canceled":   StatusCancelled,
	"expired":    StatusExpired,
	"processing": StatusProcessing,
}

// Gateway is the O-Dengi API client.
type Gateway struct {
	http       *resty.Client
	breaker    *gobreaker.CircuitBreaker
	sid        string
	password   string
	apiVersion string
	testMode   bool
}

func NewGateway(apiURL, sid, password, apiVersion string, testMode bool, timeout time.Duration) *Gateway {
	httpClient := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "odengi_payment",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Gateway{
		http:       httpClient,
		breaker:    breaker,
		sid:        sid,
		password:   password,
		apiVersion: apiVersion,
		testMode:   testMode,
	}
}

func (g *Gateway) IsConfigured() bool {
	return g.sid != "" && g.password != ""
}

// param is one key/value pair of a signed request, kept in a slice
// rather than a map because O-Dengi's HMAC covers the payload's exact
// field order.
type param struct {
	Key   string
	Value interface{}
}

// params is an ordered request body: original_source's _build_request
// and its per-command data dicts rely on Python's dict preserving
// insertion order (cmd, version, lang, sid, mktime, data — and, inside
// data, order_id, desc, amount, currency, test, then the optional
// fields in the order they were set). A Go map has no such order, so
// every signed request is built as this ordered slice instead.
type params []param

func (p *params) add(key string, value interface{}) {
	*p = append(*p, param{Key: key, Value: value})
}

func (p *params) addIf(cond bool, key string, value interface{}) {
	if cond {
		p.add(key, value)
	}
}

// orderedJSON renders params as compact JSON (no spaces, no newlines)
// with keys in the given order, matching Python's
// json.dumps(payload, separators=(',', ':')) exactly — including when
// a value is itself a json.RawMessage holding an already-ordered
// nested object, as buildRequest does for "data".
func orderedJSON(p params) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// GenerateHash computes the HMAC-MD5 signature over the compact,
// order-preserving JSON encoding of payload, exactly as O-Dengi expects.
func (g *Gateway) GenerateHash(payload params) (string, error) {
	encoded, err := orderedJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(md5.New, []byte(g.password))
	mac.Write(encoded)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// buildRequest assembles the signed request body in the exact field
// order original_source's _build_request uses, returning the raw
// bytes to send as-is rather than a map resty/encoding-json would
// re-serialize (and re-sort) on the way out.
func (g *Gateway) buildRequest(cmd string, data params) ([]byte, error) {
	dataJSON, err := orderedJSON(data)
	if err != nil {
		return nil, err
	}

	payload := params{
		{"cmd", cmd},
		{"version", g.apiVersion},
		{"lang", "ru"},
		{"sid", g.sid},
		{"mktime", strconv.FormatInt(time.Now().Unix(), 10)},
		{"data", json.RawMessage(dataJSON)},
	}
	hash, err := g.GenerateHash(payload)
	if err != nil {
		return nil, err
	}
	payload.add("hash", hash)

	return orderedJSON(payload)
}

func (g *Gateway) call(ctx context.Context, cmd string, data params) (map[string]interface{}, error) {
	if !g.IsConfigured() {
		return nil, &apierr.Fatal{Stage: "payment", Err: fmt.Errorf("payment gateway not configured")}
	}

	body, err := g.buildRequest(cmd, data)
	if err != nil {
		return nil, &apierr.Fatal{Stage: "payment", Err: err}
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		var out map[string]interface{}
		resp, reqErr := g.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&out).
			Post("")
		if reqErr != nil {
			return nil, &apierr.TransientUpstream{Op: "payment." + cmd, Err: reqErr}
		}
		if resp.StatusCode() >= 500 {
			return nil, &apierr.TransientUpstream{Op: "payment." + cmd, Err: fmt.Errorf("status %d", resp.StatusCode())}
		}
		if resp.StatusCode() >= 400 {
			return nil, &apierr.PermanentUpstream{Op: "payment." + cmd, StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

// InvoiceRequest mirrors original_source's PaymentRequest dataclass.
type InvoiceRequest struct {
	OrderID      string
	AmountSom    float64
	Description  string
	UserID       string
	SendPush     bool
	ResultURL    string
	SuccessURL   string
	FailURL      string
}

// InvoiceResult is the outcome of CreateInvoice.
type InvoiceResult struct {
	InvoiceID  string
	OrderID    string
	QRData     string
	QRImageURL string
}

// CreateInvoice calls createInvoice and extracts the QR payload from
// whichever of the upstream's several aliased response fields is
// populated (qr/emv_qr/paylink_url, qr_url/site_pay/link_app).
func (g *Gateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*InvoiceResult, error) {
	amountTiyin := int64(req.AmountSom * 100)

	data := params{
		{"order_id", req.OrderID},
		{"desc", req.Description},
		{"amount", amountTiyin},
		{"currency", "KGS"},
		{"test", boolToInt(g.testMode)},
	}
	data.addIf(req.UserID != "", "user_id", req.UserID)
	data.addIf(req.SendPush, "send_push", "Отправить Push")
	data.addIf(req.ResultURL != "", "result_url", req.ResultURL)
	data.addIf(req.SuccessURL != "", "success_url", req.SuccessURL)
	data.addIf(req.FailURL != "", "fail_url", req.FailURL)

	result, err := g.call(ctx, cmdCreateInvoice, data)
	if err != nil {
		return nil, err
	}

	respData, _ := result["data"].(map[string]interface{})
	if respData == nil {
		respData = result
	}
	if errVal, ok := respData["error"]; ok {
		return nil, &apierr.PermanentUpstream{Op: "payment.createInvoice", StatusCode: 0, Body: fmt.Sprintf("%v: %v", errVal, respData["desc"])}
	}

	return &InvoiceResult{
		InvoiceID:  stringField(respData, "invoice_id"),
		OrderID:    req.OrderID,
		QRData:     firstNonEmpty(respData, "qr", "emv_qr", "paylink_url"),
		QRImageURL: firstNonEmpty(respData, "qr_url", "site_pay", "link_app"),
	}, nil
}

// StatusResult is the outcome of CheckStatus.
type StatusResult struct {
	Status    Status
	StatusStr string
	InvoiceID string
	OrderID   string
	TransID   string
}

// CheckStatus calls statusPayment, decoding whichever of the two
// status representations (numeric status_pay, string status) the
// upstream populated.
func (g *Gateway) CheckStatus(ctx context.Context, invoiceID, orderID string) (*StatusResult, error) {
	if invoiceID == "" && orderID == "" {
		return nil, &apierr.BusinessRule{Rule: "invoice_id or order_id required"}
	}

	var data params
	data.addIf(invoiceID != "", "invoice_id", invoiceID)
	data.addIf(orderID != "", "order_id", orderID)

	result, err := g.call(ctx, cmdStatusPayment, data)
	if err != nil {
		return nil, err
	}

	respData, _ := result["data"].(map[string]interface{})
	if respData == nil {
		respData = result
	}
	if errVal, ok := respData["error"]; ok {
		return nil, &apierr.PermanentUpstream{Op: "payment.statusPayment", StatusCode: 0, Body: fmt.Sprintf("%v", errVal)}
	}

	paymentData := respData
	if payments, ok := respData["payments"].([]interface{}); ok && len(payments) > 0 {
		if first, ok := payments[0].(map[string]interface{}); ok {
			paymentData = first
		}
	}

	status, statusStr := decodeStatus(paymentData)

	return &StatusResult{
		Status:    status,
		StatusStr: statusStr,
		InvoiceID: stringField(paymentData, "invoice_id"),
		OrderID:   stringField(paymentData, "order_id"),
		TransID:   firstNonEmpty(paymentData, "trans_id", "trans"),
	}, nil
}

func decodeStatus(paymentData map[string]interface{}) (Status, string) {
	if raw, ok := paymentData["status_pay"]; ok {
		if n, ok := numericValue(raw); ok {
			return Status(n), ""
		}
	}
	if raw, ok := paymentData["status"].(string); ok && raw != "" {
		if status, found := statusStringMap[strings.ToLower(raw)]; found {
			return status, raw
		}
		return StatusPending, raw
	}
	return StatusPending, ""
}

// CancelInvoice cancels an unpaid invoice.
func (g *Gateway) CancelInvoice(ctx context.Context, invoiceID string) error {
	result, err := g.call(ctx, cmdInvoiceCancel, params{{"invoice_id", invoiceID}})
	if err != nil {
		return err
	}
	if result["status"] == "error" {
		return &apierr.PermanentUpstream{Op: "payment.invoiceCancel", StatusCode: 0, Body: stringField(result, "message")}
	}
	return nil
}

// VoidPayment fully reverses a completed transaction.
func (g *Gateway) VoidPayment(ctx context.Context, transID string) error {
	result, err := g.call(ctx, cmdVoidPayment, params{{"trans_id", transID}})
	if err != nil {
		return err
	}
	if result["status"] == "error" {
		return &apierr.PermanentUpstream{Op: "payment.voidPayment", StatusCode: 0, Body: stringField(result, "message")}
	}
	return nil
}

// RefundToEWallet partially refunds amountTiyin back to the payer's
// e-wallet.
func (g *Gateway) RefundToEWallet(ctx context.Context, transID string, amountTiyin int64) error {
	result, err := g.call(ctx, cmdRefundToEWallet, params{{"trans_id", transID}, {"amount", amountTiyin}})
	if err != nil {
		return err
	}
	if result["status"] == "error" {
		return &apierr.PermanentUpstream{Op: "payment.refundPaymentToEwallet", StatusCode: 0, Body: stringField(result, "message")}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func firstNonEmpty(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := stringField(m, k); v != "" {
			return v
		}
	}
	return ""
}

func numericValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
