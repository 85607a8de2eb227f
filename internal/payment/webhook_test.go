package payment

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signBody(t *testing.T, password string, bodyWithoutHash []byte) string {
	t.Helper()
	mac := hmac.New(md5.New, []byte(password))
	mac.Write(bodyWithoutHash)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureAcceptsValidHash(t *testing.T) {
	g := newTestGateway("")
	stripped := []byte(`{"invoice_id":"inv1","status_pay":1}`)
	hash := signBody(t, g.password, stripped)
	full := []byte(`{"invoice_id":"inv1","status_pay":1,"hash":"` + hash + `"}`)

	ok, warning, err := g.VerifySignature(full, false)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, warning)
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	g := newTestGateway("")
	stripped := []byte(`{"invoice_id":"inv1","status_pay":1}`)
	hash := signBody(t, g.password, stripped)
	tampered := []byte(`{"invoice_id":"inv1","status_pay":2,"hash":"` + hash + `"}`)

	ok, _, err := g.VerifySignature(tampered, false)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifySignatureMissingHashAcceptedWhenNotStrict(t *testing.T) {
	g := newTestGateway("")
	body := []byte(`{"invoice_id":"inv1","status_pay":1}`)

	ok, warning, err := g.VerifySignature(body, false)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, warning)
}

func TestVerifySignatureMissingHashRejectedWhenStrict(t *testing.T) {
	g := newTestGateway("")
	body := []byte(`{"invoice_id":"inv1","status_pay":1}`)

	ok, _, err := g.VerifySignature(body, true)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestParseCallbackDecodesStandardFields(t *testing.T) {
	g := newTestGateway("")
	stripped := []byte(`{"invoice_id":"inv1","order_id":"order1","status_pay":1,"trans":"tx1"}`)
	hash := signBody(t, g.password, stripped)
	full := []byte(`{"invoice_id":"inv1","order_id":"order1","status_pay":1,"trans":"tx1","hash":"` + hash + `"}`)

	cb, err := g.ParseCallback(full, false)
	assert.NoError(t, err)
	assert.Equal(t, "inv1", cb.InvoiceID)
	assert.Equal(t, "order1", cb.OrderID)
	assert.Equal(t, StatusPaid, cb.Status)
	assert.Equal(t, "tx1", cb.TransID)
}

func TestParseCallbackRejectsBadSignature(t *testing.T) {
	g := newTestGateway("")
	body := []byte(`{"invoice_id":"inv1","status_pay":1,"hash":"deadbeef"}`)

	_, err := g.ParseCallback(body, false)
	assert.Error(t, err)
}

func TestStripJSONFieldPreservesRemainingFieldOrder(t *testing.T) {
	out, err := stripJSONField([]byte(`{"b":2,"a":1,"hash":"xyz"}`), "hash")
	assert.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":1}`, string(out))
}
