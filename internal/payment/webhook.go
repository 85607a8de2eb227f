package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/repository"
)

// UserNotifier is the narrow slice of the broadcast publisher that
// Finalise needs to close out a paid invoice: clear the user's QR
// message and deliver the confirmation, then fan out to operators.
type UserNotifier interface {
	SendMessageTo(ctx context.Context, chatID, text string) (int, error)
	DeleteMessage(ctx context.Context, chatID string, messageID int) error
	NotifyOperators(ctx context.Context, adminChatIDs []string, text string) (int, error)
}

// Callback is the parsed, verified webhook payload, mirroring
// original_source's parse_callback return shape.
type Callback struct {
	InvoiceID string
	OrderID   string
	Status    Status
	StatusStr string
	TransID   string
}

// VerifySignature checks an O-Dengi webhook body's HMAC-MD5 "hash"
// field against the configured password.
//
// It hashes the field exactly as received on the wire — with the
// "hash" member stripped but every other byte, including field order,
// left untouched — because encoding/json marshals Go maps with keys
// sorted alphabetically, which would silently recompute a different
// signature than the one O-Dengi actually sent for an insertion-order
// payload. Re-parsing into a map and re-marshalling would break
// verification for any callback whose JSON field order isn't already
// alphabetical.
//
// WebhookStrict controls legacy callbacks with no hash field at all:
// when false (the default, matching original_source), a missing hash
// is accepted with a caller-visible warning for backward compatibility
// with gateway configurations that predate signing; when true, a
// missing hash is rejected outright.
func (g *Gateway) VerifySignature(rawBody []byte, strict bool) (ok bool, warning string, err error) {
	var probe map[string]interface{}
	if err := json.Unmarshal(rawBody, &probe); err != nil {
		return false, "", &apierr.SchemaMismatch{Source: "payment.webhook", Field: "body"}
	}

	receivedHash, _ := probe["hash"].(string)
	if receivedHash == "" {
		if strict {
			return false, "", nil
		}
		return true, "webhook callback received without hash signature", nil
	}

	stripped, err := stripJSONField(rawBody, "hash")
	if err != nil {
		return false, "", &apierr.SchemaMismatch{Source: "payment.webhook", Field: "hash"}
	}

	mac := hmac.New(md5.New, []byte(g.password))
	mac.Write(stripped)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return false, "", nil
	}
	return true, "", nil
}

// stripJSONField removes one top-level string/number/bool member from
// a compact JSON object's raw bytes while preserving the byte order of
// every remaining member, using the decoder's token stream rather than
// map round-tripping.
func stripJSONField(raw []byte, field string) ([]byte, error) {
	var ordered []struct {
		Key   string
		Value json.RawMessage
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		ordered = append(ordered, struct {
			Key   string
			Value json.RawMessage
		}{Key: key, Value: raw})
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, kv := range ordered {
		if kv.Key == field {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyJSON, _ := json.Marshal(kv.Key)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(kv.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseCallback verifies and decodes a webhook body, returning the
// standardized fields parse_callback produces. The caller is
// responsible for rejecting the event when err is a *apierr.SignatureInvalid.
func (g *Gateway) ParseCallback(rawBody []byte, strict bool) (*Callback, error) {
	ok, warning, err := g.VerifySignature(rawBody, strict)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apierr.SignatureInvalid{Reason: "HMAC-MD5 mismatch on webhook callback"}
	}
	if warning != "" {
		log.Printf("payment: %s", warning)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(rawBody, &data); err != nil {
		return nil, &apierr.SchemaMismatch{Source: "payment.webhook", Field: "body"}
	}

	status, statusStr := decodeStatus(data)

	return &Callback{
		InvoiceID: stringField(data, "invoice_id"),
		OrderID:   stringField(data, "order_id"),
		Status:    status,
		StatusStr: statusStr,
		TransID:   firstNonEmpty(data, "trans", "trans_id"),
	}, nil
}

// Finalise applies a verified callback's status transition to the
// invoice record. PENDING->PAID goes through InvoiceRepository's
// race-safe FinaliseToPaid; every other status is a direct SetStatus,
// since only the paid transition carries the duplicate-delivery risk
// a webhook retry creates.
//
// On the PAID transition, applied is true only for the call that
// actually flips the row (a duplicate webhook or poll sees applied =
// false and skips the rest), so the QR-message cleanup, user
// confirmation, and operator fan-out below each fire at most once per
// invoice regardless of how many times the gateway retries delivery.
// notifier may be nil (e.g. in tests exercising only the status
// transition); its failures are logged and never turn a successful
// finalise into an error, since the money has already moved.
func Finalise(ctx context.Context, repo *repository.InvoiceRepository, cb *Callback, notifier UserNotifier, adminChatIDs []string) (applied bool, err error) {
	if cb.Status != StatusPaid {
		if err := repo.SetStatus(cb.InvoiceID, cb.Status.ToInvoiceStatus()); err != nil {
			if err == repository.ErrInvoiceNotFound {
				return false, &apierr.BusinessRule{Rule: fmt.Sprintf("webhook references unknown invoice %s", cb.InvoiceID)}
			}
			return false, err
		}
		return true, nil
	}

	applied, err = repo.FinaliseToPaid(cb.InvoiceID)
	if err != nil {
		return false, err
	}
	if !applied || notifier == nil {
		return applied, nil
	}

	closeOutPaidInvoice(ctx, repo, cb.InvoiceID, notifier, adminChatIDs)
	return true, nil
}

// closeOutPaidInvoice performs the three best-effort side effects of
// a just-applied PAID transition. Each step is independent: a failure
// deleting the QR message must not suppress the user's confirmation,
// and a failure notifying the user must not suppress the operator
// fan-out.
func closeOutPaidInvoice(ctx context.Context, repo *repository.InvoiceRepository, invoiceID string, notifier UserNotifier, adminChatIDs []string) {
	inv, err := repo.ByPaymentID(invoiceID)
	if err != nil {
		log.Printf("payment: could not reload invoice %s to close it out: %v", invoiceID, err)
		return
	}

	if inv.MessageID != nil && *inv.MessageID != "" {
		if msgID, convErr := strconv.Atoi(*inv.MessageID); convErr == nil {
			if derr := notifier.DeleteMessage(ctx, inv.UserChannelID, msgID); derr != nil {
				log.Printf("payment: failed to delete QR message for invoice %s: %v", invoiceID, derr)
			}
		}
	}

	successText := fmt.Sprintf("✅ Оплата получена! Заказ на сумму %s сом подтверждён. Спасибо, что выбрали Тулпар Экспресс!", inv.Amount.StringFixed(0))
	if _, serr := notifier.SendMessageTo(ctx, inv.UserChannelID, successText); serr != nil {
		log.Printf("payment: failed to send paid confirmation for invoice %s: %v", invoiceID, serr)
	}

	if len(adminChatIDs) > 0 {
		opText := fmt.Sprintf("💰 Оплата #%s получена: %s сом (%s)", invoiceID, inv.Amount.StringFixed(0), inv.Description)
		if _, oerr := notifier.NotifyOperators(ctx, adminChatIDs, opText); oerr != nil {
			log.Printf("payment: failed to notify operators for invoice %s: %v", invoiceID, oerr)
		}
	}
}
