package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testChannelSecret = "test-channel-secret"

func newTestHandler(f *dispatcherFixture) *Handler {
	return NewHandler(testChannelSecret, f.d)
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handler, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWebhookDelivery(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	payload := `{"destination":"bot-1","events":[{"type":"message","replyToken":"rt-1",` +
		`"source":{"type":"user","userId":"U1"},"message":{"id":"T1","type":"text","text":"sunny day"}}]}`

	rr := postWebhook(h, payload, signPayload(testChannelSecret, payload))
	f.registry.Wait()

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if got, ok := f.store.Take("U1"); !ok || got != "sunny day" {
		t.Errorf("expected instruction stored via HTTP delivery, got %q (ok=%v)", got, ok)
	}
}

func TestWebhookImageDelivery(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	payload := `{"events":[{"type":"message","replyToken":"rt-1",` +
		`"source":{"type":"user","userId":"U1"},"message":{"id":"M1","type":"image"}}]}`

	rr := postWebhook(h, payload, signPayload(testChannelSecret, payload))
	f.registry.Wait()

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	published := f.publish.published()
	if len(published) != 1 || published[0].filename != "line_M1.jpg" {
		t.Errorf("expected publish of line_M1.jpg, got %v", published)
	}
}

func TestWebhookAcksDespiteEventFailure(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("download failed")
	h := newTestHandler(f)

	payload := `{"events":[{"type":"message","replyToken":"rt-1",` +
		`"source":{"type":"user","userId":"U1"},"message":{"id":"M1","type":"image"}}]}`

	rr := postWebhook(h, payload, signPayload(testChannelSecret, payload))

	// Handled-but-failed events still yield 200 so LINE does not redeliver
	// the batch and double-process successful siblings.
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 despite event failure, got %d", rr.Code)
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	payload := `{"events": not-json`
	rr := postWebhook(h, payload, signPayload(testChannelSecret, payload))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 for malformed body, got %d", rr.Code)
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	rr := postWebhook(h, `{"events":[]}`, "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	payload := `{"events":[]}`
	rr := postWebhook(h, payload, signPayload("wrong-secret", payload))
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestWebhookSignatureCheckDisabled(t *testing.T) {
	f := newFixture()
	h := NewHandler("", f.d)

	rr := postWebhook(h, `{"events":[]}`, "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 with verification disabled, got %d", rr.Code)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	f := newFixture()
	h := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}
