// Package webhook provides the HTTP handler and event dispatcher for LINE
// webhook deliveries.
//
// LINE sends a JSON payload with an events array, signed with
// X-Line-Signature (HMAC-SHA256 over the raw body using the channel
// secret, base64-encoded). The handler validates the signature, dispatches
// every event concurrently, and acknowledges the delivery with 200 once
// all events have settled — even when individual events failed. The
// acknowledgment is protocol-dictated: a non-2xx would make LINE redeliver
// the whole batch and double-process the events that did succeed. Only a
// body that cannot be parsed at all yields a 500.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/line-instagram-relay/internal/line"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20 // 1 MB

// Handler handles LINE webhook deliveries.
type Handler struct {
	channelSecret string
	dispatcher    *Dispatcher
}

// NewHandler creates a webhook handler. channelSecret verifies
// X-Line-Signature; empty disables verification.
func NewHandler(channelSecret string, dispatcher *Dispatcher) *Handler {
	return &Handler{
		channelSecret: channelSecret,
		dispatcher:    dispatcher,
	}
}

// ServeHTTP handles POST webhook deliveries.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.channelSecret != "" {
		signature := r.Header.Get("X-Line-Signature")
		if signature == "" {
			log.Warn().Msg("Webhook: missing X-Line-Signature header")
			http.Error(w, "missing signature", http.StatusForbidden)
			return
		}
		if !line.ValidateSignature(h.channelSecret, body, signature) {
			log.Warn().Msg("Webhook: invalid signature")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// Parse failure happens before per-event dispatch begins, so it is
		// the one batch-level failure surfaced to the sender.
		log.Error().Err(err).Int("bodySize", len(body)).Msg("Webhook: malformed body")
		http.Error(w, "malformed body", http.StatusInternalServerError)
		return
	}

	log.Info().Int("events", len(req.Events)).Msg("Webhook delivery received")
	h.dispatcher.DispatchBatch(r.Context(), req.Events)

	w.WriteHeader(http.StatusOK)
}
