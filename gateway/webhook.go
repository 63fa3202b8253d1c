package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"gitpay/intake"
)

const maxWebhookBody = 1 << 20

// handleWebhook verifies the delivery signature and feeds the payload to the
// intake pipeline. Unsigned deliveries are rejected whenever a secret is
// configured.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "unavailable", "webhook intake is not configured")
		return
	}
	body, err := readRequestBody(w, r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "unable to read request body")
		return
	}
	if s.cfg.WebhookSecret != "" {
		if !verifySignature(s.cfg.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			s.log.Warn("webhook delivery rejected, bad signature",
				"delivery", r.Header.Get("X-GitHub-Delivery"))
			writeErrorMessage(w, http.StatusUnauthorized, "bad_signature", "signature verification failed")
			return
		}
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "" && event != "issue_comment" {
		writeJSON(w, http.StatusOK, intake.Result{Ignored: true, Reason: "unhandled event type"})
		return
	}

	var event intake.CommentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "validation", "invalid event payload")
		return
	}
	result, err := s.events.HandleCommentEvent(r.Context(), event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// verifySignature checks the sha256= HMAC header GitHub-style webhooks carry.
func verifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	defer r.Body.Close()
	reader := http.MaxBytesReader(w, r.Body, maxWebhookBody)
	return io.ReadAll(reader)
}
