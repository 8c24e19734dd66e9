package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

const forwardTimeout = 10 * time.Second

// ForwardTarget is one configured webhook receiver. When Secret is set the
// request carries an HMAC-SHA256 signature over the body.
type ForwardTarget struct {
	URL    string
	Secret string
}

// HTTPForwarder delivers outbox envelopes to the configured forward targets.
// A non-2xx or transport error from any target fails the whole delivery so
// the entry stays pending; targets therefore see at-least-once delivery and
// dedupe on the envelope event id.
type HTTPForwarder struct {
	targets []ForwardTarget
	client  *http.Client
	logger  *logging.Logger
}

func NewHTTPForwarder(targets []ForwardTarget, logger *logging.Logger) *HTTPForwarder {
	if logger == nil {
		logger = logging.Default()
	}
	valid := make([]ForwardTarget, 0, len(targets))
	for _, t := range targets {
		if strings.TrimSpace(t.URL) == "" {
			continue
		}
		valid = append(valid, ForwardTarget{URL: strings.TrimSpace(t.URL), Secret: t.Secret})
	}
	return &HTTPForwarder{
		targets: valid,
		client:  &http.Client{Timeout: forwardTimeout},
		logger:  logger,
	}
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (f *HTTPForwarder) WithHTTPClient(client *http.Client) *HTTPForwarder {
	if client != nil {
		f.client = client
	}
	return f
}

// Targets reports how many receivers are configured.
func (f *HTTPForwarder) Targets() int {
	return len(f.targets)
}

func (f *HTTPForwarder) Handle(ctx context.Context, entry OutboxEntry) error {
	if len(f.targets) == 0 {
		return nil
	}
	var firstErr error
	for _, target := range f.targets {
		if err := f.post(ctx, target, entry); err != nil {
			f.logger.Warn("webhook forward failed", "error", err, "url", target.URL, "event_id", entry.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (f *HTTPForwarder) post(ctx context.Context, target ForwardTarget, entry OutboxEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(entry.Payload))
	if err != nil {
		return fmt.Errorf("events: build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", entry.ID.String())
	req.Header.Set("X-Event-Type", entry.EventType)
	if strings.TrimSpace(target.Secret) != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(target.Secret, entry.Payload))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("events: forward request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("events: forward target returned %d", resp.StatusCode)
	}
	return nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
