package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

var senderTracer = otel.Tracer("internal/messaging")

// HTTPSender posts outbound messages to the channel provider's REST API.
type HTTPSender struct {
	baseURL    string
	accountSID string
	authToken  string
	maxRetries int
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPSender builds a sender with sane defaults.
func NewHTTPSender(baseURL, accountSID, authToken string, logger *logging.Logger) *HTTPSender {
	if logger == nil {
		logger = logging.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &HTTPSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		maxRetries: 3,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// WithMaxRetries overrides the send attempt budget.
func (s *HTTPSender) WithMaxRetries(n int) *HTTPSender {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// Send dispatches a single message and returns the provider-assigned message
// id. Transient failures (network errors, 429, 5xx) are retried with jittered
// backoff; other 4xx responses fail immediately.
func (s *HTTPSender) Send(ctx context.Context, from, to, body string) (string, error) {
	if s.accountSID == "" || s.authToken == "" {
		return "", errors.New("messaging: provider credentials missing")
	}
	if to == "" {
		return "", errors.New("messaging: to required")
	}
	if from == "" {
		return "", errors.New("messaging: from required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("messaging: body required")
	}

	ctx, span := senderTracer.Start(ctx, "messaging.send")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(s.accountSID, s.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.SID == "" {
					s.logger.Warn("provider response missing message sid", "status", resp.StatusCode)
				}
				s.logger.Info("message sent", "to", to, "provider_message_id", parsed.SID)
				return parsed.SID, nil
			}
			lastErr = fmt.Errorf("messaging: send failed: %s", formatProviderError(resp.StatusCode, respBody))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < s.maxRetries {
			sleep := time.Duration(200+rand.Intn(300)) * time.Millisecond
			time.Sleep(sleep)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return "", lastErr
}

type providerAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatProviderError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed providerAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
