package attribution

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// Config controls the conversions API client.
type Config struct {
	EndpointURL string
	AccessToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *logging.Logger
}

// Client posts conversion events to the configured attribution endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.EndpointURL)
	if endpoint == "" {
		return nil, errors.New("attribution: endpoint URL is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("attribution: access token is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		endpoint:   endpoint,
		token:      cfg.AccessToken,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// UserData carries hashed identity fields. Raw identifiers never leave the
// process.
type UserData struct {
	HashedPhones []string `json:"ph,omitempty"`
	ExternalIDs  []string `json:"external_id,omitempty"`
}

// CustomData carries the monetary value assigned to the signal.
type CustomData struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Event is one conversion event in the conversions API wire format.
type Event struct {
	EventName    string     `json:"event_name"`
	EventTime    int64      `json:"event_time"`
	EventID      string     `json:"event_id"`
	ActionSource string     `json:"action_source"`
	UserData     UserData   `json:"user_data"`
	CustomData   CustomData `json:"custom_data"`
}

type eventsRequest struct {
	Data []Event `json:"data"`
}

// SendEvent posts a single conversion event. The event id doubles as the
// dedupe key on the receiving side, so retries are safe.
func (c *Client) SendEvent(ctx context.Context, evt Event) error {
	if strings.TrimSpace(evt.EventName) == "" {
		return errors.New("attribution: event name is required")
	}
	if strings.TrimSpace(evt.EventID) == "" {
		return errors.New("attribution: event id is required")
	}
	if evt.ActionSource == "" {
		evt.ActionSource = "chat"
	}
	if evt.EventTime == 0 {
		evt.EventTime = time.Now().Unix()
	}

	body, err := json.Marshal(eventsRequest{Data: []Event{evt}})
	if err != nil {
		return fmt.Errorf("attribution: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("attribution: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("attribution: send event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("attribution: endpoint returned %d", resp.StatusCode)
	}
	c.logger.Debug("attribution event sent", "event_name", evt.EventName, "event_id", evt.EventID)
	return nil
}

// HashPhone normalizes a phone number to digits and returns its SHA-256
// hex digest, the shape the conversions API expects for phone identity.
func HashPhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(digits.String()))
	return hex.EncodeToString(sum[:])
}
