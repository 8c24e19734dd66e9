package messaging

import (
	"fmt"
	"net/http"
)

// InboundWebhook represents an inbound message webhook from the channel
// provider. Providers deliver fields form-encoded, query-encoded, or a mix of
// both depending on the channel configuration.
type InboundWebhook struct {
	MessageSid string
	AccountSid string
	From       string
	To         string
	Body       string
}

// ParseInboundWebhook extracts the inbound message fields from a provider
// webhook request. Form values win over query parameters when both are set.
func ParseInboundWebhook(r *http.Request) (*InboundWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse webhook form: %w", err)
	}

	return &InboundWebhook{
		MessageSid: formOrQuery(r, "MessageSid"),
		AccountSid: formOrQuery(r, "AccountSid"),
		From:       formOrQuery(r, "From"),
		To:         formOrQuery(r, "To"),
		Body:       formOrQuery(r, "Body"),
	}, nil
}

// StatusCallback represents an asynchronous delivery-status update for a
// previously sent message.
type StatusCallback struct {
	MessageSid   string
	Status       string
	ErrorCode    string
	ErrorMessage string
}

// ParseStatusCallback extracts delivery-status fields from a provider
// callback request.
func ParseStatusCallback(r *http.Request) (*StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse status form: %w", err)
	}

	return &StatusCallback{
		MessageSid:   formOrQuery(r, "MessageSid"),
		Status:       formOrQuery(r, "MessageStatus"),
		ErrorCode:    formOrQuery(r, "ErrorCode"),
		ErrorMessage: formOrQuery(r, "ErrorMessage"),
	}, nil
}

// formOrQuery reads a webhook field from the POST form first and falls back
// to the URL query string. r.FormValue alone is not enough: it prefers query
// values, and providers that post form bodies expect those to win.
func formOrQuery(r *http.Request, key string) string {
	if v := r.PostForm.Get(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}
