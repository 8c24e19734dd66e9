package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Provider-Signature"

// ValidateSignature checks that a webhook request was signed by the channel
// provider. The scheme is HMAC-SHA1 over the full webhook URL concatenated
// with the sorted POST parameters, base64-encoded.
func ValidateSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		return false
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	expected := ComputeSignature(authToken, webhookURL, r.PostForm)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ComputeSignature builds the provider signature for a webhook URL and its
// POST parameters. Exported so tests and outbound forwarding can sign payloads
// the same way the provider does.
func ComputeSignature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
