package messaging

import "strings"

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := SanitizePhone(value)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// SanitizePhone strips every non-digit character from the value.
func SanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripChannelPrefix removes a channel scheme prefix such as "whatsapp:" from
// an address, returning the bare phone number. Addresses without a prefix are
// returned unchanged.
func StripChannelPrefix(address string) string {
	if idx := strings.Index(address, ":"); idx >= 0 {
		return address[idx+1:]
	}
	return address
}
