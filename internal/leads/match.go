package leads

import (
	"strings"

	"github.com/donforce/messaging-ai-platform/internal/messaging"
)

// DefaultCountryCode is prepended or stripped when widening a phone lookup.
const DefaultCountryCode = "1"

// MatchStrategy produces one candidate representation of a phone number for a
// lead lookup. A strategy returns "" when it does not apply to the input.
//
// Strategies are tried strictly in order and the first candidate that matches
// a stored lead wins, so the slice below is the precedence policy: an exact
// match always beats a fuzzier one.
type MatchStrategy struct {
	Name      string
	Transform func(phone string) string
}

// PhoneMatchStrategies is the ordered phone-matching policy used when linking
// a conversation to a CRM lead.
var PhoneMatchStrategies = []MatchStrategy{
	{
		Name: "exact",
		Transform: func(phone string) string {
			return strings.TrimSpace(phone)
		},
	},
	{
		Name: "normalized-e164",
		Transform: func(phone string) string {
			return messaging.NormalizeE164(phone)
		},
	},
	{
		Name: "bare-digits",
		Transform: func(phone string) string {
			return messaging.SanitizePhone(phone)
		},
	},
	{
		Name: "without-country-code",
		Transform: func(phone string) string {
			digits := messaging.SanitizePhone(phone)
			if len(digits) > 10 && strings.HasPrefix(digits, DefaultCountryCode) {
				return digits[len(DefaultCountryCode):]
			}
			return ""
		},
	},
	{
		Name: "with-country-code",
		Transform: func(phone string) string {
			digits := messaging.SanitizePhone(phone)
			if digits != "" && !strings.HasPrefix(digits, DefaultCountryCode) {
				return "+" + DefaultCountryCode + digits
			}
			return ""
		},
	},
	{
		Name: "plus-without-country-code",
		Transform: func(phone string) string {
			digits := messaging.SanitizePhone(phone)
			if len(digits) > 10 && strings.HasPrefix(digits, DefaultCountryCode) {
				return "+" + digits[len(DefaultCountryCode):]
			}
			return ""
		},
	},
}

// MatchCandidates applies the ordered strategies to a phone number and
// returns the distinct candidates in precedence order.
func MatchCandidates(phone string) []string {
	seen := make(map[string]struct{})
	candidates := make([]string, 0, len(PhoneMatchStrategies))
	for _, strategy := range PhoneMatchStrategies {
		candidate := strategy.Transform(phone)
		if candidate == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, candidate)
	}
	return candidates
}
