// Package attribution turns dispatched replies into normalized conversion
// signals for the ad-platform conversions API. Detection scans the reply
// text that actually went out; dispatch is fire-and-forget so the webhook
// response never waits on it.
package attribution

import (
	"strings"
	"unicode"
)

// Confidence ranks how strong a detected signal is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Standard conversion event names understood by the conversions API.
const (
	EventSchedule = "Schedule"
	EventLead     = "Lead"
)

const defaultCurrency = "USD"

// Signal is one detected conversion event. At most one signal is emitted
// per reply.
type Signal struct {
	EventName  string
	Confidence Confidence
	Value      float64
	Currency   string
}

// defaultKeywords are matched as whole tokens so that, for example, a URL
// containing "facebook" never trips the "book" keyword.
var defaultKeywords = []string{
	"book", "booking", "booked",
	"appointment", "appointments",
	"schedule", "scheduled", "scheduling",
	"reserve", "reservation",
	"consult", "consultation",
	"interested",
}

// Detector scans reply text for conversion signals. A booking link in the
// reply outranks keyword interest; only the stronger signal is reported.
type Detector struct {
	bookingLinks []string
	keywords     map[string]struct{}
	highValue    float64
	mediumValue  float64
}

// DetectorOption customizes detection.
type DetectorOption func(*Detector)

// WithKeywords replaces the default interest keyword set.
func WithKeywords(keywords []string) DetectorOption {
	return func(d *Detector) {
		if len(keywords) == 0 {
			return
		}
		d.keywords = make(map[string]struct{}, len(keywords))
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				d.keywords[kw] = struct{}{}
			}
		}
	}
}

// WithSignalValues overrides the monetary value attached to each
// confidence level.
func WithSignalValues(high, medium float64) DetectorOption {
	return func(d *Detector) {
		if high > 0 {
			d.highValue = high
		}
		if medium > 0 {
			d.mediumValue = medium
		}
	}
}

// NewDetector builds a detector. bookingLinks lists globally configured
// booking URL fragments; per-account links are passed to Detect.
func NewDetector(bookingLinks []string, opts ...DetectorOption) *Detector {
	d := &Detector{
		keywords:    make(map[string]struct{}, len(defaultKeywords)),
		highValue:   25,
		mediumValue: 5,
	}
	for _, link := range bookingLinks {
		link = strings.TrimSpace(link)
		if link != "" {
			d.bookingLinks = append(d.bookingLinks, strings.ToLower(link))
		}
	}
	for _, kw := range defaultKeywords {
		d.keywords[kw] = struct{}{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Detect scans the reply text. extraLinks adds per-call booking links, such
// as the resolved account's own booking URL.
func (d *Detector) Detect(replyText string, extraLinks ...string) (Signal, bool) {
	lower := strings.ToLower(replyText)
	if strings.TrimSpace(lower) == "" {
		return Signal{}, false
	}

	for _, link := range d.bookingLinks {
		if strings.Contains(lower, link) {
			return d.highSignal(), true
		}
	}
	for _, link := range extraLinks {
		link = strings.ToLower(strings.TrimSpace(link))
		if link != "" && strings.Contains(lower, link) {
			return d.highSignal(), true
		}
	}

	for _, token := range tokenize(lower) {
		if _, ok := d.keywords[token]; ok {
			return Signal{
				EventName:  EventLead,
				Confidence: ConfidenceMedium,
				Value:      d.mediumValue,
				Currency:   defaultCurrency,
			}, true
		}
	}
	return Signal{}, false
}

func (d *Detector) highSignal() Signal {
	return Signal{
		EventName:  EventSchedule,
		Confidence: ConfidenceHigh,
		Value:      d.highValue,
		Currency:   defaultCurrency,
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
