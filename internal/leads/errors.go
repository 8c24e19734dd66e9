package leads

import "errors"

// Validation and lookup failures surfaced to callers. Webhook-driven callers
// treat these as advisory: a conversation proceeds without a lead binding.
var (
	ErrInvalidName    = errors.New("name is required")
	ErrMissingContact = errors.New("either email or phone is required")
	ErrMissingUserID  = errors.New("user id is required")
	ErrLeadNotFound   = errors.New("lead not found")
)
