// Package identity resolves inbound channel addresses to platform accounts
// and carries the request-scoped account snapshot used by later pipeline
// stages.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Account is a platform customer that owns one or more provisioned channel
// numbers.
type Account struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Plan           string    `json:"plan"`
	Credits        int       `json:"credits"`
	ChannelAddress string    `json:"channel_address"`
	Instructions   string    `json:"instructions"`
	BookingURL     string    `json:"booking_url"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserContext is a transient snapshot of the account attached to a resolved
// conversation for the duration of one webhook request. It is never persisted
// with the conversation.
type UserContext struct {
	UserID       uuid.UUID `json:"user_id"`
	Name         string    `json:"name"`
	Plan         string    `json:"plan"`
	Credits      int       `json:"credits"`
	BookingURL   string    `json:"booking_url,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
}

// Snapshot converts the account row into the request-scoped context shape.
func (a *Account) Snapshot() *UserContext {
	return &UserContext{
		UserID:       a.ID,
		Name:         a.Name,
		Plan:         a.Plan,
		Credits:      a.Credits,
		BookingURL:   a.BookingURL,
		Instructions: a.Instructions,
	}
}
