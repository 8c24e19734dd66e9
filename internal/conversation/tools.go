package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/leads"
	"github.com/donforce/messaging-ai-platform/internal/reasoning"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// ToolKind tags the closed set of actions the reasoning API may request.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolHandoffToOperator
	ToolSendBookingLink
	ToolUpdateLeadNotes
	ToolLookupAccountStatus
)

// Wire names for the tool set, as declared to the reasoning API.
const (
	toolNameHandoff       = "handoff_to_operator"
	toolNameBookingLink   = "send_booking_link"
	toolNameUpdateNotes   = "update_lead_notes"
	toolNameAccountStatus = "lookup_account_status"
)

// KindOfTool maps a wire name to its tag. Unrecognized names return
// ToolUnknown rather than an error so the turn can acknowledge and continue.
func KindOfTool(name string) ToolKind {
	switch name {
	case toolNameHandoff:
		return ToolHandoffToOperator
	case toolNameBookingLink:
		return ToolSendBookingLink
	case toolNameUpdateNotes:
		return ToolUpdateLeadNotes
	case toolNameAccountStatus:
		return ToolLookupAccountStatus
	default:
		return ToolUnknown
	}
}

// HandoffArgs are the arguments for handoff_to_operator.
type HandoffArgs struct {
	Reason string `json:"reason"`
}

// UpdateLeadNotesArgs are the arguments for update_lead_notes.
type UpdateLeadNotesArgs struct {
	Notes string `json:"notes"`
}

// DefaultToolDefinitions returns the tool declarations sent with every turn.
func DefaultToolDefinitions() []reasoning.ToolDefinition {
	return []reasoning.ToolDefinition{
		{
			Name:        toolNameHandoff,
			Description: "Hand the conversation to a human operator when the customer asks for a person or the request is out of scope.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string","description":"Short reason for the handoff."}},"required":["reason"]}`),
		},
		{
			Name:        toolNameBookingLink,
			Description: "Retrieve the business booking link to share when the customer wants to schedule an appointment.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        toolNameUpdateNotes,
			Description: "Append a note to the customer's CRM record.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"notes":{"type":"string","description":"Note text to append."}},"required":["notes"]}`),
		},
		{
			Name:        toolNameAccountStatus,
			Description: "Look up the business account's plan and remaining credits.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

// ToolExecution is a resolved tool call ready to acknowledge and run. Output
// is deterministic at resolution time so it can be submitted to the
// reasoning API before the side effect runs; a crash mid-effect then never
// leaves the remote turn waiting on an acknowledgement. Run is nil for tools
// without a side effect.
type ToolExecution struct {
	Kind          ToolKind
	Output        string
	Run           func(ctx context.Context) error
	ReplyText     string
	Authoritative bool
}

// operatorNotifier delivers the human-handoff notification.
type operatorNotifier interface {
	NotifyHandoff(ctx context.Context, conversationID uuid.UUID, customerAddress, reason string) error
}

// leadNotesWriter appends CRM notes.
type leadNotesWriter interface {
	AppendNotes(ctx context.Context, userID, id uuid.UUID, notes string) error
}

// Toolbox resolves reasoning tool calls into executions.
type Toolbox struct {
	notifier     operatorNotifier
	leads        leadNotesWriter
	handoffReply string
	bookingURL   string
	logger       *logging.Logger
}

// NewToolbox builds a Toolbox. notifier and leads are optional; tools that
// need a missing dependency report the condition in their output instead of
// failing the turn. bookingURL is the fallback when the account has none.
func NewToolbox(notifier operatorNotifier, leadWriter leadNotesWriter, handoffReply, bookingURL string, logger *logging.Logger) *Toolbox {
	if handoffReply == "" {
		handoffReply = "One moment, I am connecting you with our team. Someone will reply here shortly."
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Toolbox{
		notifier:     notifier,
		leads:        leadWriter,
		handoffReply: handoffReply,
		bookingURL:   bookingURL,
		logger:       logger,
	}
}

// Resolve dispatches on the call's tag and builds its execution. Malformed
// arguments and unknown names become error payloads in the output so the
// remote turn is always acknowledged.
func (t *Toolbox) Resolve(conv *Conversation, call reasoning.ToolCall) *ToolExecution {
	switch KindOfTool(call.Name) {
	case ToolHandoffToOperator:
		return t.resolveHandoff(conv, call)
	case ToolSendBookingLink:
		return t.resolveBookingLink(conv)
	case ToolUpdateLeadNotes:
		return t.resolveUpdateNotes(conv, call)
	case ToolLookupAccountStatus:
		return t.resolveAccountStatus(conv)
	default:
		return &ToolExecution{
			Kind:   ToolUnknown,
			Output: toolErrorPayload(fmt.Sprintf("unknown tool %q", call.Name)),
		}
	}
}

func (t *Toolbox) resolveHandoff(conv *Conversation, call reasoning.ToolCall) *ToolExecution {
	var args HandoffArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return &ToolExecution{Kind: ToolHandoffToOperator, Output: toolErrorPayload("invalid arguments")}
		}
	}
	exec := &ToolExecution{
		Kind:          ToolHandoffToOperator,
		Output:        `{"status":"acknowledged","detail":"operator has been notified"}`,
		ReplyText:     t.handoffReply,
		Authoritative: true,
	}
	if t.notifier != nil {
		convID, customer, reason := conv.ID, conv.CustomerAddress, args.Reason
		exec.Run = func(ctx context.Context) error {
			if err := t.notifier.NotifyHandoff(ctx, convID, customer, reason); err != nil {
				return &ToolExecutionError{Tool: toolNameHandoff, Err: err}
			}
			return nil
		}
	}
	return exec
}

func (t *Toolbox) resolveBookingLink(conv *Conversation) *ToolExecution {
	url := t.bookingURL
	if conv.UserContext != nil && conv.UserContext.BookingURL != "" {
		url = conv.UserContext.BookingURL
	}
	if url == "" {
		return &ToolExecution{Kind: ToolSendBookingLink, Output: toolErrorPayload("no booking link configured")}
	}
	payload, _ := json.Marshal(map[string]string{"status": "ok", "booking_url": url})
	return &ToolExecution{Kind: ToolSendBookingLink, Output: string(payload)}
}

func (t *Toolbox) resolveUpdateNotes(conv *Conversation, call reasoning.ToolCall) *ToolExecution {
	var args UpdateLeadNotesArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Notes == "" {
		return &ToolExecution{Kind: ToolUpdateLeadNotes, Output: toolErrorPayload("notes argument is required")}
	}
	if t.leads == nil || conv.UserID == nil || conv.LeadID == nil {
		return &ToolExecution{Kind: ToolUpdateLeadNotes, Output: toolErrorPayload("no lead linked to this conversation")}
	}
	userID, leadID, notes := *conv.UserID, *conv.LeadID, args.Notes
	return &ToolExecution{
		Kind:   ToolUpdateLeadNotes,
		Output: `{"status":"ok"}`,
		Run: func(ctx context.Context) error {
			if err := t.leads.AppendNotes(ctx, userID, leadID, notes); err != nil {
				return &ToolExecutionError{Tool: toolNameUpdateNotes, Err: err}
			}
			return nil
		},
	}
}

func (t *Toolbox) resolveAccountStatus(conv *Conversation) *ToolExecution {
	if conv.UserContext == nil {
		return &ToolExecution{Kind: ToolLookupAccountStatus, Output: toolErrorPayload("account not resolved")}
	}
	payload, _ := json.Marshal(map[string]any{
		"name":    conv.UserContext.Name,
		"plan":    conv.UserContext.Plan,
		"credits": conv.UserContext.Credits,
	})
	return &ToolExecution{Kind: ToolLookupAccountStatus, Output: string(payload)}
}

func toolErrorPayload(msg string) string {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return string(payload)
}
