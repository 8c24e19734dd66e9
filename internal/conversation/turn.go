package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/donforce/messaging-ai-platform/internal/reasoning"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// maxToolRounds bounds the acknowledge-and-continue loop so a misbehaving
// remote turn cannot spin forever.
const maxToolRounds = 8

// DefaultFallbackReply is sent when the reasoning API fails in any way.
const DefaultFallbackReply = "Sorry, we are having trouble responding right now. Please try again in a few minutes."

// reasoningClient is the slice of the reasoning API the orchestrator drives.
type reasoningClient interface {
	SubmitTurn(ctx context.Context, req reasoning.TurnRequest) (*reasoning.TurnResponse, error)
	SubmitToolOutput(ctx context.Context, turnID string, output reasoning.ToolOutput) (*reasoning.TurnResponse, error)
	GetTurn(ctx context.Context, turnID string) (*reasoning.TurnStatus, error)
}

// Orchestrator drives one reasoning turn per inbound message: dispatch,
// tool-call acknowledgement, side effects, and reply selection.
type Orchestrator struct {
	client    reasoningClient
	toolbox   *Toolbox
	assembler *Assembler
	fallback  string
	persona   string
	logger    *logging.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithFallbackReply overrides the apology text used when reasoning fails.
func WithFallbackReply(text string) OrchestratorOption {
	return func(o *Orchestrator) {
		if text != "" {
			o.fallback = text
		}
	}
}

// WithPersona overrides the base assistant instructions.
func WithPersona(text string) OrchestratorOption {
	return func(o *Orchestrator) {
		if text != "" {
			o.persona = text
		}
	}
}

const defaultPersona = "You are a friendly, concise assistant answering customers over text message on behalf of the business. Answer in the customer's language. Keep replies under 300 characters when possible. Use the available tools when the customer wants to book, needs a human, or shares details worth recording."

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(client reasoningClient, toolbox *Toolbox, assembler *Assembler, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if client == nil {
		panic("conversation: orchestrator requires a reasoning client")
	}
	if toolbox == nil {
		panic("conversation: orchestrator requires a toolbox")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		client:    client,
		toolbox:   toolbox,
		assembler: assembler,
		fallback:  DefaultFallbackReply,
		persona:   defaultPersona,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TurnResult is the outcome of one reasoning turn.
type TurnResult struct {
	ReplyText         string
	ContinuationToken string
	UsedFallback      bool
}

// RunTurn executes one reasoning turn for an inbound message that has
// already been persisted. It never returns an error: any reasoning failure
// degrades to the fallback reply so the customer always hears back. The
// returned continuation token is the last one obtained, or "" when the turn
// never completed a round.
func (o *Orchestrator) RunTurn(ctx context.Context, conv *Conversation, inbound *Message) TurnResult {
	ctx, span := tracer.Start(ctx, "orchestrator.run_turn", trace.WithAttributes(
		attribute.String("conversation.id", conv.ID.String()),
	))
	defer span.End()

	token := conv.ContinuationToken()
	if token != "" {
		token = o.recoverPendingCalls(ctx, conv, token)
	}

	req := reasoning.TurnRequest{
		Instructions:      o.composeInstructions(conv),
		Input:             o.composeInput(ctx, conv, inbound),
		ContinuationToken: token,
		Tools:             DefaultToolDefinitions(),
	}

	resp, err := o.client.SubmitTurn(ctx, req)
	if err != nil {
		remoteErr := &RemoteAPIError{Op: "submit_turn", Err: err}
		span.RecordError(remoteErr)
		o.logger.Error("reasoning turn failed",
			"conversation_id", conv.ID, "error", remoteErr)
		return TurnResult{ReplyText: o.fallback, UsedFallback: true}
	}

	result := o.driveToolRounds(ctx, conv, resp)
	span.SetAttributes(attribute.Bool("turn.used_fallback", result.UsedFallback))
	return result
}

// driveToolRounds acknowledges tool calls round by round until the remote
// turn produces text or the round budget runs out. Each round's placeholder
// output goes to the API before the tool's side effect runs, and the token
// kept is always the newest one.
func (o *Orchestrator) driveToolRounds(ctx context.Context, conv *Conversation, resp *reasoning.TurnResponse) TurnResult {
	token := resp.TurnID
	text := resp.Text
	var authoritative string

	for round := 0; resp.HasToolCalls() && round < maxToolRounds; round++ {
		call := resp.ToolCalls[0]
		exec := o.toolbox.Resolve(conv, call)

		next, err := o.client.SubmitToolOutput(ctx, token, reasoning.ToolOutput{
			CallID: call.CallID,
			Output: exec.Output,
		})
		if err != nil {
			remoteErr := &RemoteAPIError{Op: "submit_tool_output", Err: err}
			o.logger.Error("tool acknowledgement failed",
				"conversation_id", conv.ID, "tool", call.Name, "error", remoteErr)
			return o.finalize(conv, token, text, authoritative, true)
		}
		token = next.TurnID
		if next.Text != "" {
			text = next.Text
		}

		o.runSideEffect(ctx, conv, call.Name, exec)
		if exec.Authoritative {
			authoritative = exec.ReplyText
		}
		resp = next
	}
	if resp.HasToolCalls() {
		o.logger.Warn("tool round budget exhausted",
			"conversation_id", conv.ID, "pending", len(resp.ToolCalls))
	}
	return o.finalize(conv, token, text, authoritative, false)
}

func (o *Orchestrator) runSideEffect(ctx context.Context, conv *Conversation, name string, exec *ToolExecution) {
	if exec.Run == nil {
		return
	}
	// The call is already acknowledged. A side effect failure is logged
	// and absorbed, never sent back to the customer.
	if err := exec.Run(ctx); err != nil {
		o.logger.Error("tool side effect failed",
			"conversation_id", conv.ID, "tool", name, "error", err)
	}
}

// finalize picks the reply: authoritative tool text wins, then the model's
// text, then the fallback apology.
func (o *Orchestrator) finalize(conv *Conversation, token, text, authoritative string, remoteFailed bool) TurnResult {
	result := TurnResult{ContinuationToken: token}
	switch {
	case authoritative != "":
		result.ReplyText = authoritative
	case text != "":
		result.ReplyText = text
	default:
		result.ReplyText = o.fallback
		result.UsedFallback = true
	}
	if remoteFailed && authoritative == "" && text == "" {
		result.UsedFallback = true
	}
	return result
}

// recoverPendingCalls acknowledges tool calls left dangling by a previous
// turn that crashed between dispatch and finalize. The remote turn sequence
// must never be left waiting on an output, so the pending calls get their
// placeholder outputs before the new inbound text is submitted. Returns the
// token to resume from.
func (o *Orchestrator) recoverPendingCalls(ctx context.Context, conv *Conversation, token string) string {
	status, err := o.client.GetTurn(ctx, token)
	if err != nil {
		o.logger.Warn("pending call check failed",
			"conversation_id", conv.ID, "error", err)
		return token
	}
	for _, call := range status.PendingToolCalls {
		exec := o.toolbox.Resolve(conv, call)
		next, err := o.client.SubmitToolOutput(ctx, token, reasoning.ToolOutput{
			CallID: call.CallID,
			Output: exec.Output,
		})
		if err != nil {
			o.logger.Warn("pending call recovery failed",
				"conversation_id", conv.ID, "tool", call.Name, "error", err)
			return token
		}
		o.logger.Info("recovered orphaned tool call",
			"conversation_id", conv.ID, "tool", call.Name, "call_id", call.CallID)
		token = next.TurnID
		o.runSideEffect(ctx, conv, call.Name, exec)
	}
	return token
}

// composeInstructions builds the per-turn system prompt from the persona and
// whatever account and lead context resolved for this request.
func (o *Orchestrator) composeInstructions(conv *Conversation) string {
	var b strings.Builder
	b.WriteString(o.persona)
	if uc := conv.UserContext; uc != nil {
		fmt.Fprintf(&b, "\n\nBusiness: %s (plan: %s, credits remaining: %d).", uc.Name, uc.Plan, uc.Credits)
		if uc.Instructions != "" {
			b.WriteString("\nBusiness instructions: ")
			b.WriteString(uc.Instructions)
		}
		if uc.BookingURL != "" {
			b.WriteString("\nBooking link: ")
			b.WriteString(uc.BookingURL)
		}
	}
	fmt.Fprintf(&b, "\nChannel: %s.", conv.ChannelType)
	return b.String()
}

// composeInput prepends the transcript gap since the last AI reply to the
// inbound text. Context assembly is best-effort: a store failure degrades to
// the bare inbound message.
func (o *Orchestrator) composeInput(ctx context.Context, conv *Conversation, inbound *Message) string {
	if o.assembler == nil {
		return inbound.Content
	}
	turns, err := o.assembler.BuildContext(ctx, conv.ID, inbound.ID)
	if err != nil {
		o.logger.Warn("context assembly failed",
			"conversation_id", conv.ID, "error", err)
		return inbound.Content
	}
	if len(turns) == 0 {
		return inbound.Content
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}
	b.WriteString(inbound.Content)
	return b.String()
}
