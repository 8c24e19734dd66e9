package conversation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/identity"
	"github.com/donforce/messaging-ai-platform/internal/leads"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// identityResolver resolves a channel number to the owning account snapshot.
type identityResolver interface {
	ResolveChannel(ctx context.Context, channelAddress string) (*identity.UserContext, error)
}

// leadFinder locates the lead a customer phone number belongs to.
type leadFinder interface {
	FindByPhone(ctx context.Context, userID uuid.UUID, phone string) (*leads.Lead, error)
}

// Resolver turns an inbound webhook's addressing into a conversation record
// with its account and lead bindings filled in.
type Resolver struct {
	store    *Store
	identity identityResolver
	leads    leadFinder
	logger   *logging.Logger
}

// NewResolver builds a Resolver. The identity and lead dependencies are
// optional; without them conversations still work, just unattributed.
func NewResolver(store *Store, ident identityResolver, finder leadFinder, logger *logging.Logger) *Resolver {
	if store == nil {
		panic("conversation: resolver requires a store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{store: store, identity: ident, leads: finder, logger: logger}
}

// Resolve finds or creates the active conversation for an inbound message
// and backfills its account and lead bindings. knownUserID is an optional
// caller-supplied account binding, used when the reverse lookup cannot
// produce one. Identity failures are degraded, not fatal: the conversation
// proceeds without a user context and the next inbound message retries the
// binding. Lead backfill only runs once an account is bound, because leads
// are scoped to an account.
func (r *Resolver) Resolve(ctx context.Context, customerAddress, channelAddress string, channelType ChannelType, knownUserID *uuid.UUID) (*Conversation, bool, error) {
	ctx, span := tracer.Start(ctx, "resolver.resolve")
	defer span.End()

	conv, created, err := r.store.EnsureConversation(ctx, customerAddress, channelAddress, channelType)
	if err != nil {
		return nil, false, err
	}

	conv.UserContext = r.resolveUser(ctx, conv, channelAddress)
	if conv.UserID == nil && knownUserID != nil {
		r.adoptKnownUser(ctx, conv, *knownUserID)
	}
	if conv.UserID != nil {
		r.resolveLead(ctx, conv, *conv.UserID, customerAddress)
	}
	return conv, created, nil
}

func (r *Resolver) resolveUser(ctx context.Context, conv *Conversation, channelAddress string) *identity.UserContext {
	if r.identity == nil {
		return nil
	}
	userCtx, err := r.identity.ResolveChannel(ctx, channelAddress)
	if err != nil {
		if !errors.Is(err, identity.ErrAccountNotFound) {
			r.logger.Warn("identity resolution failed",
				"conversation_id", conv.ID, "error", err)
		}
		return nil
	}
	if conv.UserID == nil {
		if err := r.store.SetUserID(ctx, conv.ID, userCtx.UserID); err != nil {
			r.logger.Warn("user backfill failed",
				"conversation_id", conv.ID, "error", err)
		} else {
			id := userCtx.UserID
			conv.UserID = &id
		}
	}
	return userCtx
}

// adoptKnownUser backfills a caller-supplied account id. No snapshot is
// attached; the caller knows the tenant, not its context.
func (r *Resolver) adoptKnownUser(ctx context.Context, conv *Conversation, userID uuid.UUID) {
	if err := r.store.SetUserID(ctx, conv.ID, userID); err != nil {
		r.logger.Warn("user backfill failed",
			"conversation_id", conv.ID, "error", err)
		return
	}
	id := userID
	conv.UserID = &id
}

func (r *Resolver) resolveLead(ctx context.Context, conv *Conversation, userID uuid.UUID, customerAddress string) {
	if r.leads == nil || conv.LeadID != nil {
		return
	}
	lead, err := r.leads.FindByPhone(ctx, userID, customerAddress)
	if err != nil {
		if !errors.Is(err, leads.ErrLeadNotFound) {
			r.logger.Warn("lead lookup failed",
				"conversation_id", conv.ID, "error", err)
		}
		return
	}
	if err := r.store.SetLeadID(ctx, conv.ID, lead.ID); err != nil {
		r.logger.Warn("lead backfill failed",
			"conversation_id", conv.ID, "error", err)
		return
	}
	id := lead.ID
	conv.LeadID = &id
}
