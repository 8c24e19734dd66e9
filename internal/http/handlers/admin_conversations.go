package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/donforce/messaging-ai-platform/internal/conversation"
	"github.com/donforce/messaging-ai-platform/internal/events"
	"github.com/donforce/messaging-ai-platform/pkg/logging"
)

// adminConversationStore is the slice of the conversation store the admin
// API writes through. Reads go straight to SQL for the reporting queries.
type adminConversationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	Close(ctx context.Context, id uuid.UUID) error
	SetAutoRespond(ctx context.Context, id uuid.UUID, enabled bool) error
}

// AdminConversationsHandler serves the management API: conversation listing,
// inspection, transcript export, lifecycle operations, and reporting.
type AdminConversationsHandler struct {
	db     *sql.DB
	store  adminConversationStore
	outbox outboxAppender
	logger *logging.Logger
}

// NewAdminConversationsHandler creates the admin conversations handler. The
// outbox is optional; without it close events are simply not forwarded.
func NewAdminConversationsHandler(db *sql.DB, store adminConversationStore, outbox outboxAppender, logger *logging.Logger) *AdminConversationsHandler {
	if db == nil {
		panic("handlers: admin handler requires a database")
	}
	if store == nil {
		panic("handlers: admin handler requires a conversation store")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{db: db, store: store, outbox: outbox, logger: logger}
}

// ConversationListItem represents a conversation in list responses.
type ConversationListItem struct {
	ID                   string  `json:"id"`
	CustomerAddress      string  `json:"customer_address"`
	ChannelAddress       string  `json:"channel_address"`
	ChannelType          string  `json:"channel_type"`
	Status               string  `json:"status"`
	AutoRespond          bool    `json:"auto_respond"`
	MessageCount         int     `json:"message_count"`
	CustomerMessageCount int     `json:"customer_message_count"`
	AIMessageCount       int     `json:"ai_message_count"`
	CreatedAt            string  `json:"created_at"`
	LastMessageAt        *string `json:"last_message_at,omitempty"`
}

// ConversationsListResponse is a paginated list of conversations.
type ConversationsListResponse struct {
	Conversations []ConversationListItem `json:"conversations"`
	Total         int                    `json:"total"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
	TotalPages    int                    `json:"total_pages"`
}

const conversationListColumns = `id, customer_address, channel_address, channel_type, status, auto_respond,
		   message_count, customer_message_count, ai_message_count, created_at, last_message_at`

// ListConversations returns a paginated, filterable list of conversations.
// GET /admin/conversations
func (h *AdminConversationsHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var conds []string
	var args []any
	argNum := 1

	if customer := r.URL.Query().Get("customer"); customer != "" {
		conds = append(conds, "customer_address LIKE $"+strconv.Itoa(argNum))
		args = append(args, "%"+customer+"%")
		argNum++
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conds = append(conds, "status = $"+strconv.Itoa(argNum))
		args = append(args, status)
		argNum++
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		conds = append(conds, "channel_type = $"+strconv.Itoa(argNum))
		args = append(args, channel)
		argNum++
	}
	if dateFrom := r.URL.Query().Get("date_from"); dateFrom != "" {
		if t, err := time.Parse("2006-01-02", dateFrom); err == nil {
			conds = append(conds, "created_at >= $"+strconv.Itoa(argNum))
			args = append(args, t)
			argNum++
		}
	}
	if dateTo := r.URL.Query().Get("date_to"); dateTo != "" {
		if t, err := time.Parse("2006-01-02", dateTo); err == nil {
			conds = append(conds, "created_at < $"+strconv.Itoa(argNum))
			args = append(args, t.AddDate(0, 0, 1))
			argNum++
		}
	}

	whereSQL := ""
	if len(conds) > 0 {
		whereSQL = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := h.db.QueryRowContext(r.Context(),
		"SELECT COUNT(*) FROM conversations"+whereSQL, args...,
	).Scan(&total); err != nil {
		h.logger.Error("failed to count conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	query := "SELECT " + conversationListColumns + " FROM conversations" + whereSQL +
		" ORDER BY COALESCE(last_message_at, created_at) DESC" +
		" LIMIT $" + strconv.Itoa(argNum) + " OFFSET $" + strconv.Itoa(argNum+1)
	args = append(args, pageSize, offset)

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("failed to query conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer rows.Close()

	conversations := []ConversationListItem{}
	for rows.Next() {
		item, err := scanConversationListItem(rows)
		if err != nil {
			h.logger.Error("failed to scan conversation", "error", err)
			continue
		}
		conversations = append(conversations, item)
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, ConversationsListResponse{
		Conversations: conversations,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
	})
}

func scanConversationListItem(rows *sql.Rows) (ConversationListItem, error) {
	var item ConversationListItem
	var autoRespond sql.NullBool
	var createdAt time.Time
	var lastMessageAt sql.NullTime

	err := rows.Scan(
		&item.ID, &item.CustomerAddress, &item.ChannelAddress, &item.ChannelType,
		&item.Status, &autoRespond,
		&item.MessageCount, &item.CustomerMessageCount, &item.AIMessageCount,
		&createdAt, &lastMessageAt,
	)
	if err != nil {
		return ConversationListItem{}, err
	}

	// Tri-state flag: only an explicit false disables automation.
	item.AutoRespond = !autoRespond.Valid || autoRespond.Bool
	item.CreatedAt = createdAt.Format(time.RFC3339)
	if lastMessageAt.Valid {
		formatted := lastMessageAt.Time.Format(time.RFC3339)
		item.LastMessageAt = &formatted
	}
	return item, nil
}

// MessageItem represents one log entry in detail responses.
type MessageItem struct {
	ID          string  `json:"id"`
	Direction   string  `json:"direction"`
	Content     string  `json:"content"`
	AIGenerated bool    `json:"is_ai_generated"`
	Status      string  `json:"status"`
	ErrorCode   *string `json:"error_code,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// ConversationDetailResponse is one conversation with its message log.
type ConversationDetailResponse struct {
	ConversationListItem
	ClosedAt *string       `json:"closed_at,omitempty"`
	Messages []MessageItem `json:"messages"`
}

// GetConversation returns one conversation with its full message log.
// GET /admin/conversations/{conversationID}
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	row := h.db.QueryRowContext(r.Context(),
		"SELECT "+conversationListColumns+", closed_at FROM conversations WHERE id = $1", id)

	var detail ConversationDetailResponse
	var autoRespond sql.NullBool
	var createdAt time.Time
	var lastMessageAt, closedAt sql.NullTime
	err := row.Scan(
		&detail.ID, &detail.CustomerAddress, &detail.ChannelAddress, &detail.ChannelType,
		&detail.Status, &autoRespond,
		&detail.MessageCount, &detail.CustomerMessageCount, &detail.AIMessageCount,
		&createdAt, &lastMessageAt, &closedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	detail.AutoRespond = !autoRespond.Valid || autoRespond.Bool
	detail.CreatedAt = createdAt.Format(time.RFC3339)
	if lastMessageAt.Valid {
		formatted := lastMessageAt.Time.Format(time.RFC3339)
		detail.LastMessageAt = &formatted
	}
	if closedAt.Valid {
		formatted := closedAt.Time.Format(time.RFC3339)
		detail.ClosedAt = &formatted
	}

	messages, err := h.listMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load messages", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	detail.Messages = messages

	writeJSON(w, http.StatusOK, detail)
}

func (h *AdminConversationsHandler) listMessages(ctx context.Context, id uuid.UUID) ([]MessageItem, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, direction, content, is_ai_generated, status, error_code, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []MessageItem{}
	for rows.Next() {
		var msg MessageItem
		var errorCode sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&msg.ID, &msg.Direction, &msg.Content, &msg.AIGenerated,
			&msg.Status, &errorCode, &createdAt); err != nil {
			return nil, err
		}
		if errorCode.Valid {
			code := errorCode.String
			msg.ErrorCode = &code
		}
		msg.CreatedAt = createdAt.Format(time.RFC3339)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CloseConversation ends an active conversation.
// POST /admin/conversations/{conversationID}/close
func (h *AdminConversationsHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	if err := h.store.Close(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, conversation.ErrConversationNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, conversation.ErrConversationClosed):
			writeError(w, http.StatusConflict, "conversation already closed")
		default:
			h.logger.Error("failed to close conversation", "error", err, "conversation_id", id)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.appendClosedEvent(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": conversation.StatusClosed})
}

func (h *AdminConversationsHandler) appendClosedEvent(ctx context.Context, id uuid.UUID) {
	if h.outbox == nil {
		return
	}
	conv, err := h.store.GetByID(ctx, id)
	if err != nil {
		h.logger.Warn("closed event skipped, reload failed", "conversation_id", id, "error", err)
		return
	}
	closedAt := time.Now().UTC()
	if conv.ClosedAt != nil {
		closedAt = *conv.ClosedAt
	}
	evt := events.ConversationClosedV1{
		ConversationID: id.String(),
		Channel:        string(conv.ChannelType),
		MessageCount:   conv.MessageCount,
		ClosedAt:       closedAt,
	}
	if _, err := h.outbox.Append(ctx, events.AggregateConversation, id.String(), evt); err != nil {
		h.logger.Warn("conversation closed event append failed", "conversation_id", id, "error", err)
	}
}

// SetAutoRespond flips the conversation's automation flag.
// PATCH /admin/conversations/{conversationID}/auto-respond
func (h *AdminConversationsHandler) SetAutoRespond(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if err := h.store.SetAutoRespond(r.Context(), id, *body.Enabled); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to set auto-respond", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "auto_respond": *body.Enabled})
}

// ConversationStatsResponse contains aggregated conversation statistics.
type ConversationStatsResponse struct {
	TotalConversations int            `json:"total_conversations"`
	TotalMessages      int            `json:"total_messages"`
	ByStatus           map[string]int `json:"by_status"`
	ByChannel          map[string]int `json:"by_channel"`
	TodayCount         int            `json:"today_count"`
	WeekCount          int            `json:"week_count"`
	MonthCount         int            `json:"month_count"`
}

// GetStats returns aggregated conversation statistics.
// GET /admin/stats
func (h *AdminConversationsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := ConversationStatsResponse{
		ByStatus:  make(map[string]int),
		ByChannel: make(map[string]int),
	}

	now := time.Now()
	today := now.Truncate(24 * time.Hour)
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, -1, 0)

	ctx := r.Context()
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations`).Scan(&stats.TotalConversations)
	h.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(message_count), 0) FROM conversations`).Scan(&stats.TotalMessages)

	if rows, err := h.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM conversations GROUP BY status`); err == nil {
		defer rows.Close()
		for rows.Next() {
			var status string
			var count int
			if rows.Scan(&status, &count) == nil {
				stats.ByStatus[status] = count
			}
		}
	}
	if rows, err := h.db.QueryContext(ctx,
		`SELECT channel_type, COUNT(*) FROM conversations GROUP BY channel_type`); err == nil {
		defer rows.Close()
		for rows.Next() {
			var channel string
			var count int
			if rows.Scan(&channel, &count) == nil {
				stats.ByChannel[channel] = count
			}
		}
	}

	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE created_at >= $1`, today).Scan(&stats.TodayCount)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE created_at >= $1`, weekAgo).Scan(&stats.WeekCount)
	h.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE created_at >= $1`, monthAgo).Scan(&stats.MonthCount)

	writeJSON(w, http.StatusOK, stats)
}

// EngagementResponse reports how customers interact with the automated
// replies.
type EngagementResponse struct {
	Conversations        int     `json:"conversations"`
	CustomerMessages     int     `json:"customer_messages"`
	AIMessages           int     `json:"ai_messages"`
	RepliedConversations int     `json:"replied_conversations"`
	ResponseRate         float64 `json:"response_rate"`
	ActiveRatio          float64 `json:"active_ratio"`
	AvgMessages          float64 `json:"avg_messages_per_conversation"`
	WindowDays           int     `json:"window_days"`
}

// GetEngagement returns reply-engagement metrics over a trailing window.
// GET /admin/engagement?days=30
func (h *AdminConversationsHandler) GetEngagement(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var resp EngagementResponse
	resp.WindowDays = days

	var total, customerMsgs, aiMsgs, replied, withCustomer, active int
	err := h.db.QueryRowContext(r.Context(), `
		SELECT COUNT(*),
			   COALESCE(SUM(customer_message_count), 0),
			   COALESCE(SUM(ai_message_count), 0),
			   COUNT(*) FILTER (WHERE ai_message_count > 0),
			   COUNT(*) FILTER (WHERE customer_message_count > 0),
			   COUNT(*) FILTER (WHERE status = 'active')
		FROM conversations
		WHERE created_at >= $1`, cutoff).
		Scan(&total, &customerMsgs, &aiMsgs, &replied, &withCustomer, &active)
	if err != nil {
		h.logger.Error("failed to compute engagement", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp.Conversations = total
	resp.CustomerMessages = customerMsgs
	resp.AIMessages = aiMsgs
	resp.RepliedConversations = replied
	if withCustomer > 0 {
		resp.ResponseRate = float64(replied) / float64(withCustomer)
	}
	if total > 0 {
		resp.ActiveRatio = float64(active) / float64(total)
		resp.AvgMessages = float64(customerMsgs+aiMsgs) / float64(total)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportTranscript exports a conversation transcript as plain text.
// GET /admin/conversations/{conversationID}/export
func (h *AdminConversationsHandler) ExportTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var customerAddress, channelType string
	var createdAt time.Time
	err := h.db.QueryRowContext(r.Context(),
		`SELECT customer_address, channel_type, created_at FROM conversations WHERE id = $1`, id).
		Scan(&customerAddress, &channelType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation for export", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	messages, err := h.listMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load messages for export", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var b strings.Builder
	b.WriteString("Conversation Transcript\n")
	b.WriteString("========================\n\n")
	b.WriteString("Customer: " + customerAddress + "\n")
	b.WriteString("Channel: " + channelType + "\n")
	b.WriteString("Started: " + createdAt.Format(time.RFC1123) + "\n")
	b.WriteString("Conversation ID: " + id.String() + "\n\n")
	b.WriteString("--- Messages ---\n\n")

	for _, msg := range messages {
		label := "Customer"
		if msg.Direction == string(conversation.DirectionOutgoing) {
			label = "AI"
			if !msg.AIGenerated {
				label = "Operator"
			}
		}
		timestamp, _ := time.Parse(time.RFC3339, msg.CreatedAt)
		b.WriteString("[" + timestamp.Format("2006-01-02 15:04:05") + "] " + label + ":\n")
		b.WriteString(msg.Content + "\n\n")
	}
	if len(messages) == 0 {
		b.WriteString("(No messages found)\n")
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", "attachment; filename=transcript-"+id.String()+".txt")
	w.Write([]byte(b.String()))
}

// conversationID parses the path parameter, responding 404 on garbage so
// probing with junk ids looks the same as a miss.
func (h *AdminConversationsHandler) conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
