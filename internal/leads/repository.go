package leads

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Lead, error)
	FindByPhone(ctx context.Context, userID uuid.UUID, phone string) (*Lead, error)
	AppendNotes(ctx context.Context, userID, id uuid.UUID, notes string) error
}

// InMemoryRepository is a Repository backed by process memory, used in tests
// and local development.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]*Lead
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[uuid.UUID]*Lead),
	}
}

// Create creates a new lead in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lead := &Lead{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Source:    req.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.leads[lead.ID] = lead
	r.mu.Unlock()

	return lead, nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok || lead.UserID != userID {
		return nil, ErrLeadNotFound
	}

	copied := *lead
	return &copied, nil
}

// FindByPhone locates a lead by phone using the ordered match strategies.
func (r *InMemoryRepository) FindByPhone(ctx context.Context, userID uuid.UUID, phone string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, candidate := range MatchCandidates(phone) {
		for _, lead := range r.leads {
			if lead.UserID == userID && lead.Phone == candidate {
				copied := *lead
				return &copied, nil
			}
		}
	}
	return nil, ErrLeadNotFound
}

// AppendNotes adds a note line to the lead record.
func (r *InMemoryRepository) AppendNotes(ctx context.Context, userID, id uuid.UUID, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok || lead.UserID != userID {
		return ErrLeadNotFound
	}
	if strings.TrimSpace(lead.Notes) == "" {
		lead.Notes = notes
	} else {
		lead.Notes = lead.Notes + "\n" + notes
	}
	lead.UpdatedAt = time.Now().UTC()
	return nil
}
