package callrecords

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRecord = errors.New("callrecords: invalid record")
	ErrNotFound      = errors.New("callrecords: record not found")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Repository is the persistence contract for call records.
//
// Implementations must enforce workspace filtering on every query.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) error
	Finalize(ctx context.Context, workspaceID, id string, fin Finalization) error
	List(ctx context.Context, workspaceID string, f ListFilter) ([]CallRecord, error)
}

// Finalization carries the single terminal update a record receives.
type Finalization struct {
	Status          Status
	AnsweredAt      *time.Time
	EndedAt         time.Time
	DurationSeconds int
}

type ListFilter struct {
	ContactID string
	Direction Direction
	Limit     int
}

// NewRecord is the creation request for a call record.
type NewRecord struct {
	WorkspaceID string
	ContactID   string
	Direction   Direction
	Number      string
	StartedAt   time.Time

	// AnsweredAt is set at creation only for inbound calls, which get their
	// record written at answer time.
	AnsweredAt *time.Time
}

// Service validates and timestamps call history writes.
//
// Callers treat these writes as best-effort: errors are logged upstream,
// never allowed to block a live call.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Create(ctx context.Context, req NewRecord) (string, error) {
	if s.repo == nil {
		return "", errors.New("callrecords: repository not configured")
	}
	if req.WorkspaceID == "" || req.Number == "" {
		return "", ErrInvalidRecord
	}
	if req.Direction != DirectionInbound && req.Direction != DirectionOutbound {
		return "", ErrInvalidRecord
	}

	now := s.clock().UTC()
	rec := CallRecord{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		ContactID:   req.ContactID,
		Direction:   req.Direction,
		Number:      req.Number,
		Status:      StatusDialing,
		StartedAt:   req.StartedAt,
		AnsweredAt:  req.AnsweredAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Service) Finalize(ctx context.Context, workspaceID, id string, fin Finalization) error {
	if s.repo == nil {
		return errors.New("callrecords: repository not configured")
	}
	if workspaceID == "" || id == "" {
		return ErrInvalidRecord
	}
	if !fin.Status.Terminal() {
		return ErrInvalidRecord
	}
	if fin.DurationSeconds < 0 {
		return ErrInvalidRecord
	}
	if fin.EndedAt.IsZero() {
		fin.EndedAt = s.clock().UTC()
	}
	return s.repo.Finalize(ctx, workspaceID, id, fin)
}

// History lists a workspace's call records, newest first.
func (s *Service) History(ctx context.Context, workspaceID string, f ListFilter) ([]CallRecord, error) {
	if s.repo == nil {
		return nil, errors.New("callrecords: repository not configured")
	}
	if workspaceID == "" {
		return nil, ErrInvalidRecord
	}
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	if f.Limit > maxHistoryLimit {
		f.Limit = maxHistoryLimit
	}
	return s.repo.List(ctx, workspaceID, f)
}
