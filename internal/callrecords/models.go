package callrecords

import "time"

// CallRecord is a tenant-scoped call history row.
//
// Invariants:
// - WorkspaceID is required on every row.
// - Exactly two writes happen per call: creation and finalization.
// - AnsweredAt stays nil for calls that never reached the far end.
type CallRecord struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// ContactID correlates the call with a CRM contact when known.
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	Direction Direction `json:"direction" db:"direction"`
	Number    string    `json:"number" db:"number"`
	Status    Status    `json:"status" db:"status"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	// StatusDialing is the non-terminal status a record is created with.
	StatusDialing Status = "dialing"

	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}
