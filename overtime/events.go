package overtime

import (
	"context"
	"time"
)

// EventMovementAppended is the type tag of MovementAppended.
const EventMovementAppended = "overtime.movement.appended"

// MovementAppended is published after a movement is committed.
type MovementAppended struct {
	Type       string    `json:"type"`
	EmployeeID string    `json:"employee_id"`
	Movement   Movement  `json:"movement"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewMovementAppended(m Movement) MovementAppended {
	return MovementAppended{
		Type:       EventMovementAppended,
		EmployeeID: m.EmployeeID,
		Movement:   m,
		OccurredAt: m.CreatedAt,
	}
}

// Publisher delivers ledger events to downstream consumers (dashboards,
// payroll export). Delivery is best effort; the ledger never rolls back
// because a publish failed.
type Publisher interface {
	Publish(ctx context.Context, event MovementAppended) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, MovementAppended) error { return nil }
