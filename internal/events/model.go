package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEventID indicates that an event identifier is empty or exceeds storage bounds.
	ErrInvalidEventID = errors.New("events: invalid event id")
	// ErrInvalidSlotID indicates that a slot identifier is empty or exceeds storage bounds.
	ErrInvalidSlotID = errors.New("events: invalid slot id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("events: invalid user id")
	// ErrInvalidResponseValue indicates a response string outside the known set.
	ErrInvalidResponseValue = errors.New("events: invalid response value")
)

// EventID represents a validated event identifier.
type EventID string

// NewEventID validates raw input and returns an EventID.
func NewEventID(rawInput string) (EventID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventID, maxIdentifierLength)
	}
	return EventID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EventID) String() string {
	return string(id)
}

// SlotID represents a validated slot identifier.
type SlotID string

// NewSlotID validates raw input and returns a SlotID.
func NewSlotID(rawInput string) (SlotID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlotID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSlotID, maxIdentifierLength)
	}
	return SlotID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SlotID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ResponseValue enumerates the three stored availability answers. The fourth
// interaction state, "unanswered", is never stored: it is the absence of a row
// and is modelled by ResponseState.
type ResponseValue string

const (
	// ResponseAvailable marks a slot the user can attend.
	ResponseAvailable ResponseValue = "available"
	// ResponseTentative marks a slot the user might attend.
	ResponseTentative ResponseValue = "tentative"
	// ResponseUnavailable marks a slot the user cannot attend.
	ResponseUnavailable ResponseValue = "unavailable"
)

// ParseResponseValue validates a raw response string.
func ParseResponseValue(rawInput string) (ResponseValue, error) {
	switch ResponseValue(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ResponseAvailable:
		return ResponseAvailable, nil
	case ResponseTentative:
		return ResponseTentative, nil
	case ResponseUnavailable:
		return ResponseUnavailable, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResponseValue, rawInput)
	}
}

// String returns the stored representation of the response value.
func (v ResponseValue) String() string {
	return string(v)
}

// ResponseState is the optional wrapper over ResponseValue. Answered reports
// whether a row exists for the cell; Value is meaningful only when it does.
type ResponseState struct {
	Answered bool
	Value    ResponseValue
}

// Unanswered is the zero ResponseState, the implicit state of every cell
// without a stored row.
var Unanswered = ResponseState{}

// Answered wraps a stored value into a ResponseState.
func Answered(value ResponseValue) ResponseState {
	return ResponseState{Answered: true, Value: value}
}

// Event models a scheduling poll proposed inside a circle.
type Event struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	CircleID    string    `gorm:"column:circle_id;size:190;not null;index:idx_events_circle_created,priority:1"`
	Title       string    `gorm:"column:title;size:255;not null"`
	Description string    `gorm:"column:description;type:text"`
	CreatedBy   string    `gorm:"column:created_by;size:190;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index:idx_events_circle_created,priority:2"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Slots     []EventSlot     `gorm:"foreignKey:EventID;references:ID;constraint:OnDelete:CASCADE"`
	Responses []EventResponse `gorm:"foreignKey:EventID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// EventSlot is one candidate date/time range of an event. Slots are immutable
// once created and disappear only with their event.
type EventSlot struct {
	ID        string     `gorm:"column:id;primaryKey;size:190;not null"`
	EventID   string     `gorm:"column:event_id;size:190;not null;index:idx_event_slots_event"`
	StartTime time.Time  `gorm:"column:start_time;not null"`
	EndTime   *time.Time `gorm:"column:end_time"`
	Sequence  int        `gorm:"column:sequence;not null;default:0"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (EventSlot) TableName() string {
	return "event_slots"
}

// EventResponse is one user's stored answer for one slot. The
// (event_id, user_id, slot_id) triple is unique; writes upsert against it.
type EventResponse struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	EventID   string    `gorm:"column:event_id;size:190;not null;uniqueIndex:uniq_event_responses_cell,priority:1;index:idx_event_responses_event"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:uniq_event_responses_cell,priority:2"`
	SlotID    string    `gorm:"column:slot_id;size:190;not null;uniqueIndex:uniq_event_responses_cell,priority:3"`
	Response  string    `gorm:"column:response;size:32;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (EventResponse) TableName() string {
	return "event_responses"
}

// SlotInput carries one candidate range supplied at event creation.
type SlotInput struct {
	StartTime time.Time
	EndTime   *time.Time
}
