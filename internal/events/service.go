package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingMembership = errors.New("membership checker is required")
	noOpLogger           = zap.NewNop()

	// ErrEventNotFound indicates the referenced event does not exist.
	ErrEventNotFound = errors.New("events: event not found")
	// ErrSlotNotFound indicates the referenced slot does not belong to the event.
	ErrSlotNotFound = errors.New("events: slot not found")
	// ErrNotCircleMember indicates the caller does not belong to the event's circle.
	ErrNotCircleMember = errors.New("events: caller is not a circle member")
	// ErrForbidden indicates a write aimed at a response cell owned by another user.
	ErrForbidden = errors.New("events: cell owned by another user")
	// ErrNoSlots indicates an event creation request without candidate slots.
	ErrNoSlots = errors.New("events: at least one candidate slot is required")
)

// ServiceError wraps a failure with a stable per-operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the machine-readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "events.service.new"
	opCreateEvent     = "events.create"
	opDeleteEvent     = "events.delete"
	opListEvents      = "events.list"
	opEventDetail     = "events.detail"
	opWriteResponse   = "events.response.write"
	opAdvanceResponse = "events.response.advance"
	opStream          = "events.stream"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly stored rows.
type IDProvider interface {
	NewID() (string, error)
}

// MembershipChecker reports whether a user belongs to a circle. Implemented
// by the circles service.
type MembershipChecker interface {
	IsMember(ctx context.Context, circleID, userID string) (bool, error)
}

// ChangeAction classifies a response-row mutation for live listeners.
type ChangeAction string

const (
	// ChangeInsert signals a response row created where none existed.
	ChangeInsert ChangeAction = "insert"
	// ChangeUpdate signals an existing response row overwritten.
	ChangeUpdate ChangeAction = "update"
	// ChangeDelete signals a response row removed (the unanswered transition).
	ChangeDelete ChangeAction = "delete"
)

// ResponseChange describes one committed response-row mutation.
type ResponseChange struct {
	EventID    string
	SlotID     string
	UserID     string
	Action     ChangeAction
	OccurredAt time.Time
}

// ChangeNotifier receives committed response mutations. Implemented by the
// server's realtime dispatcher; a nil notifier drops changes.
type ChangeNotifier interface {
	ResponseChanged(change ResponseChange)
}

// ServiceConfig bundles the service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Members    MembershipChecker
	Notifier   ChangeNotifier
	Logger     *zap.Logger
}

// Service implements the availability scheduling engine over the relational
// store: event lifecycle, response writes, aggregation and summaries.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	members    MembershipChecker
	notifier   ChangeNotifier
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Members == nil {
		return nil, newServiceError(opServiceNew, "missing_membership_checker", errMissingMembership)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		members:    cfg.Members,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// CreateEventRequest carries one atomic event-plus-slots creation.
type CreateEventRequest struct {
	CircleID    string
	CreatorID   UserID
	Title       string
	Description string
	Slots       []SlotInput
}

// CreateEvent stores the event and its full candidate slot set in one
// transaction. Slots are sequenced in ascending start-time order so later
// reads have a stable tie-break.
func (s *Service) CreateEvent(ctx context.Context, request CreateEventRequest) (Event, error) {
	if request.Title == "" {
		return Event{}, newServiceError(opCreateEvent, "missing_title", errors.New("title is required"))
	}
	if len(request.Slots) == 0 {
		return Event{}, newServiceError(opCreateEvent, "missing_slots", ErrNoSlots)
	}
	if err := s.requireMembership(ctx, opCreateEvent, request.CircleID, request.CreatorID.String()); err != nil {
		return Event{}, err
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateEvent, "id_generation_failed", err)
		return Event{}, newServiceError(opCreateEvent, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	event := Event{
		ID:          eventID,
		CircleID:    request.CircleID,
		Title:       request.Title,
		Description: request.Description,
		CreatedBy:   request.CreatorID.String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	slots := make([]EventSlot, 0, len(request.Slots))
	ordered := make([]SlotInput, len(request.Slots))
	copy(ordered, request.Slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})
	for sequence, input := range ordered {
		slotID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateEvent, "id_generation_failed", err)
			return Event{}, newServiceError(opCreateEvent, "id_generation_failed", err)
		}
		slots = append(slots, EventSlot{
			ID:        slotID,
			EventID:   eventID,
			StartTime: input.StartTime.UTC(),
			EndTime:   input.EndTime,
			Sequence:  sequence,
			CreatedAt: now,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&event).Error; err != nil {
			return newServiceError(opCreateEvent, "event_insert_failed", err)
		}
		if err := tx.Create(&slots).Error; err != nil {
			return newServiceError(opCreateEvent, "slot_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateEvent, "transaction_failed", txErr, zap.String("circle_id", request.CircleID))
		return Event{}, txErr
	}

	event.Slots = slots
	return event, nil
}

// DeleteEvent removes the event with its slots and responses. Only the
// creator may delete.
func (s *Service) DeleteEvent(ctx context.Context, eventID EventID, callerID UserID) error {
	var event Event
	err := s.db.WithContext(ctx).Where("id = ?", eventID.String()).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opDeleteEvent, "event_not_found", ErrEventNotFound)
	}
	if err != nil {
		s.logError(opDeleteEvent, "event_select_failed", err, zap.String("event_id", eventID.String()))
		return newServiceError(opDeleteEvent, "event_select_failed", err)
	}
	if event.CreatedBy != callerID.String() {
		return newServiceError(opDeleteEvent, "not_creator", ErrForbidden)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID.String()).Delete(&EventResponse{}).Error; err != nil {
			return newServiceError(opDeleteEvent, "response_delete_failed", err)
		}
		if err := tx.Where("event_id = ?", eventID.String()).Delete(&EventSlot{}).Error; err != nil {
			return newServiceError(opDeleteEvent, "slot_delete_failed", err)
		}
		if err := tx.Where("id = ?", eventID.String()).Delete(&Event{}).Error; err != nil {
			return newServiceError(opDeleteEvent, "event_delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDeleteEvent, "transaction_failed", txErr, zap.String("event_id", eventID.String()))
	}
	return txErr
}

// ListedEvent pairs an event with its list-view summary counts.
type ListedEvent struct {
	Event   Event
	Summary Summary
}

// ListEvents returns the circle's events, newest first, each carrying the
// batched slot and distinct-responder counts.
func (s *Service) ListEvents(ctx context.Context, circleID string, callerID UserID) ([]ListedEvent, error) {
	if err := s.requireMembership(ctx, opListEvents, circleID, callerID.String()); err != nil {
		return nil, err
	}

	var stored []Event
	if err := s.db.WithContext(ctx).
		Where("circle_id = ?", circleID).
		Order("created_at DESC").
		Find(&stored).Error; err != nil {
		s.logError(opListEvents, "query_failed", err, zap.String("circle_id", circleID))
		return nil, newServiceError(opListEvents, "query_failed", err)
	}

	eventIDs := make([]string, 0, len(stored))
	for _, event := range stored {
		eventIDs = append(eventIDs, event.ID)
	}

	summaries, err := s.ComputeSummaries(ctx, eventIDs)
	if err != nil {
		return nil, err
	}

	listed := make([]ListedEvent, 0, len(stored))
	for _, event := range stored {
		listed = append(listed, ListedEvent{Event: event, Summary: summaries[event.ID]})
	}
	return listed, nil
}

// ComputeSummaries resolves slot and distinct-responder counts for a batch of
// event ids in two bulk queries.
func (s *Service) ComputeSummaries(ctx context.Context, eventIDs []string) (map[string]Summary, error) {
	if len(eventIDs) == 0 {
		return map[string]Summary{}, nil
	}

	var slots []slotRef
	if err := s.db.WithContext(ctx).
		Model(&EventSlot{}).
		Select("event_id").
		Where("event_id IN ?", eventIDs).
		Find(&slots).Error; err != nil {
		s.logError(opListEvents, "slot_count_query_failed", err)
		return nil, newServiceError(opListEvents, "slot_count_query_failed", err)
	}

	var responses []responseRef
	if err := s.db.WithContext(ctx).
		Model(&EventResponse{}).
		Select("event_id, user_id").
		Where("event_id IN ?", eventIDs).
		Find(&responses).Error; err != nil {
		s.logError(opListEvents, "response_count_query_failed", err)
		return nil, newServiceError(opListEvents, "response_count_query_failed", err)
	}

	return summarize(eventIDs, slots, responses), nil
}

// EventDetail bundles everything a grid view needs.
type EventDetail struct {
	Event Event
	Slots []EventSlot
	Grid  *Grid
}

// GetEventDetail loads the event, its ordered slots and all responses, then
// aggregates them into the viewer's grid.
func (s *Service) GetEventDetail(ctx context.Context, eventID EventID, viewerID UserID) (EventDetail, error) {
	event, err := s.loadEvent(ctx, opEventDetail, eventID)
	if err != nil {
		return EventDetail{}, err
	}
	if err := s.requireMembership(ctx, opEventDetail, event.CircleID, viewerID.String()); err != nil {
		return EventDetail{}, err
	}

	slots, responses, err := s.loadGridRows(ctx, opEventDetail, eventID)
	if err != nil {
		return EventDetail{}, err
	}

	grid := BuildGrid(slots, responses, viewerID.String())
	if grid.DuplicateRows > 0 {
		s.logger.Warn("duplicate response rows dropped during aggregation",
			zap.String("event_id", eventID.String()),
			zap.Int("duplicates", grid.DuplicateRows))
	}

	return EventDetail{Event: event, Slots: slots, Grid: grid}, nil
}

// Cell addresses one (event, owner, slot) response cell.
type Cell struct {
	EventID EventID
	OwnerID UserID
	SlotID  SlotID
}

// AdvanceResponse moves the caller's cell one step along the response ring
// and persists the outcome: an upsert for the three stored states, a delete
// for the unanswered transition. The read and write share one transaction
// with a row lock so two racing advances on the same cell serialize instead
// of both deriving the same successor.
func (s *Service) AdvanceResponse(ctx context.Context, callerID UserID, cell Cell) (ResponseState, error) {
	if cell.OwnerID != callerID {
		return Unanswered, newServiceError(opAdvanceResponse, "foreign_cell", ErrForbidden)
	}

	event, err := s.loadEvent(ctx, opAdvanceResponse, cell.EventID)
	if err != nil {
		return Unanswered, err
	}
	if err := s.requireMembership(ctx, opAdvanceResponse, event.CircleID, callerID.String()); err != nil {
		return Unanswered, err
	}
	if err := s.requireSlot(ctx, opAdvanceResponse, cell.EventID, cell.SlotID); err != nil {
		return Unanswered, err
	}

	var next ResponseState
	var action ChangeAction
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing EventResponse
		current := Unanswered
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("event_id = ? AND user_id = ? AND slot_id = ?",
				cell.EventID.String(), cell.OwnerID.String(), cell.SlotID.String()).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return newServiceError(opAdvanceResponse, "cell_select_failed", err)
		default:
			value, parseErr := ParseResponseValue(existing.Response)
			if parseErr == nil {
				current = Answered(value)
			}
		}

		next = NextResponse(current)
		if !next.Answered {
			action = ChangeDelete
			return s.deleteCell(tx, opAdvanceResponse, cell)
		}
		if current.Answered {
			action = ChangeUpdate
		} else {
			action = ChangeInsert
		}
		return s.upsertCell(tx, opAdvanceResponse, cell, next.Value)
	})
	if txErr != nil {
		s.logError(opAdvanceResponse, "transaction_failed", txErr,
			zap.String("event_id", cell.EventID.String()),
			zap.String("slot_id", cell.SlotID.String()))
		return Unanswered, txErr
	}

	s.publish(cell, action)
	return next, nil
}

// SetResponse stores an explicit value for the caller's cell, creating the
// row or overwriting it against the (event, user, slot) conflict key. This is
// the programmatic set primitive; interactive grids only advance.
func (s *Service) SetResponse(ctx context.Context, callerID UserID, cell Cell, value ResponseValue) error {
	action, err := s.writeCell(ctx, callerID, cell, &value)
	if err != nil {
		return err
	}
	s.publish(cell, action)
	return nil
}

// ClearResponse removes the caller's stored row for the cell, returning it to
// the implicit unanswered state. Clearing an absent row is a no-op.
func (s *Service) ClearResponse(ctx context.Context, callerID UserID, cell Cell) error {
	action, err := s.writeCell(ctx, callerID, cell, nil)
	if err != nil {
		return err
	}
	s.publish(cell, action)
	return nil
}

func (s *Service) writeCell(ctx context.Context, callerID UserID, cell Cell, value *ResponseValue) (ChangeAction, error) {
	if cell.OwnerID != callerID {
		return "", newServiceError(opWriteResponse, "foreign_cell", ErrForbidden)
	}

	event, err := s.loadEvent(ctx, opWriteResponse, cell.EventID)
	if err != nil {
		return "", err
	}
	if err := s.requireMembership(ctx, opWriteResponse, event.CircleID, callerID.String()); err != nil {
		return "", err
	}
	if err := s.requireSlot(ctx, opWriteResponse, cell.EventID, cell.SlotID); err != nil {
		return "", err
	}

	var action ChangeAction
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&EventResponse{}).
			Where("event_id = ? AND user_id = ? AND slot_id = ?",
				cell.EventID.String(), cell.OwnerID.String(), cell.SlotID.String()).
			Count(&count).Error; err != nil {
			return newServiceError(opWriteResponse, "cell_select_failed", err)
		}

		if value == nil {
			action = ChangeDelete
			return s.deleteCell(tx, opWriteResponse, cell)
		}
		if count > 0 {
			action = ChangeUpdate
		} else {
			action = ChangeInsert
		}
		return s.upsertCell(tx, opWriteResponse, cell, *value)
	})
	if txErr != nil {
		s.logError(opWriteResponse, "transaction_failed", txErr,
			zap.String("event_id", cell.EventID.String()),
			zap.String("slot_id", cell.SlotID.String()))
		return "", txErr
	}
	return action, nil
}

func (s *Service) upsertCell(tx *gorm.DB, operation string, cell Cell, value ResponseValue) error {
	rowID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(operation, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	row := EventResponse{
		ID:        rowID,
		EventID:   cell.EventID.String(),
		UserID:    cell.OwnerID.String(),
		SlotID:    cell.SlotID.String(),
		Response:  value.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}, {Name: "user_id"}, {Name: "slot_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"response":   value.String(),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return newServiceError(operation, "cell_upsert_failed", err)
	}
	return nil
}

func (s *Service) deleteCell(tx *gorm.DB, operation string, cell Cell) error {
	err := tx.Where("event_id = ? AND user_id = ? AND slot_id = ?",
		cell.EventID.String(), cell.OwnerID.String(), cell.SlotID.String()).
		Delete(&EventResponse{}).Error
	if err != nil {
		return newServiceError(operation, "cell_delete_failed", err)
	}
	return nil
}

func (s *Service) publish(cell Cell, action ChangeAction) {
	if s.notifier == nil || action == "" {
		return
	}
	s.notifier.ResponseChanged(ResponseChange{
		EventID:    cell.EventID.String(),
		SlotID:     cell.SlotID.String(),
		UserID:     cell.OwnerID.String(),
		Action:     action,
		OccurredAt: s.clock().UTC(),
	})
}

// AuthorizeViewer confirms the event exists and the user belongs to its
// circle. Used by read surfaces that never load the grid, such as the
// change stream.
func (s *Service) AuthorizeViewer(ctx context.Context, eventID EventID, viewerID UserID) error {
	event, err := s.loadEvent(ctx, opStream, eventID)
	if err != nil {
		return err
	}
	return s.requireMembership(ctx, opStream, event.CircleID, viewerID.String())
}

func (s *Service) loadEvent(ctx context.Context, operation string, eventID EventID) (Event, error) {
	var event Event
	err := s.db.WithContext(ctx).Where("id = ?", eventID.String()).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, newServiceError(operation, "event_not_found", ErrEventNotFound)
	}
	if err != nil {
		s.logError(operation, "event_select_failed", err, zap.String("event_id", eventID.String()))
		return Event{}, newServiceError(operation, "event_select_failed", err)
	}
	return event, nil
}

func (s *Service) requireSlot(ctx context.Context, operation string, eventID EventID, slotID SlotID) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&EventSlot{}).
		Where("id = ? AND event_id = ?", slotID.String(), eventID.String()).
		Count(&count).Error
	if err != nil {
		s.logError(operation, "slot_select_failed", err, zap.String("slot_id", slotID.String()))
		return newServiceError(operation, "slot_select_failed", err)
	}
	if count == 0 {
		return newServiceError(operation, "slot_not_found", ErrSlotNotFound)
	}
	return nil
}

func (s *Service) requireMembership(ctx context.Context, operation, circleID, userID string) error {
	member, err := s.members.IsMember(ctx, circleID, userID)
	if err != nil {
		s.logError(operation, "membership_check_failed", err,
			zap.String("circle_id", circleID), zap.String("user_id", userID))
		return newServiceError(operation, "membership_check_failed", err)
	}
	if !member {
		return newServiceError(operation, "not_circle_member", ErrNotCircleMember)
	}
	return nil
}

func (s *Service) loadGridRows(ctx context.Context, operation string, eventID EventID) ([]EventSlot, []EventResponse, error) {
	var slots []EventSlot
	if err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID.String()).
		Order("start_time ASC, sequence ASC").
		Find(&slots).Error; err != nil {
		s.logError(operation, "slot_query_failed", err, zap.String("event_id", eventID.String()))
		return nil, nil, newServiceError(operation, "slot_query_failed", err)
	}

	var responses []EventResponse
	if err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID.String()).
		Order("created_at ASC, id ASC").
		Find(&responses).Error; err != nil {
		s.logError(operation, "response_query_failed", err, zap.String("event_id", eventID.String()))
		return nil, nil, newServiceError(operation, "response_query_failed", err)
	}

	return slots, responses, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("events service error", attrs...)
}
