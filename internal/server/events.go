package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tsudoi-app/tsudoi/backend/internal/events"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 25 * time.Second

type eventPayload struct {
	ID          string    `json:"id"`
	CircleID    string    `json:"circle_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func toEventPayload(event events.Event) eventPayload {
	return eventPayload{
		ID:          event.ID,
		CircleID:    event.CircleID,
		Title:       event.Title,
		Description: event.Description,
		CreatedBy:   event.CreatedBy,
		CreatedAt:   event.CreatedAt,
	}
}

type slotPayload struct {
	ID        string     `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type createEventPayload struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Slots       []slotInputPayload `json:"slots"`
}

type slotInputPayload struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	circleID := c.Param("circleID")

	var request createEventPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	slots := make([]events.SlotInput, 0, len(request.Slots))
	for _, slot := range request.Slots {
		if slot.StartTime.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slot"})
			return
		}
		slots = append(slots, events.SlotInput{StartTime: slot.StartTime, EndTime: slot.EndTime})
	}

	event, err := h.events.CreateEvent(c.Request.Context(), events.CreateEventRequest{
		CircleID:    circleID,
		CreatorID:   callerID,
		Title:       request.Title,
		Description: request.Description,
		Slots:       slots,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEventPayload(event))
}

type listedEventPayload struct {
	eventPayload
	SlotCount         int `json:"slot_count"`
	ResponseUserCount int `json:"response_user_count"`
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	circleID := c.Param("circleID")

	listed, err := h.events.ListEvents(c.Request.Context(), circleID, callerID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	payload := make([]listedEventPayload, 0, len(listed))
	for _, entry := range listed {
		payload = append(payload, listedEventPayload{
			eventPayload:      toEventPayload(entry.Event),
			SlotCount:         entry.Summary.SlotCount,
			ResponseUserCount: entry.Summary.ResponseUserCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

type participantPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type responseCellPayload struct {
	UserID   string `json:"user_id"`
	SlotID   string `json:"slot_id"`
	Response string `json:"response"`
}

type slotTallyPayload struct {
	SlotID      string `json:"slot_id"`
	Available   int    `json:"available"`
	Tentative   int    `json:"tentative"`
	Unavailable int    `json:"unavailable"`
}

type eventDetailPayload struct {
	Event        eventPayload          `json:"event"`
	Slots        []slotPayload         `json:"slots"`
	Participants []participantPayload  `json:"participants"`
	Responses    []responseCellPayload `json:"responses"`
	Tallies      []slotTallyPayload    `json:"tallies"`
}

func (h *httpHandler) handleEventDetail(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	eventID, err := events.NewEventID(c.Param("eventID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	detail, err := h.events.GetEventDetail(c.Request.Context(), eventID, callerID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	profiles, err := h.users.Profiles(c.Request.Context(), detail.Grid.Participants)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	payload := eventDetailPayload{
		Event:        toEventPayload(detail.Event),
		Slots:        make([]slotPayload, 0, len(detail.Slots)),
		Participants: make([]participantPayload, 0, len(detail.Grid.Participants)),
		Responses:    make([]responseCellPayload, 0),
		Tallies:      make([]slotTallyPayload, 0, len(detail.Grid.Tallies)),
	}
	for _, slot := range detail.Slots {
		payload.Slots = append(payload.Slots, slotPayload{
			ID:        slot.ID,
			StartTime: slot.StartTime,
			EndTime:   slot.EndTime,
		})
	}
	for _, userID := range detail.Grid.Participants {
		participant := participantPayload{UserID: userID, DisplayName: userID}
		if profile, known := profiles[userID]; known {
			if profile.DisplayName != "" {
				participant.DisplayName = profile.DisplayName
			}
			participant.AvatarURL = profile.AvatarURL
		}
		payload.Participants = append(payload.Participants, participant)

		for _, slotID := range detail.Grid.SlotOrder {
			state := detail.Grid.Response(userID, slotID)
			if !state.Answered {
				continue
			}
			payload.Responses = append(payload.Responses, responseCellPayload{
				UserID:   userID,
				SlotID:   slotID,
				Response: state.Value.String(),
			})
		}
	}
	for _, tally := range detail.Grid.Tallies {
		payload.Tallies = append(payload.Tallies, slotTallyPayload{
			SlotID:      tally.SlotID,
			Available:   tally.Available,
			Tentative:   tally.Tentative,
			Unavailable: tally.Unavailable,
		})
	}

	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	eventID, err := events.NewEventID(c.Param("eventID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if err := h.events.DeleteEvent(c.Request.Context(), eventID, callerID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type responseStatePayload struct {
	Answered bool    `json:"answered"`
	Response *string `json:"response"`
}

func toResponseStatePayload(state events.ResponseState) responseStatePayload {
	payload := responseStatePayload{Answered: state.Answered}
	if state.Answered {
		value := state.Value.String()
		payload.Response = &value
	}
	return payload
}

func (h *httpHandler) handleAdvanceResponse(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	cell, err := h.cellFromRequest(c, callerID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	next, err := h.events.AdvanceResponse(c.Request.Context(), callerID, cell)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponseStatePayload(next))
}

type setResponsePayload struct {
	Response string `json:"response"`
}

func (h *httpHandler) handleSetResponse(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	cell, err := h.cellFromRequest(c, callerID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	var request setResponsePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	value, err := events.ParseResponseValue(request.Response)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if err := h.events.SetResponse(c.Request.Context(), callerID, cell, value); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponseStatePayload(events.Answered(value)))
}

func (h *httpHandler) handleClearResponse(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	cell, err := h.cellFromRequest(c, callerID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if err := h.events.ClearResponse(c.Request.Context(), callerID, cell); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponseStatePayload(events.Unanswered))
}

type streamDataPayload struct {
	EventID   string `json:"eventId"`
	SlotID    string `json:"slotId"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	eventID, err := events.NewEventID(c.Param("eventID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if err := h.events.AuthorizeViewer(c.Request.Context(), eventID, callerID); err != nil {
		h.writeServiceError(c, err)
		return
	}

	flusher, supported := c.Writer.(http.Flusher)
	if !supported {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cancel := h.realtime.Subscribe(c.Request.Context(), eventID.String())
	defer cancel()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat)
			flusher.Flush()
		case message, open := <-stream:
			if !open {
				return
			}
			data, err := json.Marshal(streamDataPayload{
				EventID:   message.EventID,
				SlotID:    message.SlotID,
				UserID:    message.UserID,
				Action:    message.Action,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
				Source:    realtimeSourceBackend,
			})
			if err != nil {
				h.logger.Error("failed to encode realtime message", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.EventType, data)
			flusher.Flush()
		}
	}
}

func (h *httpHandler) callerID(c *gin.Context) (events.UserID, bool) {
	callerID, err := events.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return callerID, true
}

func (h *httpHandler) cellFromRequest(c *gin.Context, callerID events.UserID) (events.Cell, error) {
	eventID, err := events.NewEventID(c.Param("eventID"))
	if err != nil {
		return events.Cell{}, err
	}
	slotID, err := events.NewSlotID(c.Param("slotID"))
	if err != nil {
		return events.Cell{}, err
	}
	return events.Cell{EventID: eventID, OwnerID: callerID, SlotID: slotID}, nil
}
