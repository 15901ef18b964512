package events

// Summary carries the lightweight per-event counts shown in list views.
type Summary struct {
	// SlotCount is the number of candidate slots the event proposes.
	SlotCount int
	// ResponseUserCount is the number of distinct users with at least one
	// stored response, regardless of how many slots each answered.
	ResponseUserCount int
}

// slotRef and responseRef are the projected rows the summary computation
// needs; the service fetches them in two bulk queries across all listed
// events rather than one round-trip per event.
type slotRef struct {
	EventID string `gorm:"column:event_id"`
}

type responseRef struct {
	EventID string `gorm:"column:event_id"`
	UserID  string `gorm:"column:user_id"`
}

// summarize folds bulk slot and response projections into per-event counts.
// Every requested event id gets an entry, zero-valued when it has no rows.
func summarize(eventIDs []string, slots []slotRef, responses []responseRef) map[string]Summary {
	summaries := make(map[string]Summary, len(eventIDs))
	for _, eventID := range eventIDs {
		summaries[eventID] = Summary{}
	}

	for _, slot := range slots {
		summary, ok := summaries[slot.EventID]
		if !ok {
			continue
		}
		summary.SlotCount++
		summaries[slot.EventID] = summary
	}

	respondersByEvent := make(map[string]map[string]struct{}, len(eventIDs))
	for _, response := range responses {
		if _, ok := summaries[response.EventID]; !ok {
			continue
		}
		responders := respondersByEvent[response.EventID]
		if responders == nil {
			responders = make(map[string]struct{})
			respondersByEvent[response.EventID] = responders
		}
		responders[response.UserID] = struct{}{}
	}
	for eventID, responders := range respondersByEvent {
		summary := summaries[eventID]
		summary.ResponseUserCount = len(responders)
		summaries[eventID] = summary
	}

	return summaries
}
