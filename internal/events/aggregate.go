package events

// SlotTally counts the stored answers for one slot across all participants.
// Unanswered cells never contribute.
type SlotTally struct {
	SlotID      string
	Available   int
	Tentative   int
	Unavailable int
}

type gridCell struct {
	userID string
	slotID string
}

// Grid is the aggregated user×slot response matrix for one event.
type Grid struct {
	// Participants lists every user with at least one stored response plus
	// the viewer, viewer first, remaining order first-seen.
	Participants []string
	// SlotOrder mirrors the slot ordering the grid was built with.
	SlotOrder []string
	// Tallies holds one entry per slot, in SlotOrder.
	Tallies []SlotTally

	cells map[gridCell]ResponseValue
	// DuplicateRows counts input rows dropped because an earlier row already
	// claimed the same (user, slot) cell. The store-level uniqueness
	// constraint should keep this at zero.
	DuplicateRows int
}

// Response answers "what did user U say about slot S" in O(1).
func (g *Grid) Response(userID, slotID string) ResponseState {
	if value, ok := g.cells[gridCell{userID: userID, slotID: slotID}]; ok {
		return Answered(value)
	}
	return Unanswered
}

// BuildGrid folds the flat response list for one event into the display
// matrix. Slots are expected pre-sorted by start time (the store guarantees
// this); responses may arrive in any order. The viewer is always included as
// a participant, even with zero stored rows, so they can begin answering.
// Duplicate rows for one cell keep the first-seen value.
func BuildGrid(slots []EventSlot, responses []EventResponse, viewerID string) *Grid {
	grid := &Grid{
		Participants: make([]string, 0, 4),
		SlotOrder:    make([]string, 0, len(slots)),
		Tallies:      make([]SlotTally, 0, len(slots)),
		cells:        make(map[gridCell]ResponseValue, len(responses)),
	}

	if viewerID != "" {
		grid.Participants = append(grid.Participants, viewerID)
	}
	seenUsers := map[string]bool{viewerID: viewerID != ""}

	for _, row := range responses {
		if !seenUsers[row.UserID] {
			seenUsers[row.UserID] = true
			grid.Participants = append(grid.Participants, row.UserID)
		}
		cell := gridCell{userID: row.UserID, slotID: row.SlotID}
		if _, taken := grid.cells[cell]; taken {
			grid.DuplicateRows++
			continue
		}
		value, err := ParseResponseValue(row.Response)
		if err != nil {
			continue
		}
		grid.cells[cell] = value
	}

	for _, slot := range slots {
		tally := SlotTally{SlotID: slot.ID}
		for _, userID := range grid.Participants {
			switch value, ok := grid.cells[gridCell{userID: userID, slotID: slot.ID}]; {
			case !ok:
			case value == ResponseAvailable:
				tally.Available++
			case value == ResponseTentative:
				tally.Tentative++
			case value == ResponseUnavailable:
				tally.Unavailable++
			}
		}
		grid.SlotOrder = append(grid.SlotOrder, slot.ID)
		grid.Tallies = append(grid.Tallies, tally)
	}

	return grid
}
