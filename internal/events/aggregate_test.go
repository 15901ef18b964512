package events

import (
	"testing"
	"time"
)

func testSlot(id string, start time.Time) EventSlot {
	return EventSlot{ID: id, EventID: "event-1", StartTime: start}
}

func testResponse(userID, slotID, value string) EventResponse {
	return EventResponse{
		ID:       userID + ":" + slotID,
		EventID:  "event-1",
		UserID:   userID,
		SlotID:   slotID,
		Response: value,
	}
}

func TestBuildGridComputesPerSlotTallies(t *testing.T) {
	base := time.Date(2024, 12, 20, 18, 0, 0, 0, time.UTC)
	slots := []EventSlot{
		testSlot("slot-1", base),
		testSlot("slot-2", base.Add(24*time.Hour)),
	}
	responses := []EventResponse{
		testResponse("user-1", "slot-1", "available"),
		testResponse("user-1", "slot-2", "tentative"),
		testResponse("user-2", "slot-1", "unavailable"),
	}

	grid := BuildGrid(slots, responses, "user-1")

	if len(grid.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %v", grid.Participants)
	}
	if grid.Participants[0] != "user-1" || grid.Participants[1] != "user-2" {
		t.Fatalf("unexpected participant order: %v", grid.Participants)
	}

	if len(grid.Tallies) != 2 {
		t.Fatalf("expected 2 tallies, got %d", len(grid.Tallies))
	}
	first := grid.Tallies[0]
	if first.Available != 1 || first.Tentative != 0 || first.Unavailable != 1 {
		t.Fatalf("unexpected slot-1 tally: %+v", first)
	}
	second := grid.Tallies[1]
	if second.Available != 0 || second.Tentative != 1 || second.Unavailable != 0 {
		t.Fatalf("unexpected slot-2 tally: %+v", second)
	}
}

func TestBuildGridAnswersCellLookups(t *testing.T) {
	slots := []EventSlot{testSlot("slot-1", time.Now().UTC())}
	responses := []EventResponse{testResponse("user-2", "slot-1", "unavailable")}

	grid := BuildGrid(slots, responses, "user-1")

	got := grid.Response("user-2", "slot-1")
	if !got.Answered || got.Value != ResponseUnavailable {
		t.Fatalf("expected unavailable, got %+v", got)
	}
	if grid.Response("user-1", "slot-1") != Unanswered {
		t.Fatalf("expected viewer cell to be unanswered")
	}
	if grid.Response("user-2", "slot-none") != Unanswered {
		t.Fatalf("expected unknown slot lookup to be unanswered")
	}
}

func TestBuildGridAlwaysIncludesViewer(t *testing.T) {
	slots := []EventSlot{testSlot("slot-1", time.Now().UTC())}
	responses := []EventResponse{testResponse("user-2", "slot-1", "available")}

	grid := BuildGrid(slots, responses, "user-9")

	if len(grid.Participants) != 2 || grid.Participants[0] != "user-9" {
		t.Fatalf("expected viewer first, got %v", grid.Participants)
	}
	if grid.Response("user-9", "slot-1") != Unanswered {
		t.Fatalf("expected viewer with no rows to show unanswered cells")
	}
}

func TestBuildGridViewerNotDuplicatedWhenResponding(t *testing.T) {
	slots := []EventSlot{testSlot("slot-1", time.Now().UTC())}
	responses := []EventResponse{
		testResponse("user-2", "slot-1", "available"),
		testResponse("user-1", "slot-1", "tentative"),
	}

	grid := BuildGrid(slots, responses, "user-1")

	if len(grid.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %v", grid.Participants)
	}
	if grid.Participants[0] != "user-1" {
		t.Fatalf("expected viewer sorted first, got %v", grid.Participants)
	}
}

func TestBuildGridWithZeroSlots(t *testing.T) {
	grid := BuildGrid(nil, nil, "user-1")

	if len(grid.Tallies) != 0 {
		t.Fatalf("expected no tallies, got %d", len(grid.Tallies))
	}
	if len(grid.Participants) != 1 {
		t.Fatalf("expected only the viewer, got %v", grid.Participants)
	}
}

func TestBuildGridKeepsFirstSeenDuplicate(t *testing.T) {
	slots := []EventSlot{testSlot("slot-1", time.Now().UTC())}
	responses := []EventResponse{
		testResponse("user-1", "slot-1", "available"),
		testResponse("user-1", "slot-1", "unavailable"),
	}

	grid := BuildGrid(slots, responses, "user-1")

	got := grid.Response("user-1", "slot-1")
	if !got.Answered || got.Value != ResponseAvailable {
		t.Fatalf("expected first-seen value to win, got %+v", got)
	}
	if grid.DuplicateRows != 1 {
		t.Fatalf("expected one duplicate recorded, got %d", grid.DuplicateRows)
	}
	if grid.Tallies[0].Available != 1 || grid.Tallies[0].Unavailable != 0 {
		t.Fatalf("duplicate must not be summed into tallies: %+v", grid.Tallies[0])
	}
}
