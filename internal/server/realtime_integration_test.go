package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestEventStreamEmitsResponseChanges(t *testing.T) {
	env := newTestEnvironment(t)
	ownerToken := env.tokenFor(t, "user-owner")

	circle := env.createCircle(t, ownerToken, "board games")
	event := env.createEvent(t, ownerToken, circle.ID, time.Now().Add(24*time.Hour).UTC())

	detailResponse := env.do(t, http.MethodGet, "/api/events/"+event.ID, ownerToken, nil)
	detail := decodeBody[eventDetailPayload](t, detailResponse)
	slotID := detail.Slots[0].ID

	streamRequest, err := http.NewRequest(http.MethodGet,
		env.server.URL+"/api/events/"+event.ID+"/stream?access_token="+ownerToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResponse.Body.Close()
	})
	if streamResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResponse.StatusCode)
	}
	if contentType := streamResponse.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	streamReader := bufio.NewReader(streamResponse.Body)

	advanceResponse := env.do(t, http.MethodPost,
		"/api/events/"+event.ID+"/slots/"+slotID+"/advance", ownerToken, nil)
	if advanceResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected advance status: %d", advanceResponse.StatusCode)
	}
	_ = advanceResponse.Body.Close()

	currentEventType := ""
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for response-change event")
		case result := <-resultCh:
			if result.err != nil {
				t.Fatalf("failed to read stream: %v", result.err)
			}
			line := strings.TrimSpace(result.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != RealtimeEventResponseChanged {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var payload streamDataPayload
			if err := json.Unmarshal([]byte(dataJSON), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.EventID != event.ID || payload.SlotID != slotID {
				t.Fatalf("unexpected change payload: %#v", payload)
			}
			if payload.UserID != "user-owner" || payload.Action != "insert" {
				t.Fatalf("unexpected change payload: %#v", payload)
			}
			return
		}
	}
}

func TestEventStreamRequiresMembership(t *testing.T) {
	env := newTestEnvironment(t)
	ownerToken := env.tokenFor(t, "user-owner")
	outsiderToken := env.tokenFor(t, "user-outsider")

	circle := env.createCircle(t, ownerToken, "choir")
	event := env.createEvent(t, ownerToken, circle.ID, time.Now().Add(24*time.Hour).UTC())

	response := env.do(t, http.MethodGet, "/api/events/"+event.ID+"/stream", outsiderToken, nil)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member stream, got %d", response.StatusCode)
	}
}
