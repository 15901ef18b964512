package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tsudoi-app/tsudoi/backend/internal/auth"
	"github.com/tsudoi-app/tsudoi/backend/internal/circles"
	"github.com/tsudoi-app/tsudoi/backend/internal/database"
	"github.com/tsudoi-app/tsudoi/backend/internal/events"
	"github.com/tsudoi-app/tsudoi/backend/internal/users"
	"go.uber.org/zap"
)

type stubVerifier struct {
	claims auth.IdentityClaims
}

func (v stubVerifier) Verify(_ context.Context, _ string) (auth.IdentityClaims, error) {
	return v.claims, nil
}

type testEnvironment struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
	users      *users.Service
	circles    *circles.Service
	events     *events.Service
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()

	dsn := fmt.Sprintf("file:tsudoi_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	idProvider := events.NewUUIDProvider()
	circleService, err := circles.NewService(circles.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
	})
	if err != nil {
		t.Fatalf("failed to construct circles service: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	eventService, err := events.NewService(events.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Members:    circleService,
		Notifier:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct events service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "tsudoi-auth",
		Audience:      "tsudoi-api",
		TokenTTL:      time.Minute,
	})

	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: stubVerifier{claims: auth.IdentityClaims{Subject: "stub-subject"}},
		TokenManager:     issuer,
		UsersService:     userService,
		CirclesService:   circleService,
		EventsService:    eventService,
		Realtime:         dispatcher,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnvironment{
		server:     server,
		issuer:     issuer,
		dispatcher: dispatcher,
		users:      userService,
		circles:    circleService,
		events:     eventService,
	}
}

func (env *testEnvironment) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := env.issuer.IssueBackendToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token for %s: %v", userID, err)
	}
	return token
}

func (env *testEnvironment) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return response
}

func decodeBody[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	defer func() {
		_ = response.Body.Close()
	}()
	var payload T
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return payload
}

func (env *testEnvironment) createCircle(t *testing.T, token, name string) circlePayload {
	t.Helper()
	response := env.do(t, http.MethodPost, "/api/circles", token, map[string]any{"name": name})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create-circle status: %d", response.StatusCode)
	}
	return decodeBody[circlePayload](t, response)
}

func (env *testEnvironment) createEvent(t *testing.T, token, circleID string, slotStarts ...time.Time) eventPayload {
	t.Helper()
	slots := make([]map[string]any, 0, len(slotStarts))
	for _, start := range slotStarts {
		slots = append(slots, map[string]any{"start_time": start.Format(time.RFC3339)})
	}
	response := env.do(t, http.MethodPost, "/api/circles/"+circleID+"/events", token, map[string]any{
		"title": "scheduling poll",
		"slots": slots,
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create-event status: %d", response.StatusCode)
	}
	return decodeBody[eventPayload](t, response)
}
