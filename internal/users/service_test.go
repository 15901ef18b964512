package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tsudoi-app/tsudoi/backend/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tsudoi_users_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	return db
}

func TestResolveCanonicalUserIDCreatesIdentityOnce(t *testing.T) {
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1, 0) },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	claims := auth.IdentityClaims{
		Issuer:      "https://idp.example.com",
		Subject:     "subject-12345",
		Email:       "user@example.com",
		DisplayName: "Example User",
		AvatarURL:   "https://example.com/avatar.png",
	}

	userID, err := service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "subject-12345" {
		t.Fatalf("unexpected canonical id %q", userID)
	}

	// Second resolve hits the cache and must not create a duplicate row.
	again, err := service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again != userID {
		t.Fatalf("expected stable canonical id, got %q", again)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count identities: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one identity row, got %d", count)
	}
}

func TestResolveCanonicalUserIDRejectsEmptySubject(t *testing.T) {
	service, err := NewService(ServiceConfig{Database: newTestDB(t)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := service.ResolveCanonicalUserID(context.Background(), auth.IdentityClaims{}); err != ErrInvalidIdentity {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestProfilesReturnsStoredProjections(t *testing.T) {
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	identity := Identity{
		Provider:    "default",
		Subject:     "subject-1",
		UserID:      "user-1",
		DisplayName: "Alice",
		AvatarURL:   "https://example.com/a.png",
	}
	if err := db.Create(&identity).Error; err != nil {
		t.Fatalf("failed to seed identity: %v", err)
	}

	profiles, err := service.Profiles(context.Background(), []string{"user-1", "user-unknown"})
	if err != nil {
		t.Fatalf("profiles failed: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected one profile, got %d", len(profiles))
	}
	if got := profiles["user-1"]; got.DisplayName != "Alice" {
		t.Fatalf("unexpected profile %+v", got)
	}
}
